package sql

import (
	"strconv"
	"strings"

	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/util"
)

// Parse turns one SQL statement into its AST. A trailing semicolon is
// accepted; anything after it is a syntax error.
func Parse(input string) (Statement, error) {
	lex := newLexer(input)

	var tokens []Token
	for {
		tok, err := lex.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}

	p := &parser{tokens: tokens}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	if p.peek().IsSymbol(";") {
		p.next()
	}
	if p.peek().Type != TOKEN_EOF {
		return nil, p.errorf("unexpected %q", p.peek().Text)
	}

	return stmt, nil
}

func (p *parser) parseStatement() (Statement, error) {
	tok := p.peek()
	switch {
	case tok.IsKeyword("SELECT"), tok.IsKeyword("WITH"):
		return p.parseSelect()
	case tok.IsKeyword("CREATE"):
		return p.parseCreate()
	case tok.IsKeyword("INSERT"):
		return p.parseInsert()
	case tok.IsKeyword("UPDATE"):
		return p.parseUpdate()
	case tok.IsKeyword("DELETE"):
		return p.parseDelete()
	case tok.IsKeyword("BEGIN"):
		p.next()
		if p.peek().IsKeyword("TRANSACTION") {
			p.next()
		}
		return &BeginStmt{}, nil
	case tok.IsKeyword("COMMIT"):
		p.next()
		return &CommitStmt{}, nil
	case tok.IsKeyword("ROLLBACK"):
		p.next()
		return &RollbackStmt{}, nil
	}
	return nil, p.errorf("unsupported statement starting with %q", tok.Text)
}

func (p *parser) parseCreate() (Statement, error) {
	p.next() // CREATE

	switch {
	case p.peek().IsKeyword("TABLE"):
		p.next()
		return p.parseCreateTable()
	case p.peek().IsKeyword("INDEX"):
		p.next()
		return p.parseCreateIndex()
	}
	return nil, p.errorf("expected TABLE or INDEX after CREATE")
}

func (p *parser) parseCreateTable() (Statement, error) {
	name, err := p.ident("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	stmt := &CreateTableStmt{Table: name}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, *col)

		if p.peek().IsSymbol(",") {
			p.next()
			continue
		}
		break
	}

	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseColumnDef() (*ColumnDef, error) {
	name, err := p.ident("column name")
	if err != nil {
		return nil, err
	}

	typeTok := p.next()
	var kind record.Kind
	switch {
	case typeTok.IsKeyword("INT"):
		kind = record.KindInt
	case typeTok.IsKeyword("STR"):
		kind = record.KindStr
	default:
		return nil, p.errorf("unknown column type %q", typeTok.Text)
	}

	col := &ColumnDef{Name: name, Type: kind}
	for {
		switch {
		case p.peek().IsKeyword("PRIMARY"):
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			col.PrimaryKey = true
		case p.peek().IsKeyword("NOT"):
			p.next()
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			col.NotNull = true
		default:
			return col, nil
		}
	}
}

func (p *parser) parseCreateIndex() (Statement, error) {
	name, err := p.ident("index name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.ident("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	column, err := p.ident("column name")
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}

	return &CreateIndexStmt{Name: name, Table: table, Column: column}, nil
}

func (p *parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	stmt := &InsertStmt{Table: table}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}

		var row []record.Value
		for {
			val, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			row = append(row, val)

			if p.peek().IsSymbol(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)

		if p.peek().IsSymbol(",") {
			p.next()
			continue
		}
		return stmt, nil
	}
}

func (p *parser) parseUpdate() (Statement, error) {
	p.next() // UPDATE
	table, err := p.ident("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	stmt := &UpdateStmt{Table: table}
	for {
		col, err := p.ident("column name")
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Column: col, Value: val})

		if p.peek().IsSymbol(",") {
			p.next()
			continue
		}
		break
	}

	if p.peek().IsKeyword("WHERE") {
		p.next()
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident("table name")
	if err != nil {
		return nil, err
	}

	stmt := &DeleteStmt{Table: table}
	if p.peek().IsKeyword("WHERE") {
		p.next()
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseSelect() (*SelectStmt, error) {
	var ctes []CTE

	if p.peek().IsKeyword("WITH") {
		p.next()
		for {
			name, err := p.ident("CTE name")
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			query, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			ctes = append(ctes, CTE{Name: name, Query: query})

			if p.peek().IsSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}

	stmt, err := p.parseSelectCore()
	if err != nil {
		return nil, err
	}
	stmt.CTEs = ctes
	return stmt, nil
}

func (p *parser) parseSelectCore() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	stmt := &SelectStmt{}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, *item)

		if p.peek().IsSymbol(",") {
			p.next()
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = *from

joins:
	for {
		kind := JOIN_INNER
		switch {
		case p.peek().IsKeyword("INNER"):
			p.next()
		case p.peek().IsKeyword("LEFT"):
			p.next()
			kind = JOIN_LEFT
		case p.peek().IsKeyword("JOIN"):
		default:
			break joins
		}

		if err := p.expectKeyword("JOIN"); err != nil {
			return nil, err
		}
		table, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		on, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, JoinClause{Kind: kind, Table: *table, On: on})
	}

	if p.peek().IsKeyword("WHERE") {
		p.next()
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if p.peek().IsKeyword("GROUP") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, col)

			if p.peek().IsSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}

	if p.peek().IsKeyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			key := OrderKey{Column: col}
			if p.peek().IsKeyword("ASC") {
				p.next()
			} else if p.peek().IsKeyword("DESC") {
				p.next()
				key.Desc = true
			}
			stmt.OrderBy = append(stmt.OrderBy, key)

			if p.peek().IsSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}

	return stmt, nil
}

func (p *parser) parseSelectItem() (*SelectItem, error) {
	if p.peek().IsSymbol("*") {
		p.next()
		return &SelectItem{Star: true}, nil
	}

	var expr Expr
	if agg := p.peekAggregate(); agg != "" {
		parsed, err := p.parseAggregate(agg)
		if err != nil {
			return nil, err
		}
		expr = parsed
	} else {
		col, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		expr = col
	}

	item := &SelectItem{Expr: expr}
	if p.peek().IsKeyword("AS") {
		p.next()
		alias, err := p.ident("alias")
		if err != nil {
			return nil, err
		}
		item.Alias = alias
	}
	return item, nil
}

func (p *parser) peekAggregate() string {
	tok := p.peek()
	if tok.Type != TOKEN_IDENT || !p.peekAt(1).IsSymbol("(") {
		return ""
	}

	name := strings.ToUpper(tok.Text)
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return name
	}
	return ""
}

func (p *parser) parseAggregate(name string) (*AggregateExpr, error) {
	p.next() // function name
	p.next() // (

	agg := &AggregateExpr{Func: name}
	if p.peek().IsSymbol("*") {
		if name != "COUNT" {
			return nil, p.errorf("%s(*) is not supported, only COUNT(*)", name)
		}
		p.next()
		agg.Star = true
	} else {
		col, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		agg.Arg = col
	}

	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return agg, nil
}

func (p *parser) parseTableRef() (*TableRef, error) {
	name, err := p.ident("table name")
	if err != nil {
		return nil, err
	}

	ref := &TableRef{Name: name}
	if p.peek().IsKeyword("AS") {
		p.next()
		if ref.Alias, err = p.ident("alias"); err != nil {
			return nil, err
		}
		return ref, nil
	}

	if tok := p.peek(); tok.Type == TOKEN_IDENT && !isClauseKeyword(tok) {
		ref.Alias = tok.Text
		p.next()
	}
	return ref, nil
}

func isClauseKeyword(tok Token) bool {
	for _, word := range []string{
		"INNER", "LEFT", "JOIN", "ON", "WHERE", "GROUP", "ORDER", "BY", "AS",
	} {
		if tok.IsKeyword(word) {
			return true
		}
	}
	return false
}

// parseExpr parses a disjunction of conjunctions of comparisons.
func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().IsKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.peek().IsKeyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().IsKeyword("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	if tok.Type == TOKEN_SYMBOL {
		switch tok.Text {
		case "=", "!=", "<", "<=", ">", ">=":
			p.next()
			right, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &BinaryExpr{Op: tok.Text, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseOperand() (Expr, error) {
	tok := p.peek()
	switch {
	case tok.IsSymbol("("):
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tok.Type == TOKEN_INT, tok.Type == TOKEN_STRING,
		tok.IsKeyword("NULL"), tok.IsSymbol("-"):
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &Literal{Value: val}, nil

	case tok.Type == TOKEN_IDENT:
		return p.parseColumnRef()
	}

	return nil, p.errorf("unexpected %q in expression", tok.Text)
}

func (p *parser) parseColumnRef() (*ColumnRef, error) {
	name, err := p.ident("column name")
	if err != nil {
		return nil, err
	}

	ref := &ColumnRef{Name: name}
	if p.peek().IsSymbol(".") {
		p.next()
		ref.Table = name
		if ref.Name, err = p.ident("column name"); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

func (p *parser) parseLiteral() (record.Value, error) {
	tok := p.next()
	switch {
	case tok.Type == TOKEN_INT:
		i, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return record.Value{}, p.errorf("integer literal %q out of range", tok.Text)
		}
		return record.Int(i), nil

	case tok.IsSymbol("-"):
		numTok := p.next()
		if numTok.Type != TOKEN_INT {
			return record.Value{}, p.errorf("expected integer after '-'")
		}
		i, err := strconv.ParseInt("-"+numTok.Text, 10, 64)
		if err != nil {
			return record.Value{}, p.errorf("integer literal -%q out of range", numTok.Text)
		}
		return record.Int(i), nil

	case tok.Type == TOKEN_STRING:
		return record.Str(tok.Text), nil

	case tok.IsKeyword("NULL"):
		return record.Null(), nil
	}

	return record.Value{}, p.errorf("expected a literal, got %q", tok.Text)
}

func (p *parser) peek() Token {
	return p.peekAt(0)
}

func (p *parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) ident(what string) (string, error) {
	tok := p.peek()
	if tok.Type != TOKEN_IDENT {
		return "", p.errorf("expected %s, got %q", what, tok.Text)
	}
	p.next()
	return tok.Text, nil
}

func (p *parser) expectKeyword(word string) error {
	if !p.peek().IsKeyword(word) {
		return p.errorf("expected %s, got %q", word, p.peek().Text)
	}
	p.next()
	return nil
}

func (p *parser) expectSymbol(sym string) error {
	if !p.peek().IsSymbol(sym) {
		return p.errorf("expected %q, got %q", sym, p.peek().Text)
	}
	p.next()
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	pos := p.peek().Pos
	return util.Errorf(util.SYNTAX, format+" at position %d", append(args, pos)...)
}

type parser struct {
	tokens []Token
	pos    int
}
