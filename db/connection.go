// Package db ties the engine together behind a single-connection API:
// parse, plan, execute, and wrap every statement in a transaction.
package db

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/exec"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

const DefaultBusyTimeout = 5 * time.Second

type Options struct {
	// BusyTimeout bounds lock acquisition before a statement fails BUSY.
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

type Result = exec.Result

// A connection runs one statement at a time:
//
//	IDLE --BEGIN--> IN_TXN --COMMIT/ROLLBACK--> IDLE
//	IDLE --auto stmt--> IDLE (implicit begin+commit)
//	IN_TXN --stmt error--> ABORTED --ROLLBACK--> IDLE
type txnState int

const (
	stateIdle txnState = iota
	stateInTxn
	stateAborted
)

// Open opens (or creates) the database file, recovering from a hot
// journal if one is present.
func Open(path string, opts Options) (*DB, error) {
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("conn", uuid.NewString()[:8]), zap.String("db", path))

	p, err := pager.Open(path, opts.BusyTimeout, log)
	if err != nil {
		return nil, err
	}

	log.Info("database opened")
	return &DB{
		pager: p,
		cat:   catalog.New(p),
		log:   log,
	}, nil
}

// Exec parses and runs one statement. Outside an explicit transaction the
// statement is wrapped in its own begin/commit, rolled back on error.
func (db *DB) Exec(sqlText string) (*Result, error) {
	stmt, err := sql.Parse(sqlText)
	if err != nil {
		return nil, err
	}

	switch stmt.(type) {
	case *sql.BeginStmt:
		return db.execBegin()
	case *sql.CommitStmt:
		return db.execCommit()
	case *sql.RollbackStmt:
		return db.execRollback()
	}

	switch db.state {
	case stateAborted:
		return nil, util.Errorf(util.SCHEMA, "transaction is aborted, only ROLLBACK is accepted")

	case stateInTxn:
		result, err := db.runStatement(stmt)
		if err != nil && aborts(err) {
			db.state = stateAborted
			db.log.Warn("statement failed, transaction aborted", zap.Error(err))
		}
		return result, err

	default:
		return db.runAutoCommit(stmt)
	}
}

func (db *DB) execBegin() (*Result, error) {
	switch db.state {
	case stateInTxn:
		return nil, util.Errorf(util.SCHEMA, "cannot BEGIN inside a transaction")
	case stateAborted:
		return nil, util.Errorf(util.SCHEMA, "transaction is aborted, only ROLLBACK is accepted")
	}

	if err := db.beginTxn(); err != nil {
		return nil, err
	}
	db.state = stateInTxn
	return &Result{}, nil
}

func (db *DB) execCommit() (*Result, error) {
	switch db.state {
	case stateIdle:
		return nil, util.Errorf(util.SCHEMA, "no transaction is active")
	case stateAborted:
		return nil, util.Errorf(util.SCHEMA, "transaction is aborted, only ROLLBACK is accepted")
	}

	if err := db.pager.Commit(); err != nil {
		return nil, err
	}
	db.state = stateIdle
	return &Result{}, nil
}

func (db *DB) execRollback() (*Result, error) {
	if db.state == stateIdle {
		return nil, util.Errorf(util.SCHEMA, "no transaction is active")
	}

	err := db.pager.Rollback()
	db.state = stateIdle
	// rolled-back DDL leaves the in-memory schema dictionary stale
	db.cat.Invalidate()
	if err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (db *DB) runAutoCommit(stmt sql.Statement) (*Result, error) {
	if err := db.beginTxn(); err != nil {
		return nil, err
	}

	result, err := db.runStatement(stmt)
	if err != nil {
		db.pager.Rollback()
		db.cat.Invalidate()
		return nil, err
	}

	if err := db.pager.Commit(); err != nil {
		db.pager.Rollback()
		db.cat.Invalidate()
		return nil, err
	}
	return result, nil
}

// beginTxn starts a pager transaction and reloads the schema dictionary
// when the schema counter says another connection changed it.
func (db *DB) beginTxn() error {
	schemaChanged, err := db.pager.Begin()
	if err != nil {
		return err
	}

	if schemaChanged || !db.cat.Loaded() {
		if err := db.cat.Load(); err != nil {
			db.pager.Rollback()
			return err
		}
	}
	return nil
}

func (db *DB) runStatement(stmt sql.Statement) (*Result, error) {
	ctx := &exec.Context{Pager: db.pager, Cat: db.cat}
	return exec.Run(ctx, stmt)
}

// aborts reports whether an execution error poisons an explicit
// transaction. BUSY is retryable and leaves the transaction usable.
func aborts(err error) bool {
	return !util.IsKind(err, util.BUSY)
}

// Tables lists user tables for the .tables meta-command, inside the
// current transaction or a read transaction of its own.
func (db *DB) Tables() ([]string, error) {
	if db.state == stateInTxn {
		return db.cat.TableNames(), nil
	}
	if db.state == stateAborted {
		return nil, util.Errorf(util.SCHEMA, "transaction is aborted, only ROLLBACK is accepted")
	}

	if err := db.beginTxn(); err != nil {
		return nil, err
	}
	names := db.cat.TableNames()
	if err := db.pager.Commit(); err != nil {
		return nil, err
	}
	return names, nil
}

func (db *DB) InTransaction() bool {
	return db.state != stateIdle
}

// Close rolls back any open transaction and releases the file.
func (db *DB) Close() error {
	if db.state != stateIdle {
		db.pager.Rollback()
		db.state = stateIdle
	}
	err := db.pager.Close()
	db.log.Info("database closed")
	return err
}

type DB struct {
	pager *pager.Pager
	cat   *catalog.Catalog
	log   *zap.Logger
	state txnState
}
