// Command pysqlite is the line-oriented REPL over one database file.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"

	"github.com/jobala/pysqlite/db"
	"github.com/jobala/pysqlite/exec"
	"github.com/jobala/pysqlite/logger"
)

const version = "1.2.0"

var CLI struct {
	DBFile      string        `arg:"" help:"Path to the database file." type:"path"`
	BusyTimeout time.Duration `help:"How long to wait on a locked database." default:"5s"`
	LogLevel    string        `help:"Log level (debug, info, warn, error)." default:"warn"`
	LogFormat   string        `help:"Log format (console or json)." default:"console"`
}

func main() {
	parser := kong.Must(&CLI,
		kong.Name("pysqlite"),
		kong.Description("A simple SQLite-like database."),
	)
	if _, err := parser.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pysqlite: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{
		Level:      CLI.LogLevel,
		Format:     CLI.LogFormat,
		OutputFile: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pysqlite: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	database, err := db.Open(CLI.DBFile, db.Options{
		BusyTimeout: CLI.BusyTimeout,
		Logger:      log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "pysqlite> ",
		HistoryFile: CLI.DBFile + ".history",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	absPath, _ := filepath.Abs(CLI.DBFile)
	fmt.Printf("pysqlite version %s\n", version)
	fmt.Printf("Connected to database at '%s'.\n", absPath)
	fmt.Println("Enter '.exit' to quit or '.tables' to list tables.")

	repl(database, rl)
	fmt.Println("\nExiting pysqlite. Goodbye!")
}

func repl(database *db.DB, rl *readline.Instance) {
	var pending strings.Builder

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			pending.Reset()
			rl.SetPrompt("pysqlite> ")
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		trimmed := strings.TrimSpace(line)
		if pending.Len() == 0 {
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ".") {
				if quit := runMetaCommand(database, trimmed); quit {
					return
				}
				continue
			}
		}

		pending.WriteString(line)
		pending.WriteString("\n")

		// statements end at ';'
		if !strings.HasSuffix(trimmed, ";") {
			rl.SetPrompt("     ...> ")
			continue
		}

		statement := pending.String()
		pending.Reset()
		rl.SetPrompt("pysqlite> ")

		result, err := database.Exec(statement)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printResult(result)
	}
}

func runMetaCommand(database *db.DB, command string) (quit bool) {
	switch strings.ToLower(command) {
	case ".exit":
		return true

	case ".tables":
		tables, err := database.Tables()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		if len(tables) == 0 {
			fmt.Println("(no tables found)")
			return false
		}
		for _, name := range tables {
			fmt.Println(name)
		}
		return false
	}

	fmt.Printf("Unknown command: %s\n", command)
	return false
}

func printResult(result *exec.Result) {
	if result.Columns == nil {
		if result.Message != "" {
			fmt.Println(result.Message)
		}
		return
	}

	if len(result.Rows) == 0 {
		fmt.Println("(no rows)")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(result.Columns)
	table.SetAutoFormatHeaders(false)

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, val := range row {
			cells[i] = val.String()
		}
		table.Append(cells)
	}
	table.Render()
}
