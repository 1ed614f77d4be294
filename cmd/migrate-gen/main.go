// Command migrate-gen generates SQL migration files for the log and the
// order ledger.
//
// Usage:
//
//	go run github.com/tranq-io/tranq/cmd/migrate-gen -output migrations
//
// Or with go generate:
//
//	//go:generate go run github.com/tranq-io/tranq/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/tranq-io/tranq/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/tranq-io/tranq/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/tranq-io/tranq/cmd/migrate-gen -adapter sqlite -output migrations
//
// The ledger tables reference the log's records table, so the log migration
// must run first.
package main

import (
	"flag"
	"fmt"
	"os"

	ledgermigrations "github.com/tranq-io/tranq/orders/migrations"
	logmigrations "github.com/tranq-io/tranq/tq/migrations"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", "migrations", "Output folder for migration files")
		logFilename    = flag.String("log-filename", "", "Log migration filename (default: timestamp-based)")
		ledgerFilename = flag.String("ledger-filename", "", "Ledger migration filename (default: timestamp-based)")
		recordsTable   = flag.String("records-table", "records", "Name of the records table")
		topicsTable    = flag.String("topics-table", "topics", "Name of the topics table")
	)

	flag.Parse()

	logConfig := logmigrations.DefaultConfig()
	logConfig.OutputFolder = *outputFolder
	logConfig.RecordsTable = *recordsTable
	logConfig.TopicsTable = *topicsTable
	if *logFilename != "" {
		logConfig.OutputFilename = *logFilename
	}

	ledgerConfig := ledgermigrations.DefaultConfig()
	ledgerConfig.OutputFolder = *outputFolder
	ledgerConfig.RecordsTable = *recordsTable
	if *ledgerFilename != "" {
		ledgerConfig.OutputFilename = *ledgerFilename
	}

	var logErr, ledgerErr error
	switch *adapter {
	case "postgres":
		logErr = logmigrations.GeneratePostgres(&logConfig)
		ledgerErr = ledgermigrations.GeneratePostgres(&ledgerConfig)
	case "mysql":
		logErr = logmigrations.GenerateMySQL(&logConfig)
		ledgerErr = ledgermigrations.GenerateMySQL(&ledgerConfig)
	case "sqlite":
		logErr = logmigrations.GenerateSQLite(&logConfig)
		ledgerErr = ledgermigrations.GenerateSQLite(&ledgerConfig)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Error generating log migration: %v\n", logErr)
		os.Exit(1)
	}
	if ledgerErr != nil {
		fmt.Fprintf(os.Stderr, "Error generating ledger migration: %v\n", ledgerErr)
		os.Exit(1)
	}

	fmt.Printf("Generated %s log migration: %s/%s\n", *adapter, logConfig.OutputFolder, logConfig.OutputFilename)
	fmt.Printf("Generated %s ledger migration: %s/%s\n", *adapter, ledgerConfig.OutputFolder, ledgerConfig.OutputFilename)
}
