// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/cobaltcore-dev/conductor/pkg/db/testing/containers"
	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type DBEnv struct {
	*gorp.DbMap
	Close func()
}

// SetupDBEnv opens an empty database for the test: sqlite in a temporary
// directory, or a postgres container if POSTGRES_CONTAINER=1.
func SetupDBEnv(t *testing.T) DBEnv {
	var env DBEnv
	// To run tests faster, the default is running with sqlite.
	if os.Getenv("POSTGRES_CONTAINER") == "1" {
		slog.Info("Using real postgres container")
		dbURL, err := containers.URL(containers.StartPostgres(t))
		if err != nil {
			t.Fatal(err)
		}
		sqlDB, err := sql.Open("postgres", dbURL)
		if err != nil {
			t.Fatal(err)
		}
		env.DbMap = &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
		env.Close = func() { sqlDB.Close() }
	} else {
		slog.Info("Using sqlite")
		tmpDir := t.TempDir()
		sqlDB, err := sql.Open("sqlite3", tmpDir+"/test.db")
		if err != nil {
			t.Fatal(err)
		}
		// Sqlite does not like concurrent writers on the same file.
		sqlDB.SetMaxOpenConns(1)
		env.DbMap = &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
		env.Close = func() { sqlDB.Close() }
	}
	if os.Getenv("GORP_TRACE") == "1" {
		env.TraceOn("[gorp]", log.New(os.Stdout, "conductor:", log.Lmicroseconds))
	}
	return env
}
