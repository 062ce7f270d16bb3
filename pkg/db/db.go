// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cobaltcore-dev/conductor/pkg/conf"
	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/jobloop"
)

// Wrapper around gorp.DbMap that adds some convenience functions.
type DB struct {
	*gorp.DbMap
	monitor   *Monitor
	reconnect conf.DBReconnectConfig
}

type Table interface {
	TableName() string
}

// Wrap an existing gorp mapping, e.g. one prepared by a test environment.
func FromDbMap(dbMap *gorp.DbMap) *DB {
	return &DB{DbMap: dbMap}
}

// Create a new postgres database and wait until it is connected.
func NewPostgresDB(ctx context.Context, c conf.DBConfig, monitor Monitor) (*DB, error) {
	stripYaml := func(s string) string { return strings.ReplaceAll(s, "\n", "") }
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          stripYaml(c.Host),
		Port:              strconv.Itoa(c.Port),
		UserName:          stripYaml(c.User),
		Password:          stripYaml(c.Password),
		ConnectionOptions: "sslmode=disable",
		DatabaseName:      stripYaml(c.Database),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("connecting to database", "host", c.Host, "database", c.Database)
	sqlDB, err := sql.Open("postgres", dbURL.String())
	if err != nil {
		return nil, err
	}
	maxRetries := c.Reconnect.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	retryInterval := time.Duration(c.Reconnect.RetryIntervalSeconds) * time.Second
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	for i := range maxRetries {
		monitor.connectionAttempts.Inc()
		err := sqlDB.PingContext(ctx)
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			return nil, fmt.Errorf("giving up connecting to database: %w", err)
		}
		slog.Error("failed to connect to database, retrying...", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jobloop.DefaultJitter(retryInterval)):
		}
	}
	sqlDB.SetMaxOpenConns(16)
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
	slog.Info("database is ready")
	return &DB{DbMap: dbMap, monitor: &monitor, reconnect: c.Reconnect}, nil
}

// Ping the database in the configured interval until the context is done.
// Panics if the database stays unreachable for the configured retries, so
// that the process is restarted with a fresh connection pool.
func (d *DB) CheckLivenessPeriodically(ctx context.Context) {
	interval := time.Duration(d.reconnect.LivenessPingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	retryInterval := time.Duration(d.reconnect.RetryIntervalSeconds) * time.Second
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	maxRetries := max(d.reconnect.MaxRetries, 1)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		failures := 0
		for {
			err := d.Db.PingContext(ctx)
			if err == nil || ctx.Err() != nil {
				break
			}
			failures++
			if failures >= maxRetries {
				panic(fmt.Errorf("database unreachable after %d attempts: %w", failures, err))
			}
			slog.Error("database liveness check failed, retrying...", "error", err, "attempt", failures)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jobloop.DefaultJitter(retryInterval)):
			}
		}
	}
}

// Adds missing functionality to gorp.DbMap which creates the given tables.
func (d *DB) CreateTable(table ...*gorp.TableMap) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	for _, t := range table {
		slog.Info("creating table", "table", t.TableName)
		sql := t.SqlForCreate(true) // true means to add IF NOT EXISTS
		if _, err := tx.Exec(sql); err != nil {
			return RollbackWith(tx, fmt.Errorf("create table %s: %w", t.TableName, err))
		}
	}
	return tx.Commit()
}

// Adds a Model table to the database.
func (d *DB) AddTable(t Table) *gorp.TableMap {
	slog.Debug("adding table", "table", t.TableName())
	return d.AddTableWithName(t, t.TableName())
}

// Check if a table exists in the database.
func (d *DB) TableExists(t Table) bool {
	query := `SELECT EXISTS (
		SELECT 1
		FROM   information_schema.tables
		WHERE  table_name = :table_name
	);`
	if _, ok := d.Dialect.(gorp.SqliteDialect); ok {
		query = "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name = :table_name"
	}
	var exists bool
	err := d.SelectOne(&exists, query, map[string]any{"table_name": t.TableName()})
	if err != nil {
		slog.Error("failed to check if table exists", "error", err)
		return false
	}
	return exists
}

// Start a timer for the given query group, if the database is monitored.
// The returned function stops the timer.
func (d *DB) Observe(group, query string) func() {
	if d.monitor == nil || d.monitor.queryTimer == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(d.monitor.queryTimer.WithLabelValues(group, query))
	return func() { timer.ObserveDuration() }
}

// Convenience function to close the database connection.
func (d *DB) Close() {
	if err := d.DbMap.Db.Close(); err != nil {
		slog.Error("failed to close database connection", "error", err)
	}
}

// Roll back the transaction, keeping err as the primary cause.
func RollbackWith(tx *gorp.Transaction, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback failed: %w)", err, rbErr)
	}
	return err
}
