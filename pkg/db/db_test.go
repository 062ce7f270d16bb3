// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"testing"
	"time"

	"github.com/cobaltcore-dev/conductor/pkg/conf"
	testlibDB "github.com/cobaltcore-dev/conductor/pkg/db/testing"
)

type MockTable struct {
	ID   string `db:"id,primarykey"`
	Name string `db:"name"`
}

func (m MockTable) TableName() string {
	return "mock_table"
}

func TestDB_CreateTable(t *testing.T) {
	dbEnv := testlibDB.SetupDBEnv(t)
	db := FromDbMap(dbEnv.DbMap)
	defer dbEnv.Close()

	if db.TableExists(MockTable{}) {
		t.Fatal("expected table to not exist yet")
	}
	table := db.AddTable(MockTable{})
	if err := db.CreateTable(table); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !db.TableExists(MockTable{}) {
		t.Fatal("expected table to exist")
	}
	// Creating again is a no-op.
	if err := db.CreateTable(table); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestDB_RollbackWith(t *testing.T) {
	dbEnv := testlibDB.SetupDBEnv(t)
	db := FromDbMap(dbEnv.DbMap)
	defer dbEnv.Close()

	if err := db.CreateTable(db.AddTable(MockTable{})); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tx.Insert(&MockTable{ID: "1", Name: "first"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cause := errTest("boom")
	if err := RollbackWith(tx, cause); err != cause {
		t.Fatalf("expected cause to be returned, got %v", err)
	}
	count, err := db.SelectInt("SELECT COUNT(*) FROM mock_table")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rolled back insert, got %d rows", count)
	}
}

func TestDB_ObserveWithoutMonitor(t *testing.T) {
	db := &DB{}
	// Must not panic without a monitor.
	db.Observe("group", "query")()
}

func TestDB_CheckLivenessStopsWithContext(t *testing.T) {
	dbEnv := testlibDB.SetupDBEnv(t)
	defer dbEnv.Close()
	db := FromDbMap(dbEnv.DbMap)
	db.reconnect = conf.DBReconnectConfig{LivenessPingIntervalSeconds: 1, MaxRetries: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		db.CheckLivenessPeriodically(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected liveness check to stop with its context")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
