// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package rollback undoes side effects of a failed compilation.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
)

type Layer string

const (
	// A resource created at a vim account.
	LayerBackend Layer = "backend"
	// A row created in the local catalog.
	LayerLocal Layer = "local"
)

// Entry is one side effect, recorded right after it happened.
type Entry struct {
	Layer     Layer
	Kind      vim.Kind
	AccountID string
	ID        string
}

func (e Entry) String() string {
	if e.Layer == LayerLocal {
		return fmt.Sprintf("catalog %s %s", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %s at vim %s", e.Kind, e.ID, e.AccountID)
}

// Log collects entries in creation order. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *Log) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Backend records a resource created at a vim account.
func (l *Log) Backend(kind vim.Kind, accountID, id string) {
	l.Record(Entry{Layer: LayerBackend, Kind: kind, AccountID: accountID, ID: id})
}

// Local records a catalog row.
func (l *Log) Local(kind vim.Kind, id string) {
	l.Record(Entry{Layer: LayerLocal, Kind: kind, ID: id})
}

// Entries returns a copy of the recorded entries in creation order.
func (l *Log) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Catalog removes rows created during compilation.
type Catalog interface {
	DeleteImage(id string) error
	DeleteFlavor(id string) error
	DeleteVIMImage(accountID, vimID string) error
	DeleteVIMFlavor(accountID, vimID string) error
}

// Engine undoes recorded side effects.
type Engine struct {
	Accounts vim.Accounts
	Catalog  Catalog
}

// Rollback walks the entries in reverse creation order. It never stops
// early: a failed entry is reported and the walk continues. Resources that
// are already gone count as removed.
func (e *Engine) Rollback(ctx context.Context, entries []Entry) (ok bool, report string) {
	var failures []string
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if err := e.undo(ctx, entry); err != nil {
			slog.Error("rollback: failed to remove", "entry", entry.String(), "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", entry, err))
			continue
		}
		slog.Info("rollback: removed", "entry", entry.String())
	}
	if len(failures) == 0 {
		return true, ""
	}
	return false, "rollback left behind: " + strings.Join(failures, "; ")
}

func (e *Engine) undo(ctx context.Context, entry Entry) error {
	switch entry.Layer {
	case LayerLocal:
		switch entry.Kind {
		case vim.KindImage:
			return e.Catalog.DeleteImage(entry.ID)
		case vim.KindFlavor:
			return e.Catalog.DeleteFlavor(entry.ID)
		default:
			return fmt.Errorf("no catalog table for %s", entry.Kind)
		}
	case LayerBackend:
		account, err := e.Accounts.Get(ctx, entry.AccountID)
		if err != nil {
			return err
		}
		err = account.Delete(ctx, entry.Kind, entry.ID)
		if err != nil && !errdefs.IsNotFound(err) {
			return err
		}
		switch entry.Kind {
		case vim.KindImage:
			return e.Catalog.DeleteVIMImage(entry.AccountID, entry.ID)
		case vim.KindFlavor:
			return e.Catalog.DeleteVIMFlavor(entry.AccountID, entry.ID)
		}
		return nil
	default:
		return fmt.Errorf("unknown layer %q", entry.Layer)
	}
}
