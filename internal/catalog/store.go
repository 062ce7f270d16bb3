// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package catalog persists the image and flavor catalog, deployed instances
// and their scheduled actions.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/pkg/db"
	"github.com/go-gorp/gorp"
)

// Store gives typed access to the catalog tables.
type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store {
	return &Store{db: d}
}

// Init registers all catalog tables and creates the missing ones.
func (s *Store) Init() error {
	tables := []db.Table{
		Image{}, Flavor{}, VIMImage{}, VIMFlavor{},
		Instance{}, InstanceNet{}, IPProfile{}, InstanceVNF{}, InstanceVM{},
		InstanceInterface{}, InstanceSFI{}, InstanceSF{}, InstanceClassification{},
		InstanceSFP{}, InstanceWIMNet{}, InstanceAction{}, VIMAction{},
	}
	var missing []*gorp.TableMap
	for _, t := range tables {
		table := s.db.AddTable(t)
		if !s.db.TableExists(t) {
			missing = append(missing, table)
		}
	}
	if len(missing) == 0 {
		slog.Info("catalog tables already exist", "tables", len(tables))
		return nil
	}
	if err := s.db.CreateTable(missing...); err != nil {
		return errdefs.Persistence("create catalog tables", err)
	}
	return nil
}

// Select a single row into dest, returning false if there is none.
func (s *Store) selectOne(group string, dest any, query string, args map[string]any) (bool, error) {
	defer s.db.Observe("catalog", group)()
	err := s.db.SelectOne(dest, query, args)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errdefs.Persistence(group, err)
	}
	return true, nil
}

func selectAll[T any](s *Store, group, query string, args map[string]any) ([]T, error) {
	defer s.db.Observe("catalog", group)()
	var rows []T
	if _, err := s.db.Select(&rows, query, args); err != nil {
		return nil, errdefs.Persistence(group, err)
	}
	return rows, nil
}

func (s *Store) FindImage(fingerprint string) (*Image, error) {
	var image Image
	found, err := s.selectOne("find image", &image,
		"SELECT * FROM images WHERE fingerprint = :fp", map[string]any{"fp": fingerprint})
	if !found || err != nil {
		return nil, err
	}
	return &image, nil
}

func (s *Store) GetImage(id string) (*Image, error) {
	var image Image
	found, err := s.selectOne("get image", &image,
		"SELECT * FROM images WHERE id = :id", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errdefs.NotFoundf("image %s not found", id)
	}
	return &image, nil
}

func (s *Store) InsertImage(image *Image) error {
	defer s.db.Observe("catalog", "insert image")()
	return errdefs.Persistence("insert image", s.db.Insert(image))
}

// Delete the catalog image together with its vim mappings.
func (s *Store) DeleteImage(id string) error {
	return s.deleteWithMappings("delete image",
		"DELETE FROM vim_images WHERE image_id = :id",
		"DELETE FROM images WHERE id = :id", id)
}

func (s *Store) FindVIMImage(imageID, accountID string) (*VIMImage, error) {
	var mapping VIMImage
	found, err := s.selectOne("find vim image", &mapping,
		"SELECT * FROM vim_images WHERE image_id = :image AND account_id = :account",
		map[string]any{"image": imageID, "account": accountID})
	if !found || err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *Store) InsertVIMImage(mapping *VIMImage) error {
	defer s.db.Observe("catalog", "insert vim image")()
	return errdefs.Persistence("insert vim image", s.db.Insert(mapping))
}

// Remove the mapping pointing to the native image at the account.
func (s *Store) DeleteVIMImage(accountID, vimID string) error {
	return s.exec("delete vim image",
		"DELETE FROM vim_images WHERE account_id = :account AND vim_id = :vim",
		map[string]any{"account": accountID, "vim": vimID})
}

func (s *Store) FindFlavor(fingerprint string) (*Flavor, error) {
	var flavor Flavor
	found, err := s.selectOne("find flavor", &flavor,
		"SELECT * FROM flavors WHERE fingerprint = :fp", map[string]any{"fp": fingerprint})
	if !found || err != nil {
		return nil, err
	}
	return &flavor, nil
}

func (s *Store) GetFlavor(id string) (*Flavor, error) {
	var flavor Flavor
	found, err := s.selectOne("get flavor", &flavor,
		"SELECT * FROM flavors WHERE id = :id", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errdefs.NotFoundf("flavor %s not found", id)
	}
	return &flavor, nil
}

func (s *Store) InsertFlavor(flavor *Flavor) error {
	defer s.db.Observe("catalog", "insert flavor")()
	return errdefs.Persistence("insert flavor", s.db.Insert(flavor))
}

// Delete the catalog flavor together with its vim mappings.
func (s *Store) DeleteFlavor(id string) error {
	return s.deleteWithMappings("delete flavor",
		"DELETE FROM vim_flavors WHERE flavor_id = :id",
		"DELETE FROM flavors WHERE id = :id", id)
}

func (s *Store) FindVIMFlavor(flavorID, accountID string) (*VIMFlavor, error) {
	var mapping VIMFlavor
	found, err := s.selectOne("find vim flavor", &mapping,
		"SELECT * FROM vim_flavors WHERE flavor_id = :flavor AND account_id = :account",
		map[string]any{"flavor": flavorID, "account": accountID})
	if !found || err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *Store) InsertVIMFlavor(mapping *VIMFlavor) error {
	defer s.db.Observe("catalog", "insert vim flavor")()
	return errdefs.Persistence("insert vim flavor", s.db.Insert(mapping))
}

func (s *Store) DeleteVIMFlavor(accountID, vimID string) error {
	return s.exec("delete vim flavor",
		"DELETE FROM vim_flavors WHERE account_id = :account AND vim_id = :vim",
		map[string]any{"account": accountID, "vim": vimID})
}

func (s *Store) exec(group, query string, args map[string]any) error {
	defer s.db.Observe("catalog", group)()
	_, err := s.db.Exec(query, args)
	return errdefs.Persistence(group, err)
}

func (s *Store) deleteWithMappings(group, mappings, row, id string) error {
	defer s.db.Observe("catalog", group)()
	tx, err := s.db.Begin()
	if err != nil {
		return errdefs.Persistence(group, err)
	}
	args := map[string]any{"id": id}
	if _, err := tx.Exec(mappings, args); err != nil {
		return errdefs.Persistence(group, db.RollbackWith(tx, err))
	}
	if _, err := tx.Exec(row, args); err != nil {
		return errdefs.Persistence(group, db.RollbackWith(tx, err))
	}
	return errdefs.Persistence(group, tx.Commit())
}

// Batch collects row changes that are committed in one transaction.
//
// Row ids are generated by the caller before the batch is committed, so
// rows in the same batch can reference each other.
type Batch struct {
	purges  []purge
	deletes []any
	inserts []any
}

type purge struct {
	table  string
	column string
	value  string
}

// Insert schedules the given row pointers for insertion.
func (b *Batch) Insert(rows ...any) {
	b.inserts = append(b.inserts, rows...)
}

// Delete schedules the given row pointers for deletion by primary key.
func (b *Batch) Delete(rows ...any) {
	b.deletes = append(b.deletes, rows...)
}

// Purge schedules the deletion of all rows of table where column = value.
func (b *Batch) Purge(table db.Table, column, value string) {
	b.purges = append(b.purges, purge{table: table.TableName(), column: column, value: value})
}

func (b *Batch) Len() int {
	return len(b.purges) + len(b.deletes) + len(b.inserts)
}

// Commit applies the batch atomically: purges, then deletes, then inserts.
// Readers never observe a partially applied batch.
func (s *Store) Commit(b *Batch) error {
	defer s.db.Observe("catalog", "commit batch")()
	tx, err := s.db.Begin()
	if err != nil {
		return errdefs.Persistence("begin batch", err)
	}
	for _, p := range b.purges {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = :value", p.table, p.column)
		if _, err := tx.Exec(query, map[string]any{"value": p.value}); err != nil {
			return errdefs.Persistence("purge "+p.table, db.RollbackWith(tx, err))
		}
	}
	if len(b.deletes) > 0 {
		if _, err := tx.Delete(b.deletes...); err != nil {
			return errdefs.Persistence("delete rows", db.RollbackWith(tx, err))
		}
	}
	if len(b.inserts) > 0 {
		if err := tx.Insert(b.inserts...); err != nil {
			return errdefs.Persistence("insert rows", db.RollbackWith(tx, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errdefs.Persistence("commit batch", err)
	}
	slog.Debug("committed batch", "purges", len(b.purges), "deletes", len(b.deletes), "inserts", len(b.inserts))
	return nil
}
