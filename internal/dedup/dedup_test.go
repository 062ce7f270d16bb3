// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"net/http"
	"testing"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/rollback"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/vim/vimtest"
	"github.com/cobaltcore-dev/conductor/pkg/db"
	testlibDB "github.com/cobaltcore-dev/conductor/pkg/db/testing"
)

func setupDedup(t *testing.T) (*Deduplicator, *catalog.Store) {
	t.Helper()
	dbEnv := testlibDB.SetupDBEnv(t)
	t.Cleanup(dbEnv.Close)
	store := catalog.NewStore(db.FromDbMap(dbEnv.DbMap))
	if err := store.Init(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return &Deduplicator{Catalog: store, Effects: &rollback.Log{}}, store
}

func TestEnsureImage_Idempotent(t *testing.T) {
	d, _ := setupDedup(t)
	fake := vimtest.NewFake("a")
	account := fake.Account("acc-1", "dc-1")
	spec := vim.ImageSpec{Name: "cirros", Location: "http://repo/cirros.qcow2", Checksum: "abc"}
	ctx := context.Background()

	first, err := d.EnsureImage(ctx, []*vim.Account{account}, spec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := d.EnsureImage(ctx, []*vim.Account{account}, spec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first != second {
		t.Fatalf("expected same catalog id, got %s and %s", first, second)
	}
	if n := fake.Count("new_image"); n != 1 {
		t.Fatalf("expected 1 image creation, got %d", n)
	}
	nativeA, err := d.EnsureImageAt(ctx, account, first)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	nativeB, err := d.EnsureImageAt(ctx, account, first)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if nativeA != nativeB || len(fake.Images) != 1 {
		t.Fatalf("expected one native image, got %s, %s and %d images", nativeA, nativeB, len(fake.Images))
	}
	entries := d.Effects.Entries()
	if len(entries) != 2 || entries[0].Layer != rollback.LayerLocal || entries[1].Layer != rollback.LayerBackend {
		t.Fatalf("expected local then backend entry, got %v", entries)
	}
}

func TestEnsureImage_ReusesExisting(t *testing.T) {
	d, store := setupDedup(t)
	fake := vimtest.NewFake("a")
	existing := fake.SeedImage(vim.ImageSpec{Name: "ubuntu", Checksum: "c1"})
	account := fake.Account("acc-1", "dc-1")

	id, err := d.EnsureImage(context.Background(), []*vim.Account{account}, vim.ImageSpec{UniversalName: "ubuntu", Checksum: "c1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	mapping, err := store.FindVIMImage(id, "acc-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mapping == nil || mapping.VimID != existing || mapping.Created {
		t.Fatalf("expected found mapping to %s, got %v", existing, mapping)
	}
	if fake.Count("new_image") != 0 {
		t.Fatal("expected no image creation")
	}
}

func TestEnsureImage_LookupErrors(t *testing.T) {
	tests := []struct {
		name     string
		seed     []vim.ImageSpec
		spec     vim.ImageSpec
		wantCode int
	}{
		{
			name:     "ambiguous",
			seed:     []vim.ImageSpec{{Name: "ubuntu"}, {Name: "ubuntu"}},
			spec:     vim.ImageSpec{Name: "ubuntu"},
			wantCode: http.StatusConflict,
		},
		{
			name:     "missing without location",
			spec:     vim.ImageSpec{Name: "ubuntu"},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "no identity",
			spec:     vim.ImageSpec{Checksum: "abc"},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := setupDedup(t)
			fake := vimtest.NewFake("a")
			for _, s := range tt.seed {
				fake.SeedImage(s)
			}
			_, err := d.EnsureImage(context.Background(), []*vim.Account{fake.Account("acc-1", "dc-1")}, tt.spec)
			if errdefs.Code(err) != tt.wantCode {
				t.Fatalf("expected status %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestEnsureFlavor_SameSpecTwoAccounts(t *testing.T) {
	d, store := setupDedup(t)
	fakeA := vimtest.NewFake("a")
	fakeB := vimtest.NewFake("b")
	accA := fakeA.Account("acc-a", "dc-1")
	accB := fakeB.Account("acc-b", "dc-2")
	spec := vim.FlavorSpec{Disk: 10, RAM: 1024, VCPUs: 2}
	ctx := context.Background()

	first, err := d.EnsureFlavor(ctx, []*vim.Account{accA}, spec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := d.EnsureFlavor(ctx, []*vim.Account{accA}, spec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first != second {
		t.Fatalf("expected one catalog flavor, got %s and %s", first, second)
	}
	if _, err := d.EnsureFlavor(ctx, []*vim.Account{accB}, spec); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	atA, err := d.EnsureFlavorAt(ctx, accA, first)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	atB, err := d.EnsureFlavorAt(ctx, accB, first)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if atA.VimID == atB.VimID {
		t.Fatalf("expected distinct native ids, got %s twice", atA.VimID)
	}
	if fakeA.Count("new_flavor") != 1 || fakeB.Count("new_flavor") != 1 {
		t.Fatalf("expected one flavor per account, got %d and %d", fakeA.Count("new_flavor"), fakeB.Count("new_flavor"))
	}
	for _, acc := range []string{"acc-a", "acc-b"} {
		mapping, err := store.FindVIMFlavor(first, acc)
		if err != nil || mapping == nil {
			t.Fatalf("expected mapping for %s, got %v, %v", acc, mapping, err)
		}
	}
}

func TestEnsureFlavor_ExtendedDisks(t *testing.T) {
	d, _ := setupDedup(t)
	fake := vimtest.NewFake("a")
	account := fake.Account("acc-1", "dc-1")
	spec := vim.FlavorSpec{Disk: 10, RAM: 2048, VCPUs: 4, Extended: &vim.FlavorExtended{
		Devices: []vim.Device{
			{Name: "data", Type: "disk", Image: &vim.ImageSpec{Name: "data", Location: "http://repo/data.qcow2"}},
			{Name: "scratch", Type: "disk"},
			{Name: "iso", Type: "cdrom"},
		},
	}}
	ctx := context.Background()
	id, err := d.EnsureFlavor(ctx, []*vim.Account{account}, spec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	at, err := d.EnsureFlavorAt(ctx, account, id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(at.Disks) != 2 {
		t.Fatalf("expected 2 disks, got %v", at.Disks)
	}
	if at.Disks[0].ImageID == "" || at.Disks[0].Size != defaultDiskSize {
		t.Fatalf("expected image backed disk of default size, got %v", at.Disks[0])
	}
	if at.Disks[1].ImageID != "" || at.Disks[1].Size != defaultDiskSize {
		t.Fatalf("expected blank disk of default size, got %v", at.Disks[1])
	}
	if fake.Count("new_image") != 1 {
		t.Fatalf("expected the disk image to be created once, got %d", fake.Count("new_image"))
	}
}

func TestEnsureFlavor_StopsAtFirstBackendError(t *testing.T) {
	d, _ := setupDedup(t)
	broken := vimtest.NewFake("a")
	broken.Errors["get_flavor_id_from_data"] = errdefs.Backendf(http.StatusServiceUnavailable, "down")
	healthy := vimtest.NewFake("b")
	accounts := []*vim.Account{broken.Account("acc-a", "dc-1"), healthy.Account("acc-b", "dc-2")}
	_, err := d.EnsureFlavor(context.Background(), accounts, vim.FlavorSpec{Disk: 1, RAM: 512, VCPUs: 1})
	if errdefs.Code(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected the backend error, got %v", err)
	}
	if healthy.Count("get_flavor_id_from_data") != 0 || healthy.Count("new_flavor") != 0 {
		t.Fatalf("expected later accounts to be skipped, got %v", healthy.Calls)
	}
}

func TestFingerprints(t *testing.T) {
	a, _ := FlavorFingerprint(vim.FlavorSpec{Disk: 10, RAM: 1024, VCPUs: 2})
	b, _ := FlavorFingerprint(vim.FlavorSpec{Name: "other", Disk: 10, RAM: 1024, VCPUs: 2})
	c, _ := FlavorFingerprint(vim.FlavorSpec{Disk: 10, RAM: 1024, VCPUs: 2, Extended: &vim.FlavorExtended{
		Properties: map[string]string{"hw:cpu_policy": "dedicated"},
	}})
	if a != b {
		t.Fatal("expected the name to not be part of the flavor fingerprint")
	}
	if a == c {
		t.Fatal("expected extended specs to change the fingerprint")
	}
	byLocation, _ := ImageFingerprint(vim.ImageSpec{Name: "x", Location: "http://a", Checksum: "1"})
	renamed, _ := ImageFingerprint(vim.ImageSpec{Name: "y", Location: "http://a", Checksum: "1"})
	if byLocation != renamed {
		t.Fatal("expected images with a location to be keyed by location")
	}
}
