// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/vim/vimtest"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
)

type mockCatalog struct {
	calls []string
	err   error
}

func (m *mockCatalog) DeleteImage(id string) error {
	m.calls = append(m.calls, "image "+id)
	return m.err
}

func (m *mockCatalog) DeleteFlavor(id string) error {
	m.calls = append(m.calls, "flavor "+id)
	return m.err
}

func (m *mockCatalog) DeleteVIMImage(accountID, vimID string) error {
	m.calls = append(m.calls, "vim_image "+accountID+" "+vimID)
	return nil
}

func (m *mockCatalog) DeleteVIMFlavor(accountID, vimID string) error {
	m.calls = append(m.calls, "vim_flavor "+accountID+" "+vimID)
	return nil
}

func setup(t *testing.T) (*vimtest.Fake, *mockCatalog, *Engine) {
	t.Helper()
	fake := vimtest.NewFake("a")
	registry := vim.NewRegistry(
		[]conf.VIMAccountConfig{{ID: "acc-1", DatacenterID: "dc-1"}},
		vimtest.Factory(map[string]*vimtest.Fake{"acc-1": fake}),
	)
	catalog := &mockCatalog{}
	return fake, catalog, &Engine{Accounts: registry, Catalog: catalog}
}

func TestEngine_ReverseOrder(t *testing.T) {
	fake, catalog, engine := setup(t)
	ctx := context.Background()
	var log Log
	imageID, err := fake.NewImage(ctx, vim.ImageSpec{Name: "img"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	log.Backend(vim.KindImage, "acc-1", imageID)
	flavorID, _ := fake.NewFlavor(ctx, vim.FlavorSpec{Name: "fl"})
	log.Backend(vim.KindFlavor, "acc-1", flavorID)
	netID, _, _ := fake.NewNetwork(ctx, "net", vim.NetworkBridge, nil, "")
	log.Backend(vim.KindNetwork, "acc-1", netID)
	vmID, _, _ := fake.NewVMInstance(ctx, vim.VMRequest{Name: "vm"})
	log.Backend(vim.KindVM, "acc-1", vmID)
	fake.Calls = nil

	ok, report := engine.Rollback(ctx, log.Entries())
	if !ok {
		t.Fatalf("expected success, got report %q", report)
	}
	expected := []string{
		"delete_vminstance " + vmID,
		"delete_network " + netID,
		"delete_flavor " + flavorID,
		"delete_image " + imageID,
	}
	if len(fake.Calls) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, fake.Calls)
	}
	for i := range expected {
		if fake.Calls[i] != expected[i] {
			t.Fatalf("expected call %d to be %q, got %q", i, expected[i], fake.Calls[i])
		}
	}
	// Mappings of backend images and flavors go away with them.
	if len(catalog.calls) != 2 || catalog.calls[0] != "vim_flavor acc-1 "+flavorID || catalog.calls[1] != "vim_image acc-1 "+imageID {
		t.Fatalf("expected mapping removal, got %v", catalog.calls)
	}
}

func TestEngine_NotFoundIsSuccess(t *testing.T) {
	_, _, engine := setup(t)
	ok, report := engine.Rollback(context.Background(), []Entry{
		{Layer: LayerBackend, Kind: vim.KindNetwork, AccountID: "acc-1", ID: "gone"},
	})
	if !ok {
		t.Fatalf("expected success, got report %q", report)
	}
}

func TestEngine_ContinuesAfterFailure(t *testing.T) {
	fake, catalog, engine := setup(t)
	ctx := context.Background()
	netID, _, _ := fake.NewNetwork(ctx, "net", vim.NetworkBridge, nil, "")
	fake.Errors["delete_vminstance"] = errdefs.Backendf(http.StatusServiceUnavailable, "nova down")
	entries := []Entry{
		{Layer: LayerLocal, Kind: vim.KindImage, ID: "img-1"},
		{Layer: LayerBackend, Kind: vim.KindNetwork, AccountID: "acc-1", ID: netID},
		{Layer: LayerBackend, Kind: vim.KindVM, AccountID: "acc-1", ID: "vm-1"},
		{Layer: LayerBackend, Kind: vim.KindVM, AccountID: "acc-unknown", ID: "vm-2"},
	}
	ok, report := engine.Rollback(ctx, entries)
	if ok {
		t.Fatal("expected failure")
	}
	if !strings.Contains(report, "vm vm-1 at vim acc-1") || !strings.Contains(report, "vm-2") {
		t.Fatalf("expected both failures in report, got %q", report)
	}
	if _, exists := fake.Networks[netID]; exists {
		t.Fatal("expected network to be removed despite earlier failures")
	}
	if len(catalog.calls) != 1 || catalog.calls[0] != "image img-1" {
		t.Fatalf("expected catalog image removal, got %v", catalog.calls)
	}
}

func TestEngine_LocalFailureReported(t *testing.T) {
	_, catalog, engine := setup(t)
	catalog.err = errors.New("db gone")
	ok, report := engine.Rollback(context.Background(), []Entry{{Layer: LayerLocal, Kind: vim.KindFlavor, ID: "fl-1"}})
	if ok || !strings.Contains(report, "catalog flavor fl-1: db gone") {
		t.Fatalf("expected reported failure, got %v %q", ok, report)
	}
}

func TestLog_Entries(t *testing.T) {
	var log Log
	if log.Len() != 0 {
		t.Fatalf("expected empty log")
	}
	log.Local(vim.KindImage, "img-1")
	log.Backend(vim.KindImage, "acc-1", "n-1")
	entries := log.Entries()
	entries[0].ID = "changed"
	if log.Entries()[0].ID != "img-1" {
		t.Fatal("expected entries to be a copy")
	}
	if log.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", log.Len())
	}
}
