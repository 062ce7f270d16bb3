// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package vim_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/vim/vimtest"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
)

func testConfigs() []conf.VIMAccountConfig {
	return []conf.VIMAccountConfig{
		{ID: "acc-1", Name: "site-a", DatacenterID: "dc-1", DatacenterName: "berlin", AvailabilityZones: []string{"az1", "az2"}},
		{ID: "acc-2", Name: "site-b", DatacenterID: "dc-2", DatacenterName: "paris"},
		{ID: "acc-3", Name: "site-c", DatacenterID: "dc-2", DatacenterName: "paris"},
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := vim.NewRegistry(testConfigs(), nil)
	tests := []struct {
		ref      string
		wantID   string
		wantCode int
	}{
		{"acc-1", "acc-1", 0},
		{"site-b", "acc-2", 0},
		{"berlin", "acc-1", 0},
		{"dc-1", "acc-1", 0},
		{"paris", "", http.StatusConflict},
		{"tokyo", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			cfg, err := r.Lookup(tt.ref)
			if tt.wantCode != 0 {
				if errdefs.Code(err) != tt.wantCode {
					t.Fatalf("expected status %d, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if cfg.ID != tt.wantID {
				t.Fatalf("expected %s, got %s", tt.wantID, cfg.ID)
			}
		})
	}
}

func TestRegistry_GetConnectsOnce(t *testing.T) {
	var connects atomic.Int32
	fake := vimtest.NewFake("a")
	r := vim.NewRegistry(testConfigs(), func(_ context.Context, _ conf.VIMAccountConfig) (vim.Connector, error) {
		connects.Add(1)
		return fake, nil
	})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Get(context.Background(), "site-a"); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()
	account, err := r.Get(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if connects.Load() != 1 {
		t.Fatalf("expected a single connection, got %d", connects.Load())
	}
	if account.ZoneIndex("az2") != 1 || account.ZoneIndex("az9") != -1 {
		t.Fatalf("unexpected zone indices for %v", account.AvailabilityZones)
	}
}

func TestRegistry_GetConnectFailure(t *testing.T) {
	r := vim.NewRegistry(testConfigs(), func(_ context.Context, _ conf.VIMAccountConfig) (vim.Connector, error) {
		return nil, errors.New("dial tcp: refused")
	})
	_, err := r.Get(context.Background(), "acc-1")
	if errdefs.Code(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
	if _, ok := r.Cached("acc-1"); ok {
		t.Fatal("expected failed account to not be cached")
	}
}

func TestAccount_Delete(t *testing.T) {
	fake := vimtest.NewFake("a")
	account := fake.Account("acc-1", "dc-1")
	ctx := context.Background()
	imageID, err := fake.NewImage(ctx, vim.ImageSpec{Name: "img"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sfID, err := fake.NewSF(ctx, vim.SFRequest{Name: "sf"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := account.Delete(ctx, vim.KindImage, imageID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := account.Delete(ctx, vim.KindSF, sfID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := account.Delete(ctx, vim.KindImage, imageID); !errdefs.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestIPProfile_Apply(t *testing.T) {
	enabled := true
	base := &vim.IPProfile{IPVersion: "IPv4", SubnetAddress: "10.0.0.0/24", GatewayAddress: "10.0.0.1"}
	merged := base.Apply(&vim.IPProfile{SubnetAddress: "10.1.0.0/24", DHCPEnabled: &enabled})
	if merged.SubnetAddress != "10.1.0.0/24" || merged.GatewayAddress != "10.0.0.1" || merged.DHCPEnabled == nil {
		t.Fatalf("unexpected merge result %+v", merged)
	}
	if base.SubnetAddress != "10.0.0.0/24" {
		t.Fatal("expected base to be unmodified")
	}
	var none *vim.IPProfile
	if got := none.Apply(&vim.IPProfile{IPVersion: "IPv6"}); got.IPVersion != "IPv6" {
		t.Fatalf("expected override on nil base, got %+v", got)
	}
}
