// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package vim

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
	"golang.org/x/sync/singleflight"
)

// Factory connects to the vim described by the account config.
type Factory func(ctx context.Context, account conf.VIMAccountConfig) (Connector, error)

// Accounts resolves connected vim accounts by id, name or datacenter.
type Accounts interface {
	Get(ctx context.Context, ref string) (*Account, error)
}

// Registry hands out connected vim accounts.
//
// Each account is connected at most once, concurrent first requests for
// the same account share a single connection attempt. The registry is
// owned by the service and passed to whoever needs vim access.
type Registry struct {
	configs []conf.VIMAccountConfig
	factory Factory

	group    singleflight.Group
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewRegistry(configs []conf.VIMAccountConfig, factory Factory) *Registry {
	return &Registry{
		configs:  configs,
		factory:  factory,
		accounts: make(map[string]*Account),
	}
}

// Resolve the account config referenced by id, name, datacenter id or
// datacenter name. Ids take precedence over names.
func (r *Registry) Lookup(ref string) (conf.VIMAccountConfig, error) {
	for _, c := range r.configs {
		if c.ID == ref {
			return c, nil
		}
	}
	var matches []conf.VIMAccountConfig
	for _, c := range r.configs {
		if c.Name == ref || c.DatacenterID == ref || c.DatacenterName == ref {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return conf.VIMAccountConfig{}, errdefs.Validationf("datacenter %q not found", ref)
	case 1:
		return matches[0], nil
	default:
		return conf.VIMAccountConfig{}, errdefs.Conflictf("more than one vim account matches %q, use the account id", ref)
	}
}

// Get the connected account referenced by ref, connecting if needed.
func (r *Registry) Get(ctx context.Context, ref string) (*Account, error) {
	cfg, err := r.Lookup(ref)
	if err != nil {
		return nil, err
	}
	if account, ok := r.Cached(cfg.ID); ok {
		return account, nil
	}
	result, err, _ := r.group.Do(cfg.ID, func() (any, error) {
		if account, ok := r.Cached(cfg.ID); ok {
			return account, nil
		}
		slog.Info("connecting to vim account", "account", cfg.ID, "type", cfg.Type)
		connector, err := r.factory(ctx, cfg)
		if err != nil {
			return nil, connectError(cfg.ID, err)
		}
		account := &Account{
			ID:                    cfg.ID,
			Name:                  cfg.Name,
			DatacenterID:          cfg.DatacenterID,
			DatacenterName:        cfg.DatacenterName,
			Type:                  cfg.Type,
			AvailabilityZones:     cfg.AvailabilityZones,
			ManagementNetworkID:   cfg.ManagementNetworkID,
			ManagementNetworkName: cfg.ManagementNetworkName,
			Connector:             connector,
		}
		r.mu.Lock()
		r.accounts[cfg.ID] = account
		r.mu.Unlock()
		return account, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Account), nil
}

// Cached returns the account if it is already connected.
func (r *Registry) Cached(id string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	return account, ok
}

// Configs returns the configured accounts.
func (r *Registry) Configs() []conf.VIMAccountConfig {
	return r.configs
}

func connectError(id string, err error) error {
	var backend *errdefs.BackendError
	if errors.As(err, &backend) {
		return err
	}
	return errdefs.WrapBackend(http.StatusServiceUnavailable, err, "connect to vim account %s", id)
}
