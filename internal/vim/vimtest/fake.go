// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package vimtest provides an in-memory vim for tests.
package vimtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
)

// Fake is an in-memory vim.Connector and vim.SFCConnector that records calls.
type Fake struct {
	mu     sync.Mutex
	prefix string
	nextID int

	Images   map[string]vim.ImageSpec
	Flavors  map[string]vim.FlavorSpec
	Networks map[string]vim.Network
	VMs      map[string]vim.VMRequest
	SFC      map[string]vim.Kind

	// Calls in order, formatted as "<method> <arg>".
	Calls []string
	// Errors returned by the named method instead of executing it.
	Errors map[string]error
}

func NewFake(prefix string) *Fake {
	return &Fake{
		prefix:   prefix,
		Images:   make(map[string]vim.ImageSpec),
		Flavors:  make(map[string]vim.FlavorSpec),
		Networks: make(map[string]vim.Network),
		VMs:      make(map[string]vim.VMRequest),
		SFC:      make(map[string]vim.Kind),
		Errors:   make(map[string]error),
	}
}

// Account wraps the fake into an account with the given id and datacenter.
func (f *Fake) Account(id, datacenter string) *vim.Account {
	return &vim.Account{ID: id, Name: id, DatacenterID: datacenter, Type: "fake", Connector: f}
}

// Factory returns a registry factory serving the given fakes by account id.
func Factory(fakes map[string]*Fake) vim.Factory {
	return func(_ context.Context, account conf.VIMAccountConfig) (vim.Connector, error) {
		f, ok := fakes[account.ID]
		if !ok {
			return nil, errdefs.Backendf(http.StatusUnauthorized, "no fake for %s", account.ID)
		}
		return f, nil
	}
}

// Count the recorded calls of the given method.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		var m string
		fmt.Sscan(c, &m)
		if m == method {
			n++
		}
	}
	return n
}

// Seed an image that already exists at the vim.
func (f *Fake) SeedImage(spec vim.ImageSpec) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("image")
	f.Images[id] = spec
	return id
}

func (f *Fake) record(method, arg string) error {
	f.Calls = append(f.Calls, method+" "+arg)
	return f.Errors[method]
}

func (f *Fake) id(kind string) string {
	f.nextID++
	return fmt.Sprintf("%s-%s-%d", f.prefix, kind, f.nextID)
}

func notFound(kind, id string) error {
	return errdefs.Backendf(http.StatusNotFound, "%s %s not found", kind, id)
}

func (f *Fake) NewNetwork(_ context.Context, name string, netType vim.NetworkType, _ *vim.IPProfile, _ string) (string, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("new_network", name); err != nil {
		return "", nil, err
	}
	id := f.id("net")
	f.Networks[id] = vim.Network{ID: id, Name: name, Status: "ACTIVE"}
	return id, map[string]any{"type": string(netType)}, nil
}

func (f *Fake) GetNetworkList(_ context.Context, filter vim.NetworkFilter) ([]vim.Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_network_list", filter.Name+filter.ID); err != nil {
		return nil, err
	}
	var out []vim.Network
	for _, n := range f.Networks {
		if (filter.ID == "" || n.ID == filter.ID) && (filter.Name == "" || n.Name == filter.Name) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *Fake) DeleteNetwork(_ context.Context, id string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_network", id); err != nil {
		return err
	}
	if _, ok := f.Networks[id]; !ok {
		return notFound("network", id)
	}
	delete(f.Networks, id)
	return nil
}

func (f *Fake) NewFlavor(_ context.Context, spec vim.FlavorSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("new_flavor", spec.Name); err != nil {
		return "", err
	}
	id := f.id("flavor")
	f.Flavors[id] = spec
	return id, nil
}

func (f *Fake) GetFlavor(_ context.Context, id string) (vim.Flavor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_flavor", id); err != nil {
		return vim.Flavor{}, err
	}
	spec, ok := f.Flavors[id]
	if !ok {
		return vim.Flavor{}, notFound("flavor", id)
	}
	return vim.Flavor{ID: id, Name: spec.Name, RAM: spec.RAM, VCPUs: spec.VCPUs, Disk: spec.Disk}, nil
}

func (f *Fake) GetFlavorIDFromData(_ context.Context, spec vim.FlavorSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_flavor_id_from_data", spec.Name); err != nil {
		return "", err
	}
	for id, s := range f.Flavors {
		if s.RAM == spec.RAM && s.VCPUs == spec.VCPUs && s.Disk == spec.Disk && s.Extended == nil && spec.Extended == nil {
			return id, nil
		}
	}
	return "", notFound("flavor", spec.Name)
}

func (f *Fake) DeleteFlavor(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_flavor", id); err != nil {
		return err
	}
	if _, ok := f.Flavors[id]; !ok {
		return notFound("flavor", id)
	}
	delete(f.Flavors, id)
	return nil
}

func (f *Fake) NewImage(_ context.Context, spec vim.ImageSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("new_image", spec.Name); err != nil {
		return "", err
	}
	id := f.id("image")
	f.Images[id] = spec
	return id, nil
}

func (f *Fake) GetImageList(_ context.Context, filter vim.ImageFilter) ([]vim.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_image_list", filter.Name); err != nil {
		return nil, err
	}
	var out []vim.Image
	for id, s := range f.Images {
		if (filter.Name == "" || s.Name == filter.Name) && (filter.Checksum == "" || s.Checksum == filter.Checksum) {
			out = append(out, vim.Image{ID: id, Name: s.Name, Checksum: s.Checksum})
		}
	}
	return out, nil
}

func (f *Fake) GetImageIDFromPath(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_image_id_from_path", path); err != nil {
		return "", err
	}
	for id, s := range f.Images {
		if s.Location == path {
			return id, nil
		}
	}
	return "", notFound("image", path)
}

func (f *Fake) DeleteImage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_image", id); err != nil {
		return err
	}
	if _, ok := f.Images[id]; !ok {
		return notFound("image", id)
	}
	delete(f.Images, id)
	return nil
}

func (f *Fake) NewVMInstance(_ context.Context, req vim.VMRequest) (string, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("new_vminstance", req.Name); err != nil {
		return "", nil, err
	}
	id := f.id("vm")
	f.VMs[id] = req
	return id, nil, nil
}

func (f *Fake) DeleteVMInstance(_ context.Context, id string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_vminstance", id); err != nil {
		return err
	}
	if _, ok := f.VMs[id]; !ok {
		return notFound("vm", id)
	}
	delete(f.VMs, id)
	return nil
}

func (f *Fake) newSFC(kind vim.Kind, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("new_"+string(kind), name); err != nil {
		return "", err
	}
	id := f.id(string(kind))
	f.SFC[id] = kind
	return id, nil
}

func (f *Fake) deleteSFC(kind vim.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_"+string(kind), id); err != nil {
		return err
	}
	if f.SFC[id] != kind {
		return notFound(string(kind), id)
	}
	delete(f.SFC, id)
	return nil
}

func (f *Fake) NewSFI(_ context.Context, req vim.SFIRequest) (string, error) {
	return f.newSFC(vim.KindSFI, req.Name)
}

func (f *Fake) DeleteSFI(_ context.Context, id string) error { return f.deleteSFC(vim.KindSFI, id) }

func (f *Fake) NewSF(_ context.Context, req vim.SFRequest) (string, error) {
	return f.newSFC(vim.KindSF, req.Name)
}

func (f *Fake) DeleteSF(_ context.Context, id string) error { return f.deleteSFC(vim.KindSF, id) }

func (f *Fake) NewClassification(_ context.Context, req vim.ClassificationRequest) (string, error) {
	return f.newSFC(vim.KindClassification, req.Name)
}

func (f *Fake) DeleteClassification(_ context.Context, id string) error {
	return f.deleteSFC(vim.KindClassification, id)
}

func (f *Fake) NewSFP(_ context.Context, req vim.SFPRequest) (string, error) {
	return f.newSFC(vim.KindSFP, req.Name)
}

func (f *Fake) DeleteSFP(_ context.Context, id string) error { return f.deleteSFC(vim.KindSFP, id) }

// Accounts is a static vim.Accounts resolving by account or datacenter id.
type Accounts []*vim.Account

func (a Accounts) Get(_ context.Context, ref string) (*vim.Account, error) {
	for _, account := range a {
		if account.ID == ref || account.DatacenterID == ref {
			return account, nil
		}
	}
	return nil, errdefs.Validationf("datacenter %q not found", ref)
}
