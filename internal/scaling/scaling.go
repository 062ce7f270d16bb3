// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package scaling compiles the growth and shrinkage of vdu replicas of a
// deployed instance.
package scaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/taskgraph"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/google/uuid"
)

type Type string

const (
	Grow   Type = "create"
	Shrink Type = "delete"
)

// Entry selects the replicas of one vdu of one vnf.
type Entry struct {
	VDUID          string `json:"vdu-id"`
	MemberVNFIndex string `json:"member-vnf-index"`
	Type           Type   `json:"type"`
	// Defaults to one.
	Count int `json:"count,omitempty"`
}

func (e Entry) String() string {
	return fmt.Sprintf("vdu %s of vnf %s", e.VDUID, e.MemberVNFIndex)
}

// TaskSource gives access to previously scheduled tasks.
type TaskSource interface {
	FindCreateTask(item, itemID string) (*catalog.VIMAction, error)
}

// Scaler compiles scale requests against the persisted state of an instance.
type Scaler struct {
	Tasks TaskSource
	// Used to skip deletions at accounts that are no longer available.
	// Nil means every account is assumed reachable.
	Accounts vim.Accounts
	// Timestamp of the first new row.
	Now int64
}

// Result of a scale request.
type Result struct {
	// New vm and interface rows and the tasks of the action.
	Graph *taskgraph.Graph
	// Vm rows removed by the action, together with their interfaces.
	Removed           []catalog.InstanceVM
	RemovedInterfaces []catalog.InstanceInterface
	Warnings          []string
}

// Created returns the ids of the new vms.
func (r *Result) Created() []string {
	ids := make([]string, 0, len(r.Graph.VMs))
	for _, vm := range r.Graph.VMs {
		ids = append(ids, vm.ID)
	}
	return ids
}

// Deleted returns the ids of the removed vms.
func (r *Result) Deleted() []string {
	ids := make([]string, 0, len(r.Removed))
	for _, vm := range r.Removed {
		ids = append(ids, vm.ID)
	}
	return ids
}

// Stage adds the row changes and the tasks to the batch.
func (r *Result) Stage(b *catalog.Batch, actionID string, createdAt int64) error {
	for i := range r.RemovedInterfaces {
		b.Delete(&r.RemovedInterfaces[i])
	}
	for i := range r.Removed {
		b.Delete(&r.Removed[i])
	}
	return r.Graph.Stage(b, actionID, createdAt)
}

type scaler struct {
	*Scaler
	state   *catalog.State
	result  *Result
	removed map[string]bool
	// Availability per account id, checked once.
	usable map[string]bool
}

// Build compiles the entries in order. Later entries see the replicas
// added or removed by earlier ones.
func (s *Scaler) Build(ctx context.Context, state *catalog.State, entries []Entry) (*Result, error) {
	if len(entries) == 0 {
		return nil, errdefs.Validationf("no vdu to scale")
	}
	sc := &scaler{
		Scaler:  s,
		state:   state,
		result:  &Result{Graph: &taskgraph.Graph{}},
		removed: make(map[string]bool),
		usable:  make(map[string]bool),
	}
	for _, e := range entries {
		count := e.Count
		if count == 0 {
			count = 1
		}
		if count < 0 {
			return nil, errdefs.Validationf("invalid count %d for %s", e.Count, e)
		}
		replicas, err := sc.replicas(e)
		if err != nil {
			return nil, err
		}
		switch e.Type {
		case Shrink:
			err = sc.shrink(ctx, e, replicas, count)
		case Grow:
			err = sc.grow(e, replicas, count)
		default:
			err = errdefs.Validationf("invalid scaling type %q for %s, expected %q or %q", e.Type, e, Grow, Shrink)
		}
		if err != nil {
			return nil, err
		}
	}
	return sc.result, nil
}

func (s *scaler) tick() int64 {
	s.Now++
	return s.Now
}

// Current replicas of the entry, oldest first.
func (s *scaler) replicas(e Entry) ([]catalog.InstanceVM, error) {
	if e.VDUID == "" || e.MemberVNFIndex == "" {
		return nil, errdefs.Validationf("vdu-id and member-vnf-index are required")
	}
	var out []catalog.InstanceVM
	candidates := append(append([]catalog.InstanceVM{}, s.state.VMs...), s.result.Graph.VMs...)
	for _, vm := range candidates {
		if vm.VDUID != e.VDUID || s.removed[vm.ID] {
			continue
		}
		vnf, ok := s.state.VNF(vm.InstanceVNFID)
		if !ok || vnf.MemberVNFIndex != e.MemberVNFIndex {
			continue
		}
		out = append(out, vm)
	}
	if len(out) == 0 {
		return nil, errdefs.NotFoundf("no replica of %s found", e)
	}
	return out, nil
}

func (s *scaler) reachable(ctx context.Context, accountID string) bool {
	if s.Accounts == nil {
		return true
	}
	if ok, checked := s.usable[accountID]; checked {
		return ok
	}
	_, err := s.Accounts.Get(ctx, accountID)
	s.usable[accountID] = err == nil
	if err != nil {
		msg := fmt.Sprintf("vim account %s not available, its replicas are kept: %v", accountID, err)
		slog.Warn("skipping replicas of unavailable vim account", "account", accountID, "error", err)
		s.result.Warnings = append(s.result.Warnings, msg)
	}
	return err == nil
}

// shrink deletes the newest replicas.
func (s *scaler) shrink(ctx context.Context, e Entry, replicas []catalog.InstanceVM, count int) error {
	if count > len(replicas) {
		return errdefs.Validationf("cannot remove %d replicas of %s, only %d exist", count, e, len(replicas))
	}
	for i := range count {
		vm := replicas[len(replicas)-1-i]
		if local, index := s.localTask(vm.ID); local {
			// Added earlier in this request, nothing exists at the vim yet.
			s.cancel(vm.ID, index)
			continue
		}
		if !s.reachable(ctx, vm.AccountID) {
			continue
		}
		s.removed[vm.ID] = true
		s.result.Graph.Add(taskgraph.Task{
			AccountID: vm.AccountID,
			Verb:      taskgraph.VerbDelete,
			Item:      taskgraph.ItemVM,
			ItemID:    vm.ID,
			Params:    taskgraph.DeleteParams{VimID: vm.VimID},
		})
		s.result.Removed = append(s.result.Removed, vm)
		s.result.RemovedInterfaces = append(s.result.RemovedInterfaces, s.state.InterfacesOf(vm.ID)...)
	}
	return nil
}

// cancel drops a vm created earlier in this request together with its
// create task and interface rows.
func (s *scaler) cancel(vmID string, index int) {
	s.removed[vmID] = true
	g := s.result.Graph
	g.Tasks = slices.Delete(g.Tasks, index, index+1)
	for i := range g.Tasks {
		g.Tasks[i].Index = i
		deps := slices.Clone(g.Tasks[i].DependsOn)
		for j, d := range deps {
			if d.IsLocal() && d.Index > index {
				deps[j] = taskgraph.Local(d.Index - 1)
			}
		}
		g.Tasks[i].DependsOn = deps
	}
	g.VMs = slices.DeleteFunc(g.VMs, func(vm catalog.InstanceVM) bool { return vm.ID == vmID })
	g.Interfaces = slices.DeleteFunc(g.Interfaces, func(iface catalog.InstanceInterface) bool {
		return iface.InstanceVMID == vmID
	})
}

// ordinal splits "<base>.<n>" into its parts.
func ordinal(name string) (string, int, bool) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[dot+1:])
	if err != nil || n < 0 {
		return name, 0, false
	}
	return name[:dot], n, true
}

// grow clones the create task of the newest replica.
func (s *scaler) grow(e Entry, replicas []catalog.InstanceVM, count int) error {
	source := replicas[len(replicas)-1]
	var params taskgraph.VMParams
	var deps []taskgraph.Dependency
	var accountID string
	if local, index := s.localTask(source.ID); local {
		// The source was added by an earlier entry of this request.
		task := s.result.Graph.Tasks[index]
		params, deps, accountID = task.Params.(taskgraph.VMParams), task.DependsOn, task.AccountID
	} else {
		row, err := s.Tasks.FindCreateTask(taskgraph.ItemVM, source.ID)
		if err != nil {
			return fmt.Errorf("cannot clone %s: %w", e, err)
		}
		params, deps, err = taskgraph.DecodeVM(*row)
		if err != nil {
			return errdefs.Persistence("decode create task", err)
		}
		accountID = row.AccountID
		// References into the original action become external ones.
		for i := range deps {
			deps[i] = deps[i].Resolve(row.InstanceActionID)
		}
		for i := range params.Interfaces {
			params.Interfaces[i].Net = params.Interfaces[i].Net.Resolve(row.InstanceActionID)
		}
	}

	base, highest, numbered := ordinal(source.Name)
	for _, vm := range replicas {
		if b, n, ok := ordinal(vm.Name); ok && b == base && n > highest {
			highest = n
		}
	}
	sourceIfaces := s.interfacesOf(source.ID)

	for i := range count {
		vmID := uuid.NewString()
		clone := params
		if numbered {
			clone.Name = fmt.Sprintf("%s.%d", base, highest+1+i)
		}
		clone.Interfaces = make([]taskgraph.InterfaceParams, len(params.Interfaces))
		copy(clone.Interfaces, params.Interfaces)
		for j := range clone.Interfaces {
			iface := &clone.Interfaces[j]
			iface.MACAddress = ""
			if iface.IPAddress == "" {
				continue
			}
			addr, err := netip.ParseAddr(iface.IPAddress)
			next, ok := taskgraph.OffsetAddr(addr, i+1)
			if err != nil || !ok {
				slog.Warn("cannot derive a static ip address for the replica, it gets a dynamic address",
					"vm", clone.Name, "interface", iface.Name, "base", iface.IPAddress)
				iface.IPAddress = ""
				continue
			}
			iface.IPAddress = next.String()
		}

		s.result.Graph.Add(taskgraph.Task{
			AccountID: accountID,
			Verb:      taskgraph.VerbCreate,
			Item:      taskgraph.ItemVM,
			ItemID:    vmID,
			Params:    clone,
			DependsOn: deps,
		})
		createdAt := s.tick()
		s.result.Graph.VMs = append(s.result.Graph.VMs, catalog.InstanceVM{
			ID:            vmID,
			InstanceID:    source.InstanceID,
			InstanceVNFID: source.InstanceVNFID,
			VDUID:         source.VDUID,
			AccountID:     source.AccountID,
			Name:          clone.Name,
			CreatedAt:     createdAt,
		})
		for _, row := range sourceIfaces {
			row.ID = uuid.NewString()
			row.InstanceVMID = vmID
			row.IPAddress, row.MACAddress = "", ""
			for _, iface := range clone.Interfaces {
				if iface.Name == row.Name {
					row.IPAddress = iface.IPAddress
				}
			}
			s.result.Graph.Interfaces = append(s.result.Graph.Interfaces, row)
		}
	}
	return nil
}

// localTask finds the create task of a vm added earlier in this request.
func (s *scaler) localTask(vmID string) (bool, int) {
	for _, t := range s.result.Graph.Tasks {
		if t.Verb == taskgraph.VerbCreate && t.ItemID == vmID {
			return true, t.Index
		}
	}
	return false, 0
}

func (s *scaler) interfacesOf(vmID string) []catalog.InstanceInterface {
	if ifaces := s.state.InterfacesOf(vmID); len(ifaces) > 0 {
		return ifaces
	}
	var out []catalog.InstanceInterface
	for _, iface := range s.result.Graph.Interfaces {
		if iface.InstanceVMID == vmID {
			out = append(out, iface)
		}
	}
	return out
}
