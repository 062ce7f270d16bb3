// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package teardown compiles the deletion of a deployed instance.
package teardown

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/taskgraph"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/wan"
)

// Compiler emits the delete tasks of an instance.
type Compiler struct {
	Accounts vim.Accounts
	// Optional, contributes the deletion of wan links.
	WAN wan.Engine
}

type build struct {
	ctx      context.Context
	accounts vim.Accounts
	graph    *taskgraph.Graph
	// Resolution result per account id.
	reachable map[string]bool
	warnings  []string
}

// Usable reports whether the account can be resolved, warning once if not.
func (b *build) usable(accountID, item, id string) bool {
	ok, seen := b.reachable[accountID]
	if !seen {
		_, err := b.accounts.Get(b.ctx, accountID)
		ok = err == nil
		b.reachable[accountID] = ok
		if !ok {
			msg := fmt.Sprintf("vim account %s is not available, its resources are left behind: %v", accountID, err)
			slog.Warn("skipping unavailable vim account", "account", accountID, "error", err)
			b.warnings = append(b.warnings, msg)
		}
	}
	if !ok {
		slog.Warn("skipping delete", "item", item, "id", id, "account", accountID)
	}
	return ok
}

func (b *build) add(accountID, item, id, vimID string, deps []taskgraph.Dependency) (int, bool) {
	if !b.usable(accountID, item, id) {
		return 0, false
	}
	return b.graph.Add(taskgraph.Task{
		AccountID: accountID,
		Verb:      taskgraph.VerbDelete,
		Item:      item,
		ItemID:    id,
		Params:    taskgraph.DeleteParams{VimID: vimID},
		DependsOn: deps,
	}), true
}

// Build returns the delete tasks of the instance: service paths first, then
// service functions and classifications, service function instances, vms
// and finally the networks created for the instance. Every delete depends
// on the deletes of the items using the deleted one. Items at accounts that
// cannot be resolved are skipped, the returned warnings name them.
func (c *Compiler) Build(ctx context.Context, state *catalog.State) (*taskgraph.Graph, []string) {
	b := &build{ctx: ctx, accounts: c.Accounts, graph: &taskgraph.Graph{}, reachable: make(map[string]bool)}

	sfps := make(map[string]int)
	for _, sfp := range state.SFPs {
		if index, ok := b.add(sfp.AccountID, taskgraph.ItemSFP, sfp.ID, sfp.VimID, nil); ok {
			sfps[sfp.ID] = index
		}
	}
	pathDeps := func(sfpID string) []taskgraph.Dependency {
		if index, ok := sfps[sfpID]; ok {
			return []taskgraph.Dependency{taskgraph.Local(index)}
		}
		return nil
	}

	sfs := make(map[string]int)
	for _, sf := range state.SFs {
		if index, ok := b.add(sf.AccountID, taskgraph.ItemSF, sf.ID, sf.VimID, pathDeps(sf.InstanceSFPID)); ok {
			sfs[sf.ID] = index
		}
	}
	vmUsers := make(map[string][]taskgraph.Dependency)
	for _, cl := range state.Classifications {
		if index, ok := b.add(cl.AccountID, taskgraph.ItemClassification, cl.ID, cl.VimID, pathDeps(cl.InstanceSFPID)); ok {
			vmUsers[cl.InstanceVMID] = append(vmUsers[cl.InstanceVMID], taskgraph.Local(index))
		}
	}
	for _, sfi := range state.SFIs {
		var deps []taskgraph.Dependency
		if index, ok := sfs[sfi.InstanceSFID]; ok {
			deps = append(deps, taskgraph.Local(index))
		}
		if index, ok := b.add(sfi.AccountID, taskgraph.ItemSFI, sfi.ID, sfi.VimID, deps); ok {
			vmUsers[sfi.InstanceVMID] = append(vmUsers[sfi.InstanceVMID], taskgraph.Local(index))
		}
	}

	netUsers := make(map[string][]taskgraph.Dependency)
	for _, vm := range state.VMs {
		index, ok := b.add(vm.AccountID, taskgraph.ItemVM, vm.ID, vm.VimID, vmUsers[vm.ID])
		if !ok {
			continue
		}
		for _, iface := range state.InterfacesOf(vm.ID) {
			netUsers[iface.InstanceNetID] = append(netUsers[iface.InstanceNetID], taskgraph.Local(index))
		}
	}
	for _, net := range state.Nets {
		// Networks found at the vim are not ours to delete.
		if !net.Created {
			continue
		}
		b.add(net.AccountID, taskgraph.ItemNet, net.ID, net.VimID, netUsers[net.ID])
	}

	if c.WAN != nil {
		wan.IncorporateActions(c.WAN.DeleteActions(state), b.graph)
	}
	slog.Info("compiled instance deletion", "instance", state.Instance.ID,
		"tasks", len(b.graph.Tasks), "warnings", len(b.warnings))
	return b.graph, b.warnings
}
