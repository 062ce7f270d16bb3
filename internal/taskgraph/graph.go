// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package taskgraph compiles deployment plans into dependency ordered backend
// tasks together with the catalog rows describing the deployed instance.
package taskgraph

import (
	"fmt"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
)

// Graph is the compiled task list of one instance action.
//
// Tasks are appended in topological order: local dependencies always point
// to tasks with a lower index.
type Graph struct {
	Tasks []Task

	Instance        *catalog.Instance
	Nets            []catalog.InstanceNet
	IPProfiles      []catalog.IPProfile
	VNFs            []catalog.InstanceVNF
	VMs             []catalog.InstanceVM
	Interfaces      []catalog.InstanceInterface
	SFIs            []catalog.InstanceSFI
	SFs             []catalog.InstanceSF
	Classifications []catalog.InstanceClassification
	SFPs            []catalog.InstanceSFP
	WIMNets         []catalog.InstanceWIMNet

	// Networks spanning more than one vim account.
	WANUsage []WANUsage
}

// WANUsage is a network spread over several accounts.
type WANUsage struct {
	// Related id shared by the network rows of all accounts.
	Related string
	NetName string
	// Selected wan account, empty if the network is not interconnected.
	WANAccountID string
	AccountIDs   []string
	Datacenters  []string
}

// Add appends the task, assigning the next index.
func (g *Graph) Add(t Task) int {
	t.Index = len(g.Tasks)
	g.Tasks = append(g.Tasks, t)
	return t.Index
}

// Check verifies the graph is acyclic with consecutive indices.
func (g *Graph) Check() error {
	for i, t := range g.Tasks {
		if t.Index != i {
			return fmt.Errorf("task at position %d has index %d", i, t.Index)
		}
		if t.AccountID == "" {
			return fmt.Errorf("task %d has no account", i)
		}
		for _, dep := range t.DependsOn {
			if dep.IsLocal() && dep.Index >= i {
				return fmt.Errorf("task %d depends on later task %d", i, dep.Index)
			}
		}
	}
	return nil
}

// Accounts returns the accounts of the tasks, in order of first appearance.
func (g *Graph) Accounts() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range g.Tasks {
		if !seen[t.AccountID] {
			seen[t.AccountID] = true
			out = append(out, t.AccountID)
		}
	}
	return out
}

func insertAll[T any](b *catalog.Batch, rows []T) {
	for i := range rows {
		b.Insert(&rows[i])
	}
}

// Stage adds the rows and tasks of the graph to the batch. The tasks are
// stored under the given action.
func (g *Graph) Stage(b *catalog.Batch, actionID string, createdAt int64) error {
	if err := g.Check(); err != nil {
		return errdefs.Validationf("inconsistent task graph: %v", err)
	}
	if g.Instance != nil {
		b.Insert(g.Instance)
	}
	insertAll(b, g.VNFs)
	insertAll(b, g.Nets)
	insertAll(b, g.IPProfiles)
	insertAll(b, g.VMs)
	insertAll(b, g.Interfaces)
	insertAll(b, g.SFIs)
	insertAll(b, g.SFs)
	insertAll(b, g.Classifications)
	insertAll(b, g.SFPs)
	insertAll(b, g.WIMNets)
	for _, t := range g.Tasks {
		row, err := t.Row(actionID, createdAt)
		if err != nil {
			return err
		}
		b.Insert(&row)
	}
	return nil
}
