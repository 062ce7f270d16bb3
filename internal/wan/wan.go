// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package wan interconnects instance networks spread over several
// datacenters through wan accounts.
package wan

import (
	"context"
	"log/slog"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/taskgraph"
)

// Engine is the contract of a wan engine.
type Engine interface {
	// SelectAccount picks a wan account connecting all datacenters.
	SelectAccount(ctx context.Context, tenantID string, datacenters []string) (string, error)
	// DeriveLinks returns one link row per instance network that needs to be
	// interconnected.
	DeriveLinks(usage []taskgraph.WANUsage, nets []catalog.InstanceNet, tenantID string) ([]catalog.InstanceWIMNet, error)
	// CreateActions returns the tasks creating the links. Indices and
	// dependencies are assigned when the tasks are incorporated.
	CreateActions(links []catalog.InstanceWIMNet) []taskgraph.Task
	// DeleteActions returns the tasks removing the links of the instance.
	DeleteActions(state *catalog.State) []taskgraph.Task
	// Dispatch hands committed tasks to the wan workers.
	Dispatch(ctx context.Context, actionID string, tasks []taskgraph.Task) error
}

// Integrator folds the wan tasks of an instance into its task graph.
type Integrator struct {
	Engine Engine
}

// Integrate derives the links of the networks spanning several accounts and
// appends their tasks to the graph. Must run after the network tasks exist.
// Returns the appended tasks.
func (i *Integrator) Integrate(tenantID string, graph *taskgraph.Graph) ([]taskgraph.Task, error) {
	if i == nil || i.Engine == nil || len(graph.WANUsage) == 0 {
		return nil, nil
	}
	links, err := i.Engine.DeriveLinks(graph.WANUsage, graph.Nets, tenantID)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	graph.WIMNets = append(graph.WIMNets, links...)
	actions := IncorporateActions(i.Engine.CreateActions(links), graph)
	slog.Info("integrated wan links", "links", len(links), "tasks", len(actions))
	return actions, nil
}

// IncorporateActions appends the wan tasks to the graph, offsetting their
// indices by the tasks already present. Each task depends on the network
// tasks of the links it operates on, matched by related id.
func IncorporateActions(actions []taskgraph.Task, graph *taskgraph.Graph) []taskgraph.Task {
	netTasks := make(map[string][]taskgraph.Dependency)
	related := make(map[string]string, len(graph.Nets))
	for _, net := range graph.Nets {
		related[net.ID] = net.Related
	}
	for _, t := range graph.Tasks {
		if t.Item == taskgraph.ItemNet {
			r := related[t.ItemID]
			netTasks[r] = append(netTasks[r], taskgraph.Local(t.Index))
		}
	}
	linkRelated := make(map[string]string, len(graph.WIMNets))
	for _, link := range graph.WIMNets {
		linkRelated[link.ID] = link.Related
	}
	out := make([]taskgraph.Task, 0, len(actions))
	for _, action := range actions {
		if action.Verb == taskgraph.VerbCreate {
			action.DependsOn = append(action.DependsOn, netTasks[linkRelated[action.ItemID]]...)
		}
		action.Index = graph.Add(action)
		out = append(out, action)
	}
	return out
}
