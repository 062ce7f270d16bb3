// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs the compilation of instance actions end to end:
// resolution, deduplication, task graph construction, persistence and
// dispatch to the workers.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/dedup"
	"github.com/cobaltcore-dev/conductor/internal/rollback"
	"github.com/cobaltcore-dev/conductor/internal/scaling"
	"github.com/cobaltcore-dev/conductor/internal/taskgraph"
	"github.com/cobaltcore-dev/conductor/internal/teardown"
	"github.com/cobaltcore-dev/conductor/internal/topology"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/wan"
	"github.com/google/uuid"
)

// Kinds of instance actions.
const (
	KindCreate = "CREATE"
	KindDelete = "DELETE"
	KindScale  = "SCALE"
)

// Result describes a committed instance action.
type Result struct {
	InstanceID string   `json:"instance_id"`
	ActionID   string   `json:"action_id"`
	TaskCount  int      `json:"task_count"`
	Created    []string `json:"created,omitempty"`
	Deleted    []string `json:"deleted,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Service compiles instance actions and hands them to the workers.
type Service struct {
	Catalog  *catalog.Store
	Accounts vim.Accounts
	// Nil disables wan interconnection.
	WAN        wan.Engine
	Dispatcher *Dispatcher
	Monitor    Monitor

	ids ActionIDs
	// Defaults to time.Now.
	Clock func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Service) wanSelector() taskgraph.WANSelector {
	if s.WAN == nil {
		return nil
	}
	return s.WAN
}

// CreateInstance compiles and commits the creation of an instance.
//
// On failure the side effects created so far are returned next to the
// error; the caller decides whether to pass them to Rollback.
func (s *Service) CreateInstance(ctx context.Context, tenantID string, tmpl *topology.Template, req *topology.Request) (*Result, []rollback.Entry, error) {
	defer s.Monitor.timer(KindCreate)()
	effects := &rollback.Log{}
	result, err := s.createInstance(ctx, tenantID, tmpl, req, effects)
	if err != nil {
		s.Monitor.observeCompilation(KindCreate, 0, err)
		return nil, effects.Entries(), err
	}
	s.Monitor.observeCompilation(KindCreate, result.TaskCount, nil)
	return result, nil, nil
}

func (s *Service) createInstance(ctx context.Context, tenantID string, tmpl *topology.Template, req *topology.Request, effects *rollback.Log) (*Result, error) {
	plan, err := topology.Resolve(ctx, s.Accounts, tmpl, req)
	if err != nil {
		return nil, err
	}
	if err := s.deduplicate(ctx, plan, effects); err != nil {
		return nil, err
	}

	instanceID := uuid.NewString()
	actionID := s.ids.Next()
	now := s.now().UnixNano()
	builder := &taskgraph.Builder{TenantID: tenantID, InstanceID: instanceID, Now: now, WAN: s.wanSelector()}
	graph, err := builder.Build(ctx, plan)
	if err != nil {
		return nil, err
	}
	if _, err := (&wan.Integrator{Engine: s.WAN}).Integrate(tenantID, graph); err != nil {
		return nil, err
	}

	batch := &catalog.Batch{}
	if err := graph.Stage(batch, actionID, now); err != nil {
		return nil, err
	}
	batch.Insert(&catalog.InstanceAction{
		ID:          actionID,
		TenantID:    tenantID,
		InstanceID:  instanceID,
		Kind:        KindCreate,
		Description: "create instance " + plan.Name,
		TaskCount:   len(graph.Tasks),
		CreatedAt:   now,
	})
	if err := s.Catalog.Commit(batch); err != nil {
		return nil, err
	}
	slog.Info("committed instance creation", "instance", instanceID, "name", plan.Name,
		"action", actionID, "tasks", len(graph.Tasks), "accounts", len(graph.Accounts()))
	s.dispatch(ctx, actionID, instanceID, graph.Tasks)

	result := &Result{InstanceID: instanceID, ActionID: actionID, TaskCount: len(graph.Tasks)}
	for _, vm := range graph.VMs {
		result.Created = append(result.Created, vm.ID)
	}
	return result, nil
}

// deduplicate makes sure the image and flavor of every vm exist at the
// account of its vnf and fills in their native ids.
func (s *Service) deduplicate(ctx context.Context, plan *topology.Plan, effects *rollback.Log) error {
	d := &dedup.Deduplicator{Catalog: s.Catalog, Effects: effects}
	for _, vnf := range plan.VNFs {
		accounts := []*vim.Account{vnf.Account}
		for _, vm := range vnf.VMs {
			imageID, err := d.EnsureImage(ctx, accounts, vm.Image)
			if err != nil {
				return fmt.Errorf("image of vdu %s: %w", vm.VDU, err)
			}
			if vm.ImageID, err = d.EnsureImageAt(ctx, vnf.Account, imageID); err != nil {
				return fmt.Errorf("image of vdu %s: %w", vm.VDU, err)
			}
			flavorID, err := d.EnsureFlavor(ctx, accounts, vm.Flavor)
			if err != nil {
				return fmt.Errorf("flavor of vdu %s: %w", vm.VDU, err)
			}
			at, err := d.EnsureFlavorAt(ctx, vnf.Account, flavorID)
			if err != nil {
				return fmt.Errorf("flavor of vdu %s: %w", vm.VDU, err)
			}
			vm.FlavorID, vm.Disks = at.VimID, at.Disks
		}
	}
	return nil
}

// Rollback undoes the side effects of a failed creation and returns cause
// extended with the rollback report.
func (s *Service) Rollback(ctx context.Context, effects []rollback.Entry, cause error) error {
	if len(effects) == 0 {
		return cause
	}
	engine := &rollback.Engine{Accounts: s.Accounts, Catalog: s.Catalog}
	ok, report := engine.Rollback(ctx, effects)
	s.Monitor.observeRollback(ok)
	if ok {
		return cause
	}
	return fmt.Errorf("%w; %s", cause, report)
}

// DeleteInstance removes the instance rows and schedules the removal of
// everything it deployed. Accounts that cannot be reached are skipped.
func (s *Service) DeleteInstance(ctx context.Context, tenantID, instanceID string) (*Result, error) {
	defer s.Monitor.timer(KindDelete)()
	result, err := s.deleteInstance(ctx, tenantID, instanceID)
	tasks := 0
	if result != nil {
		tasks = result.TaskCount
	}
	s.Monitor.observeCompilation(KindDelete, tasks, err)
	return result, err
}

func (s *Service) deleteInstance(ctx context.Context, tenantID, instanceID string) (*Result, error) {
	state, err := s.Catalog.LoadInstance(tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	graph, warnings := (&teardown.Compiler{Accounts: s.Accounts, WAN: s.WAN}).Build(ctx, state)
	actionID := s.ids.Next()
	now := s.now().UnixNano()

	batch := &catalog.Batch{}
	batch.PurgeInstance(state)
	if err := graph.Stage(batch, actionID, now); err != nil {
		return nil, err
	}
	batch.Insert(&catalog.InstanceAction{
		ID:          actionID,
		TenantID:    tenantID,
		InstanceID:  instanceID,
		Kind:        KindDelete,
		Description: "delete instance " + state.Instance.Name,
		TaskCount:   len(graph.Tasks),
		CreatedAt:   now,
	})
	if err := s.Catalog.Commit(batch); err != nil {
		return nil, err
	}
	slog.Info("compiled instance teardown", "instance", instanceID, "action", actionID,
		"tasks", len(graph.Tasks), "warnings", len(warnings))
	s.dispatch(ctx, actionID, instanceID, graph.Tasks)

	result := &Result{InstanceID: instanceID, ActionID: actionID, TaskCount: len(graph.Tasks), Warnings: warnings}
	for _, vm := range state.VMs {
		result.Deleted = append(result.Deleted, vm.ID)
	}
	return result, nil
}

// ScaleInstance grows or shrinks vdus of a deployed instance.
func (s *Service) ScaleInstance(ctx context.Context, tenantID, instanceID string, entries []scaling.Entry) (*Result, error) {
	defer s.Monitor.timer(KindScale)()
	result, err := s.scaleInstance(ctx, tenantID, instanceID, entries)
	tasks := 0
	if result != nil {
		tasks = result.TaskCount
	}
	s.Monitor.observeCompilation(KindScale, tasks, err)
	return result, err
}

func (s *Service) scaleInstance(ctx context.Context, tenantID, instanceID string, entries []scaling.Entry) (*Result, error) {
	state, err := s.Catalog.LoadInstance(tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	now := s.now().UnixNano()
	scaler := &scaling.Scaler{Tasks: s.Catalog, Accounts: s.Accounts, Now: now}
	scaled, err := scaler.Build(ctx, state, entries)
	if err != nil {
		return nil, err
	}
	actionID := s.ids.Next()
	batch := &catalog.Batch{}
	if err := scaled.Stage(batch, actionID, now); err != nil {
		return nil, err
	}
	batch.Insert(&catalog.InstanceAction{
		ID:          actionID,
		TenantID:    tenantID,
		InstanceID:  instanceID,
		Kind:        KindScale,
		Description: "scale instance " + state.Instance.Name,
		TaskCount:   len(scaled.Graph.Tasks),
		CreatedAt:   now,
	})
	if err := s.Catalog.Commit(batch); err != nil {
		return nil, err
	}
	slog.Info("compiled instance scaling", "instance", instanceID, "action", actionID,
		"created", len(scaled.Created()), "deleted", len(scaled.Deleted()))
	s.dispatch(ctx, actionID, instanceID, scaled.Graph.Tasks)

	return &Result{
		InstanceID: instanceID,
		ActionID:   actionID,
		TaskCount:  len(scaled.Graph.Tasks),
		Created:    scaled.Created(),
		Deleted:    scaled.Deleted(),
		Warnings:   scaled.Warnings,
	}, nil
}

// GetInstance returns the persisted state of the instance.
func (s *Service) GetInstance(tenantID, instanceID string) (*catalog.State, error) {
	return s.Catalog.LoadInstance(tenantID, instanceID)
}

// GetAction returns an action of the tenant together with its tasks.
func (s *Service) GetAction(tenantID, actionID string) (*catalog.InstanceAction, []catalog.VIMAction, error) {
	return s.Catalog.GetAction(tenantID, actionID)
}

// Committed tasks are picked up by polling workers too, so a failed
// notification is logged only.
func (s *Service) dispatch(ctx context.Context, actionID, instanceID string, tasks []taskgraph.Task) {
	if s.Dispatcher == nil || len(tasks) == 0 {
		return
	}
	if err := s.Dispatcher.Dispatch(ctx, actionID, instanceID, tasks); err != nil {
		slog.Error("failed to notify workers", "action", actionID, "instance", instanceID, "error", err)
	}
}
