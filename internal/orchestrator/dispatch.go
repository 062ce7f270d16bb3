// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"

	"github.com/cobaltcore-dev/conductor/internal/taskgraph"
	"github.com/cobaltcore-dev/conductor/internal/wan"
	"golang.org/x/sync/errgroup"
)

// Publisher sends json messages to the workers.
type Publisher interface {
	Publish(topic string, obj any) error
}

// Topic of the worker of the vim account.
func Topic(accountID string) string {
	return fmt.Sprintf("conductor/vim/%s/actions", accountID)
}

// Dispatcher notifies the workers about committed actions.
type Dispatcher struct {
	// Nil disables vim notifications, workers still pick up tasks by polling.
	Publisher Publisher
	// Receives the wan tasks, may be nil.
	WAN wan.Engine
}

// Dispatch sends one notification per vim account, in parallel, and hands
// the wan tasks to the wan engine.
func (d *Dispatcher) Dispatch(ctx context.Context, actionID, instanceID string, tasks []taskgraph.Task) error {
	var vimTasks, wanTasks []taskgraph.Task
	for _, t := range tasks {
		if t.Item == taskgraph.ItemWIMNet {
			wanTasks = append(wanTasks, t)
		} else {
			vimTasks = append(vimTasks, t)
		}
	}
	order, byAccount := taskgraph.GroupByAccount(vimTasks)

	eg, ctx := errgroup.WithContext(ctx)
	if d.Publisher != nil {
		for _, account := range order {
			msg := taskgraph.Notification{ActionID: actionID, InstanceID: instanceID, Tasks: byAccount[account]}
			eg.Go(func() error {
				if err := d.Publisher.Publish(Topic(account), msg); err != nil {
					return fmt.Errorf("notify vim account %s: %w", account, err)
				}
				return nil
			})
		}
	}
	if d.WAN != nil && len(wanTasks) > 0 {
		eg.Go(func() error {
			return d.WAN.Dispatch(ctx, actionID, wanTasks)
		})
	}
	return eg.Wait()
}
