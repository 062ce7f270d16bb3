// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package wan

import (
	"context"
	"fmt"
	"slices"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/taskgraph"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
	"github.com/google/uuid"
)

// Publisher sends notifications to workers.
type Publisher interface {
	Publish(topic string, obj any) error
}

// LinkParams are the parameters of a wan link task.
type LinkParams struct {
	Related string `yaml:"related"`
	// Instance networks interconnected by the link.
	Nets []string `yaml:"nets"`
}

// StaticEngine serves the wan accounts from the configuration.
type StaticEngine struct {
	Accounts  []conf.WANAccountConfig
	Publisher Publisher
}

func (e *StaticEngine) account(id string) (conf.WANAccountConfig, bool) {
	for _, a := range e.Accounts {
		if a.ID == id || a.Name == id {
			return a, true
		}
	}
	return conf.WANAccountConfig{}, false
}

// SelectAccount returns the first wan account connecting every datacenter.
func (e *StaticEngine) SelectAccount(_ context.Context, _ string, datacenters []string) (string, error) {
	for _, a := range e.Accounts {
		connects := true
		for _, dc := range datacenters {
			connects = connects && slices.Contains(a.Datacenters, dc)
		}
		if connects {
			return a.ID, nil
		}
	}
	return "", errdefs.Conflictf("no wan account connects datacenters %v", datacenters)
}

// DeriveLinks returns one link per instance network of every multi site
// network with a wan account.
func (e *StaticEngine) DeriveLinks(usage []taskgraph.WANUsage, nets []catalog.InstanceNet, _ string) ([]catalog.InstanceWIMNet, error) {
	var links []catalog.InstanceWIMNet
	for _, u := range usage {
		if u.WANAccountID == "" {
			continue
		}
		account, ok := e.account(u.WANAccountID)
		if !ok {
			return nil, errdefs.Validationf("wan account %q of network %s not found", u.WANAccountID, u.NetName)
		}
		for _, net := range nets {
			if net.Related != u.Related {
				continue
			}
			links = append(links, catalog.InstanceWIMNet{
				ID:            uuid.NewString(),
				InstanceID:    net.InstanceID,
				InstanceNetID: net.ID,
				WANAccountID:  account.ID,
				Related:       u.Related,
				Created:       true,
			})
		}
	}
	return links, nil
}

func (e *StaticEngine) CreateActions(links []catalog.InstanceWIMNet) []taskgraph.Task {
	tasks := make([]taskgraph.Task, 0, len(links))
	for _, link := range links {
		tasks = append(tasks, taskgraph.Task{
			AccountID: link.WANAccountID,
			Verb:      taskgraph.VerbCreate,
			Item:      taskgraph.ItemWIMNet,
			ItemID:    link.ID,
			Params:    LinkParams{Related: link.Related, Nets: []string{link.InstanceNetID}},
		})
	}
	return tasks
}

func (e *StaticEngine) DeleteActions(state *catalog.State) []taskgraph.Task {
	var tasks []taskgraph.Task
	for _, link := range state.WIMNets {
		if !link.Created {
			continue
		}
		tasks = append(tasks, taskgraph.Task{
			AccountID: link.WANAccountID,
			Verb:      taskgraph.VerbDelete,
			Item:      taskgraph.ItemWIMNet,
			ItemID:    link.ID,
			Params:    LinkParams{Related: link.Related, Nets: []string{link.InstanceNetID}},
		})
	}
	return tasks
}

// Topic the workers of the wan account listen on.
func Topic(accountID string) string {
	return fmt.Sprintf("conductor/wan/%s/actions", accountID)
}

// Dispatch publishes one notification per wan account.
func (e *StaticEngine) Dispatch(_ context.Context, actionID string, tasks []taskgraph.Task) error {
	if e.Publisher == nil || len(tasks) == 0 {
		return nil
	}
	order, byAccount := taskgraph.GroupByAccount(tasks)
	for _, account := range order {
		msg := taskgraph.Notification{ActionID: actionID, Tasks: byAccount[account]}
		if err := e.Publisher.Publish(Topic(account), msg); err != nil {
			return fmt.Errorf("notify wan account %s: %w", account, err)
		}
	}
	return nil
}
