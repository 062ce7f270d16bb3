// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package taskgraph

import (
	"fmt"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"gopkg.in/yaml.v3"
)

type Verb string

const (
	VerbCreate Verb = "CREATE"
	VerbFind   Verb = "FIND"
	VerbDelete Verb = "DELETE"
)

// Status of a freshly scheduled task. Workers move it on from here.
const StatusScheduled = "SCHEDULED"

// Items a task can act on, named after the catalog table holding them.
const (
	ItemNet            = "instance_nets"
	ItemVM             = "instance_vms"
	ItemSFI            = "instance_sfis"
	ItemSF             = "instance_sfs"
	ItemClassification = "instance_classifications"
	ItemSFP            = "instance_sfps"
	ItemWIMNet         = "instance_wim_nets"
)

// Task is one scheduled backend action.
type Task struct {
	Index     int
	AccountID string
	Verb      Verb
	Item      string
	ItemID    string
	Params    any
	// Filter used to look up the item before creating it.
	Find      *vim.NetworkFilter
	DependsOn []Dependency
}

// Extra is the blob handed to the worker of the task's account.
type Extra struct {
	Params    any                `yaml:"params,omitempty"`
	Find      *vim.NetworkFilter `yaml:"find,omitempty"`
	DependsOn []Dependency       `yaml:"depends_on,omitempty"`
}

// Row encodes the task for persistence.
func (t Task) Row(actionID string, createdAt int64) (catalog.VIMAction, error) {
	extra, err := yaml.Marshal(Extra{Params: t.Params, Find: t.Find, DependsOn: normalize(t.DependsOn)})
	if err != nil {
		return catalog.VIMAction{}, fmt.Errorf("encode task %d: %w", t.Index, err)
	}
	return catalog.VIMAction{
		InstanceActionID: actionID,
		TaskIndex:        t.Index,
		AccountID:        t.AccountID,
		Verb:             string(t.Verb),
		Item:             t.Item,
		ItemID:           t.ItemID,
		Status:           StatusScheduled,
		Extra:            string(extra),
		CreatedAt:        createdAt,
	}, nil
}

type NetworkParams struct {
	Name      string          `yaml:"name"`
	Type      vim.NetworkType `yaml:"type"`
	IPProfile *vim.IPProfile  `yaml:"ip_profile,omitempty"`
	// Wan account interconnecting the network, if any.
	WANAccount string `yaml:"wan_account,omitempty"`
}

// An interface of a vm task. Net points at the task providing the network.
type InterfaceParams struct {
	vim.VMInterface `yaml:",inline"`
	Net             Dependency `yaml:"net"`
}

type VMParams struct {
	Name                  string            `yaml:"name"`
	Description           string            `yaml:"description,omitempty"`
	ImageID               string            `yaml:"image_id"`
	FlavorID              string            `yaml:"flavor_id"`
	Interfaces            []InterfaceParams `yaml:"interfaces"`
	CloudConfig           *cloudinit.Config `yaml:"cloud_config,omitempty"`
	Disks                 []vim.Disk        `yaml:"disks,omitempty"`
	AvailabilityZoneIndex *int              `yaml:"availability_zone_index,omitempty"`
	AvailabilityZones     []string          `yaml:"availability_zones,omitempty"`
}

type SFIParams struct {
	Name    string     `yaml:"name"`
	VM      Dependency `yaml:"vm"`
	Ingress string     `yaml:"ingress_interface"`
	Egress  string     `yaml:"egress_interface"`
}

type SFParams struct {
	Name string       `yaml:"name"`
	SFIs []Dependency `yaml:"sfis"`
}

type ClassificationParams struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	VM         Dependency        `yaml:"vm"`
	Interface  string            `yaml:"interface"`
	Definition map[string]string `yaml:"definition"`
}

type SFPParams struct {
	Name            string       `yaml:"name"`
	SFs             []Dependency `yaml:"sfs"`
	Classifications []Dependency `yaml:"classifications"`
}

type DeleteParams struct {
	VimID string `yaml:"vim_id,omitempty"`
}

// DecodeVM reads back the parameters and dependencies of a vm task.
func DecodeVM(row catalog.VIMAction) (VMParams, []Dependency, error) {
	var extra struct {
		Params    VMParams     `yaml:"params"`
		DependsOn []Dependency `yaml:"depends_on"`
	}
	if row.Item != ItemVM {
		return VMParams{}, nil, fmt.Errorf("task %s.%d is not a vm task", row.InstanceActionID, row.TaskIndex)
	}
	if err := yaml.Unmarshal([]byte(row.Extra), &extra); err != nil {
		return VMParams{}, nil, fmt.Errorf("decode task %s.%d: %w", row.InstanceActionID, row.TaskIndex, err)
	}
	return extra.Params, extra.DependsOn, nil
}
