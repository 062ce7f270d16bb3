// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/pkg/db"
)

// State is everything persisted about one deployed instance.
type State struct {
	Instance        Instance
	Nets            []InstanceNet
	IPProfiles      []IPProfile
	VNFs            []InstanceVNF
	VMs             []InstanceVM
	Interfaces      []InstanceInterface
	SFIs            []InstanceSFI
	SFs             []InstanceSF
	Classifications []InstanceClassification
	SFPs            []InstanceSFP
	WIMNets         []InstanceWIMNet
}

// VNF returns the vnf row with the given id.
func (s *State) VNF(id string) (InstanceVNF, bool) {
	for _, vnf := range s.VNFs {
		if vnf.ID == id {
			return vnf, true
		}
	}
	return InstanceVNF{}, false
}

// InterfacesOf returns the interfaces of the vm, in insertion order.
func (s *State) InterfacesOf(vmID string) []InstanceInterface {
	var out []InstanceInterface
	for _, iface := range s.Interfaces {
		if iface.InstanceVMID == vmID {
			out = append(out, iface)
		}
	}
	return out
}

func (s *Store) GetInstance(tenantID, id string) (*Instance, error) {
	var instance Instance
	found, err := s.selectOne("get instance", &instance,
		"SELECT * FROM instance_scenarios WHERE id = :id AND tenant_id = :tenant",
		map[string]any{"id": id, "tenant": tenantID})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errdefs.NotFoundf("instance %s not found", id)
	}
	return &instance, nil
}

// LoadInstance reads the full state of the instance owned by the tenant.
func (s *Store) LoadInstance(tenantID, id string) (*State, error) {
	instance, err := s.GetInstance(tenantID, id)
	if err != nil {
		return nil, err
	}
	state := &State{Instance: *instance}
	args := map[string]any{"id": id}
	if state.Nets, err = selectAll[InstanceNet](s, "load nets",
		"SELECT * FROM instance_nets WHERE instance_id = :id ORDER BY created_at, id", args); err != nil {
		return nil, err
	}
	if state.IPProfiles, err = selectAll[IPProfile](s, "load ip profiles",
		`SELECT p.* FROM ip_profiles p JOIN instance_nets n ON p.instance_net_id = n.id
		WHERE n.instance_id = :id`, args); err != nil {
		return nil, err
	}
	if state.VNFs, err = selectAll[InstanceVNF](s, "load vnfs",
		"SELECT * FROM instance_vnfs WHERE instance_id = :id ORDER BY created_at, id", args); err != nil {
		return nil, err
	}
	if state.VMs, err = selectAll[InstanceVM](s, "load vms",
		"SELECT * FROM instance_vms WHERE instance_id = :id ORDER BY created_at, id", args); err != nil {
		return nil, err
	}
	if state.Interfaces, err = selectAll[InstanceInterface](s, "load interfaces",
		`SELECT i.* FROM instance_interfaces i JOIN instance_vms v ON i.instance_vm_id = v.id
		WHERE v.instance_id = :id ORDER BY v.created_at, i.position`, args); err != nil {
		return nil, err
	}
	if state.SFIs, err = selectAll[InstanceSFI](s, "load sfis",
		"SELECT * FROM instance_sfis WHERE instance_id = :id ORDER BY id", args); err != nil {
		return nil, err
	}
	if state.SFs, err = selectAll[InstanceSF](s, "load sfs",
		"SELECT * FROM instance_sfs WHERE instance_id = :id ORDER BY id", args); err != nil {
		return nil, err
	}
	if state.Classifications, err = selectAll[InstanceClassification](s, "load classifications",
		"SELECT * FROM instance_classifications WHERE instance_id = :id ORDER BY id", args); err != nil {
		return nil, err
	}
	if state.SFPs, err = selectAll[InstanceSFP](s, "load sfps",
		"SELECT * FROM instance_sfps WHERE instance_id = :id ORDER BY id", args); err != nil {
		return nil, err
	}
	if state.WIMNets, err = selectAll[InstanceWIMNet](s, "load wim nets",
		"SELECT * FROM instance_wim_nets WHERE instance_id = :id ORDER BY id", args); err != nil {
		return nil, err
	}
	return state, nil
}

// PurgeInstance schedules the removal of all rows of the instance.
// Actions are kept, so their status can still be queried.
func (b *Batch) PurgeInstance(state *State) {
	for i := range state.Interfaces {
		b.Delete(&state.Interfaces[i])
	}
	for i := range state.IPProfiles {
		b.Delete(&state.IPProfiles[i])
	}
	id := state.Instance.ID
	for _, t := range []db.Table{
		InstanceSFP{}, InstanceClassification{}, InstanceSF{}, InstanceSFI{},
		InstanceVM{}, InstanceVNF{}, InstanceWIMNet{}, InstanceNet{},
	} {
		b.Purge(t, "instance_id", id)
	}
	b.Purge(Instance{}, "id", id)
}

// GetAction returns the action of the tenant with its scheduled tasks.
func (s *Store) GetAction(tenantID, id string) (*InstanceAction, []VIMAction, error) {
	var action InstanceAction
	found, err := s.selectOne("get action", &action,
		"SELECT * FROM instance_actions WHERE id = :id AND tenant_id = :tenant",
		map[string]any{"id": id, "tenant": tenantID})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, errdefs.NotFoundf("action %s not found", id)
	}
	tasks, err := selectAll[VIMAction](s, "load tasks",
		"SELECT * FROM vim_actions WHERE instance_action_id = :id ORDER BY task_index",
		map[string]any{"id": id})
	if err != nil {
		return nil, nil, err
	}
	return &action, tasks, nil
}

// FindCreateTask returns the task that created the given item.
func (s *Store) FindCreateTask(item, itemID string) (*VIMAction, error) {
	var task VIMAction
	found, err := s.selectOne("find create task", &task,
		`SELECT * FROM vim_actions WHERE item = :item AND item_id = :item_id AND verb = 'CREATE'
		ORDER BY created_at DESC LIMIT 1`,
		map[string]any{"item": item, "item_id": itemID})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errdefs.NotFoundf("no create task for %s %s", item, itemID)
	}
	return &task, nil
}
