// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/cobaltcore-dev/conductor/internal/catalog"
)

type instanceView struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	TemplateID  string        `json:"template_id"`
	AccountID   string        `json:"datacenter_account_id"`
	CreatedAt   int64         `json:"created_at"`
	Nets        []netView     `json:"nets"`
	VNFs        []vnfView     `json:"vnfs"`
	WANLinks    []wanLinkView `json:"wan_links,omitempty"`
}

type netView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	Type      string `json:"type"`
	VimID     string `json:"vim_id,omitempty"`
	Created   bool   `json:"created"`
	External  bool   `json:"external,omitempty"`
	// Set for networks internal to a vnf.
	VNFID string `json:"vnf_id,omitempty"`
}

type vnfView struct {
	ID             string   `json:"id"`
	MemberVNFIndex string   `json:"member_vnf_index"`
	Name           string   `json:"name"`
	AccountID      string   `json:"account_id"`
	VMs            []vmView `json:"vms"`
}

type vmView struct {
	ID         string          `json:"id"`
	VDUID      string          `json:"vdu_id"`
	Name       string          `json:"name"`
	VimID      string          `json:"vim_id,omitempty"`
	Interfaces []interfaceView `json:"interfaces"`
}

type interfaceView struct {
	Name       string `json:"name"`
	NetID      string `json:"net_id"`
	Type       string `json:"type"`
	IPAddress  string `json:"ip_address,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`
}

type wanLinkView struct {
	ID           string `json:"id"`
	WANAccountID string `json:"wan_account_id"`
	NetID        string `json:"net_id"`
}

func newInstanceView(state *catalog.State) instanceView {
	view := instanceView{
		ID:          state.Instance.ID,
		Name:        state.Instance.Name,
		Description: state.Instance.Description,
		TemplateID:  state.Instance.TemplateID,
		AccountID:   state.Instance.AccountID,
		CreatedAt:   state.Instance.CreatedAt,
		Nets:        []netView{},
		VNFs:        []vnfView{},
	}
	for _, n := range state.Nets {
		view.Nets = append(view.Nets, netView{
			ID:        n.ID,
			Name:      n.NetName,
			AccountID: n.AccountID,
			Type:      n.Type,
			VimID:     n.VimID,
			Created:   n.Created,
			External:  n.External,
			VNFID:     n.InstanceVNFID,
		})
	}
	for _, vnf := range state.VNFs {
		v := vnfView{
			ID:             vnf.ID,
			MemberVNFIndex: vnf.MemberVNFIndex,
			Name:           vnf.VNFName,
			AccountID:      vnf.AccountID,
			VMs:            []vmView{},
		}
		for _, vm := range state.VMs {
			if vm.InstanceVNFID != vnf.ID {
				continue
			}
			vmv := vmView{ID: vm.ID, VDUID: vm.VDUID, Name: vm.Name, VimID: vm.VimID, Interfaces: []interfaceView{}}
			for _, iface := range state.InterfacesOf(vm.ID) {
				vmv.Interfaces = append(vmv.Interfaces, interfaceView{
					Name:       iface.Name,
					NetID:      iface.InstanceNetID,
					Type:       iface.Type,
					IPAddress:  iface.IPAddress,
					MACAddress: iface.MACAddress,
				})
			}
			v.VMs = append(v.VMs, vmv)
		}
		view.VNFs = append(view.VNFs, v)
	}
	for _, link := range state.WIMNets {
		view.WANLinks = append(view.WANLinks, wanLinkView{ID: link.ID, WANAccountID: link.WANAccountID, NetID: link.InstanceNetID})
	}
	return view
}

type actionView struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	Kind        string     `json:"kind"`
	Description string     `json:"description,omitempty"`
	TaskCount   int        `json:"task_count"`
	CreatedAt   int64      `json:"created_at"`
	Tasks       []taskView `json:"tasks"`
}

type taskView struct {
	Index     int    `json:"task_index"`
	AccountID string `json:"account_id"`
	Verb      string `json:"verb"`
	Item      string `json:"item"`
	ItemID    string `json:"item_id"`
	Status    string `json:"status"`
	// Yaml encoded parameters and dependencies.
	Extra string `json:"extra"`
}

func newActionView(action *catalog.InstanceAction, tasks []catalog.VIMAction) actionView {
	view := actionView{
		ID:          action.ID,
		InstanceID:  action.InstanceID,
		Kind:        action.Kind,
		Description: action.Description,
		TaskCount:   action.TaskCount,
		CreatedAt:   action.CreatedAt,
		Tasks:       make([]taskView, 0, len(tasks)),
	}
	for _, t := range tasks {
		view.Tasks = append(view.Tasks, taskView{
			Index:     t.TaskIndex,
			AccountID: t.AccountID,
			Verb:      t.Verb,
			Item:      t.Item,
			ItemID:    t.ItemID,
			Status:    t.Status,
			Extra:     t.Extra,
		})
	}
	return view
}
