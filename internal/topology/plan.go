// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"net/netip"

	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/majewsky/gg/option"
)

// Plan is a template with all request overrides applied and all vim
// accounts resolved.
type Plan struct {
	Name        string
	Description string
	TemplateID  string
	// The default account of the instance.
	Default *vim.Account
	// Request cloud config merged over the template one.
	CloudConfig *cloudinit.Config

	Networks []*PlanNetwork
	VNFs     []*PlanVNF
	VNFFGs   []VNFFG
}

// Accounts returns every account referenced by the plan, default first.
func (p *Plan) Accounts() []*vim.Account {
	accounts := []*vim.Account{p.Default}
	seen := map[string]bool{p.Default.ID: true}
	add := func(a *vim.Account) {
		if a != nil && !seen[a.ID] {
			seen[a.ID] = true
			accounts = append(accounts, a)
		}
	}
	for _, vnf := range p.VNFs {
		add(vnf.Account)
	}
	for _, net := range p.Networks {
		for _, site := range net.Sites {
			add(site.Account)
		}
	}
	return accounts
}

// VNF returns the vnf with the given member index, or nil.
func (p *Plan) VNF(memberVNFIndex string) *PlanVNF {
	for _, vnf := range p.VNFs {
		if vnf.MemberVNFIndex == memberVNFIndex {
			return vnf
		}
	}
	return nil
}

type PlanNetwork struct {
	Name string
	// Set for networks internal to a vnf.
	VNF       *PlanVNF
	Type      vim.NetworkType
	External  bool
	IPProfile *vim.IPProfile
	// Native id known for an external network.
	VimID string
	// Existing network to use instead of creating one.
	VimNetworkName string
	VimNetworkID   string
	Sites          []SiteHint
	WAN            WANSelection
}

// Site hint of the network at the given account.
func (n *PlanNetwork) Site(accountID string) (SiteHint, bool) {
	for _, s := range n.Sites {
		if s.Account.ID == accountID {
			return s, true
		}
	}
	return SiteHint{}, false
}

// SiteHint is a resolved Site.
type SiteHint struct {
	Account      *vim.Account
	NetmapUse    string
	NetmapCreate string
}

type PlanVNF struct {
	MemberVNFIndex string
	Name           string
	Account        *vim.Account
	VMs            []*PlanVM
}

// PlanVM is a vdu ready for instantiation.
type PlanVM struct {
	VDU string
	// Name of the replicas without ordinal.
	Name        string
	Description string
	Count       int
	Image       vim.ImageSpec
	Flavor      vim.FlavorSpec
	// Index into the account's availability zones.
	ZoneIndex   option.Option[int]
	CloudConfig *cloudinit.Config
	Interfaces  []*PlanInterface
	// Requested sizes of flavor devices, by device name.
	DiskSizes map[string]int

	// Native ids and disks at the vnf account, filled in by deduplication.
	ImageID  string
	FlavorID string
	Disks    []vim.Disk
}

// Interface returns the interface with the given name, or nil.
func (vm *PlanVM) Interface(name string) *PlanInterface {
	for _, iface := range vm.Interfaces {
		if iface.Name == name {
			return iface
		}
	}
	return nil
}

// HasMgmt reports whether the vm has a management interface.
func (vm *PlanVM) HasMgmt() bool {
	for _, iface := range vm.Interfaces {
		if iface.Use == UseMgmt {
			return true
		}
	}
	return false
}

// PlanInterface is a vm interface bound to a plan network.
type PlanInterface struct {
	Name string
	Use  string
	// Interface type passed to the vim: "virtual" or the data plane model.
	Type    string
	Model   string
	VPCI    string
	Network *PlanNetwork

	IPAddress    option.Option[netip.Addr]
	MACAddress   option.Option[string]
	FloatingIP   bool
	PortSecurity option.Option[bool]
}
