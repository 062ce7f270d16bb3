// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package topology merges a network service template with the overrides of
// an instantiation request into a deployment plan.
package topology

import (
	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/vim"
)

// Interface uses.
const (
	UseMgmt   = "mgmt"
	UseBridge = "bridge"
	UseData   = "data"
)

// Template is a normalized network service template.
type Template struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CloudConfig *cloudinit.Config `json:"cloud-config,omitempty"`
	Networks    []Network         `json:"networks,omitempty"`
	VNFs        []VNF             `json:"vnfs"`
	VNFFGs      []VNFFG           `json:"vnffgs,omitempty"`
}

// Network interconnecting vnfs of the service.
type Network struct {
	Name      string          `json:"name"`
	Type      vim.NetworkType `json:"type,omitempty"`
	External  bool            `json:"external,omitempty"`
	IPProfile *vim.IPProfile  `json:"ip-profile,omitempty"`
	// Native id of a pre-existing network external networks map to.
	VimID     string     `json:"vim-id,omitempty"`
	Endpoints []Endpoint `json:"endpoints,omitempty"`
}

// Endpoint is a vdu interface attached to a network.
type Endpoint struct {
	MemberVNFIndex string `json:"member-vnf-index"`
	VDU            string `json:"vdu-id"`
	Interface      string `json:"interface"`
}

type VNF struct {
	MemberVNFIndex string            `json:"member-vnf-index"`
	Name           string            `json:"name"`
	BootData       *cloudinit.Config `json:"boot-data,omitempty"`
	Networks       []InternalNetwork `json:"networks,omitempty"`
	VDUs           []VDU             `json:"vdus"`
}

// InternalNetwork only connects vdus of one vnf.
type InternalNetwork struct {
	Name      string          `json:"name"`
	Type      vim.NetworkType `json:"type,omitempty"`
	IPProfile *vim.IPProfile  `json:"ip-profile,omitempty"`
}

// VDU is a vm blueprint, instantiated Count times.
type VDU struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Count            int               `json:"count,omitempty"`
	Image            vim.ImageSpec     `json:"image"`
	Flavor           vim.FlavorSpec    `json:"flavor"`
	AvailabilityZone string            `json:"availability-zone,omitempty"`
	BootData         *cloudinit.Config `json:"boot-data,omitempty"`
	Interfaces       []Interface       `json:"interfaces,omitempty"`
}

type Interface struct {
	Name         string `json:"name"`
	Use          string `json:"use,omitempty"`
	Model        string `json:"model,omitempty"`
	VPCI         string `json:"vpci,omitempty"`
	MACAddress   string `json:"mac-address,omitempty"`
	IPAddress    string `json:"ip-address,omitempty"`
	FloatingIP   bool   `json:"floating-ip,omitempty"`
	PortSecurity *bool  `json:"port-security,omitempty"`
	// Name of the vnf internal network the interface is attached to.
	InternalNet string `json:"internal-net,omitempty"`
}

// VNFFG is a forwarding graph made of rendered service paths.
type VNFFG struct {
	Name        string       `json:"name"`
	RSPs        []RSP        `json:"rsps"`
	Classifiers []Classifier `json:"classifiers,omitempty"`
}

type RSP struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Hops []Hop  `json:"hops"`
}

// Hop is one service function of a path.
type Hop struct {
	MemberVNFIndex string `json:"member-vnf-index"`
	VDU            string `json:"vdu-id"`
	Ingress        string `json:"ingress-interface"`
	Egress         string `json:"egress-interface"`
}

// Classifier steers traffic matching any of its matches into a path.
type Classifier struct {
	Name           string              `json:"name"`
	RSP            string              `json:"rsp"`
	MemberVNFIndex string              `json:"member-vnf-index"`
	VDU            string              `json:"vdu-id"`
	Interface      string              `json:"interface"`
	Matches        []map[string]string `json:"matches"`
}
