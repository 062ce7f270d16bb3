// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"encoding/json"
	"fmt"

	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/vim"
)

// Request carries the per instantiation overrides of a template.
type Request struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Default datacenter (or vim account) of the instance.
	Datacenter  string            `json:"datacenter"`
	CloudConfig *cloudinit.Config `json:"cloud-config,omitempty"`
	// Wan account of networks whose override does not select one.
	WAN WANSelection `json:"wim-account,omitzero"`
	// Keys injected into every vm with a management interface.
	MgmtKeys []string `json:"mgmt-keys,omitempty"`
	// Keyed by template network name.
	Networks map[string]NetworkOverride `json:"networks,omitempty"`
	// Keyed by member vnf index or vnf name.
	VNFs map[string]VNFOverride `json:"vnfs,omitempty"`
}

type NetworkOverride struct {
	Sites          []Site         `json:"sites,omitempty"`
	IPProfile      *vim.IPProfile `json:"ip-profile,omitempty"`
	WAN            WANSelection   `json:"wim-account,omitzero"`
	VimNetworkName string         `json:"vim-network-name,omitempty"`
}

// Site maps a network onto one datacenter. A site without datacenter applies
// to the default datacenter.
type Site struct {
	Datacenter string `json:"datacenter,omitempty"`
	// Name or id of an existing network to use.
	NetmapUse string `json:"netmap-use,omitempty"`
	// Name of the network to create.
	NetmapCreate string `json:"netmap-create,omitempty"`
}

type VNFOverride struct {
	Datacenter string `json:"datacenter,omitempty"`
	// Keyed by vdu id or name.
	VDUs map[string]VDUOverride `json:"vdus,omitempty"`
	// Keyed by internal network name.
	Networks map[string]InternalNetworkOverride `json:"networks,omitempty"`
}

type InternalNetworkOverride struct {
	IPProfile      *vim.IPProfile `json:"ip-profile,omitempty"`
	VimNetworkName string         `json:"vim-network-name,omitempty"`
	VimNetworkID   string         `json:"vim-network-id,omitempty"`
}

type VDUOverride struct {
	Name        string            `json:"name,omitempty"`
	MgmtKeys    []string          `json:"mgmt-keys,omitempty"`
	CloudConfig *cloudinit.Config `json:"cloud-config,omitempty"`
	// Keyed by flavor device name.
	Devices map[string]DeviceOverride `json:"devices,omitempty"`
	// Keyed by interface name.
	Interfaces map[string]InterfaceOverride `json:"interfaces,omitempty"`
}

type DeviceOverride struct {
	Size int `json:"size"`
}

type InterfaceOverride struct {
	IPAddress    string `json:"ip-address,omitempty"`
	MACAddress   string `json:"mac-address,omitempty"`
	FloatingIP   *bool  `json:"floating-ip,omitempty"`
	PortSecurity *bool  `json:"port-security,omitempty"`
}

type wanMode int

const (
	wanAuto wanMode = iota
	wanExplicit
	wanNone
)

// WANSelection picks the wan account interconnecting a network spread over
// several datacenters. The zero value is unset and selects automatically.
//
// In json it is either true or "auto" (automatic), false or "none" (no wan)
// or the id of a wan account.
type WANSelection struct {
	mode    wanMode
	account string
	set     bool
}

func AutoWAN() WANSelection { return WANSelection{set: true} }

func NoWAN() WANSelection { return WANSelection{mode: wanNone, set: true} }

func ExplicitWAN(account string) WANSelection {
	return WANSelection{mode: wanExplicit, account: account, set: true}
}

// Or returns fallback if w was never set.
func (w WANSelection) Or(fallback WANSelection) WANSelection {
	if w.set {
		return w
	}
	return fallback
}

func (w WANSelection) IsAuto() bool { return w.mode == wanAuto }

func (w WANSelection) IsNone() bool { return w.mode == wanNone }

// Account returns the explicitly selected wan account.
func (w WANSelection) Account() (string, bool) {
	return w.account, w.mode == wanExplicit
}

func (w WANSelection) String() string {
	switch w.mode {
	case wanNone:
		return "none"
	case wanExplicit:
		return w.account
	default:
		return "auto"
	}
}

func (w WANSelection) MarshalJSON() ([]byte, error) {
	switch w.mode {
	case wanNone:
		return json.Marshal(false)
	case wanExplicit:
		return json.Marshal(w.account)
	default:
		return json.Marshal(true)
	}
}

func (w *WANSelection) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	switch v := value.(type) {
	case nil:
		*w = WANSelection{}
	case bool:
		if v {
			*w = AutoWAN()
		} else {
			*w = NoWAN()
		}
	case string:
		switch v {
		case "", "auto":
			*w = AutoWAN()
		case "none":
			*w = NoWAN()
		default:
			*w = ExplicitWAN(v)
		}
	default:
		return fmt.Errorf("wim-account must be a boolean or an account id, got %s", string(data))
	}
	return nil
}
