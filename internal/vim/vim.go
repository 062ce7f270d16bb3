// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package vim abstracts the compute infrastructure managers instances are
// deployed to.
package vim

import (
	"context"
	"net/http"

	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
)

// Kind of resource living at a vim.
type Kind string

const (
	KindImage          Kind = "image"
	KindFlavor         Kind = "flavor"
	KindNetwork        Kind = "network"
	KindVM             Kind = "vm"
	KindSFI            Kind = "sfi"
	KindSF             Kind = "sf"
	KindSFP            Kind = "sfp"
	KindClassification Kind = "classification"
)

type NetworkType string

const (
	NetworkBridge NetworkType = "bridge"
	NetworkData   NetworkType = "data"
	NetworkPTP    NetworkType = "ptp"
)

// Addressing of the subnet created together with a network.
type IPProfile struct {
	IPVersion        string   `json:"ip-version,omitempty" yaml:"ip_version,omitempty"`
	SubnetAddress    string   `json:"subnet-address,omitempty" yaml:"subnet_address,omitempty"`
	GatewayAddress   string   `json:"gateway-address,omitempty" yaml:"gateway_address,omitempty"`
	DNSAddress       []string `json:"dns-address,omitempty" yaml:"dns_address,omitempty"`
	DHCPEnabled      *bool    `json:"dhcp-enabled,omitempty" yaml:"dhcp_enabled,omitempty"`
	DHCPStartAddress string   `json:"dhcp-start-address,omitempty" yaml:"dhcp_start_address,omitempty"`
	DHCPCount        int      `json:"dhcp-count,omitempty" yaml:"dhcp_count,omitempty"`
}

// Apply the set fields of override on top of p.
func (p *IPProfile) Apply(override *IPProfile) *IPProfile {
	if override == nil {
		return p
	}
	var merged IPProfile
	if p != nil {
		merged = *p
	}
	if override.IPVersion != "" {
		merged.IPVersion = override.IPVersion
	}
	if override.SubnetAddress != "" {
		merged.SubnetAddress = override.SubnetAddress
	}
	if override.GatewayAddress != "" {
		merged.GatewayAddress = override.GatewayAddress
	}
	if len(override.DNSAddress) > 0 {
		merged.DNSAddress = override.DNSAddress
	}
	if override.DHCPEnabled != nil {
		merged.DHCPEnabled = override.DHCPEnabled
	}
	if override.DHCPStartAddress != "" {
		merged.DHCPStartAddress = override.DHCPStartAddress
	}
	if override.DHCPCount != 0 {
		merged.DHCPCount = override.DHCPCount
	}
	return &merged
}

type Network struct {
	ID     string
	Name   string
	Status string
}

type NetworkFilter struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

type ImageSpec struct {
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	UniversalName string            `json:"universal-name,omitempty" yaml:"universal_name,omitempty"`
	Location      string            `json:"location,omitempty" yaml:"location,omitempty"`
	Checksum      string            `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	DiskFormat    string            `json:"disk-format,omitempty" yaml:"disk_format,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type Image struct {
	ID       string
	Name     string
	Checksum string
}

type ImageFilter struct {
	Name     string
	Checksum string
}

// A device described by an extended flavor.
type Device struct {
	Name  string     `json:"name,omitempty" yaml:"name,omitempty"`
	Type  string     `json:"type,omitempty" yaml:"type,omitempty"`
	Size  int        `json:"size,omitempty" yaml:"size,omitempty"`
	Image *ImageSpec `json:"image,omitempty" yaml:"image,omitempty"`
}

type FlavorExtended struct {
	Devices []Device `json:"devices,omitempty" yaml:"devices,omitempty"`
	// Extra properties passed to the vim, e.g. numa or cpu pinning hints.
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type FlavorSpec struct {
	Name     string          `json:"name,omitempty" yaml:"name,omitempty"`
	RAM      int             `json:"ram" yaml:"ram"`
	VCPUs    int             `json:"vcpus" yaml:"vcpus"`
	Disk     int             `json:"disk" yaml:"disk"`
	Extended *FlavorExtended `json:"extended,omitempty" yaml:"extended,omitempty"`
}

type Flavor struct {
	ID    string
	Name  string
	RAM   int
	VCPUs int
	Disk  int
}

// An extra disk attached to a vm on creation.
type Disk struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	ImageID string `json:"image_id,omitempty" yaml:"image_id,omitempty"`
	Size    int    `json:"size,omitempty" yaml:"size,omitempty"`
}

type VMInterface struct {
	Name         string `yaml:"name"`
	NetID        string `yaml:"net_id"`
	Use          string `yaml:"use,omitempty"`
	Type         string `yaml:"type,omitempty"`
	Model        string `yaml:"model,omitempty"`
	VPCI         string `yaml:"vpci,omitempty"`
	MACAddress   string `yaml:"mac_address,omitempty"`
	IPAddress    string `yaml:"ip_address,omitempty"`
	FloatingIP   bool   `yaml:"floating_ip,omitempty"`
	PortSecurity *bool  `yaml:"port_security,omitempty"`
}

type VMRequest struct {
	Name                  string
	Description           string
	ImageID               string
	FlavorID              string
	Interfaces            []VMInterface
	CloudConfig           *cloudinit.Config
	Disks                 []Disk
	AvailabilityZoneIndex *int
	AvailabilityZones     []string
}

// Connector is the capability set every vim type implements.
//
// Mutating calls fail with an *errdefs.BackendError carrying the http style
// status of the failure. Lookups that find nothing return a 404 backend error.
type Connector interface {
	NewNetwork(ctx context.Context, name string, netType NetworkType, ipProfile *IPProfile, wanAccount string) (string, map[string]any, error)
	GetNetworkList(ctx context.Context, filter NetworkFilter) ([]Network, error)
	DeleteNetwork(ctx context.Context, id string, extra map[string]any) error

	NewFlavor(ctx context.Context, spec FlavorSpec) (string, error)
	GetFlavor(ctx context.Context, id string) (Flavor, error)
	GetFlavorIDFromData(ctx context.Context, spec FlavorSpec) (string, error)
	DeleteFlavor(ctx context.Context, id string) error

	NewImage(ctx context.Context, spec ImageSpec) (string, error)
	GetImageList(ctx context.Context, filter ImageFilter) ([]Image, error)
	GetImageIDFromPath(ctx context.Context, path string) (string, error)
	DeleteImage(ctx context.Context, id string) error

	NewVMInstance(ctx context.Context, req VMRequest) (string, map[string]any, error)
	DeleteVMInstance(ctx context.Context, id string, extra map[string]any) error
}

type SFIRequest struct {
	Name        string   `yaml:"name"`
	IngressPort string   `yaml:"ingress_port"`
	EgressPort  string   `yaml:"egress_port"`
	Correlation string   `yaml:"correlation,omitempty"`
	Ports       []string `yaml:"ports,omitempty"`
}

type SFRequest struct {
	Name string   `yaml:"name"`
	SFIs []string `yaml:"sfis"`
}

type ClassificationRequest struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Definition map[string]string `yaml:"definition"`
}

type SFPRequest struct {
	Name            string   `yaml:"name"`
	Classifications []string `yaml:"classifications"`
	SFs             []string `yaml:"sfs"`
	SPI             int      `yaml:"spi,omitempty"`
}

// SFCConnector is implemented by vims supporting service function chaining.
type SFCConnector interface {
	NewSFI(ctx context.Context, req SFIRequest) (string, error)
	DeleteSFI(ctx context.Context, id string) error
	NewSF(ctx context.Context, req SFRequest) (string, error)
	DeleteSF(ctx context.Context, id string) error
	NewClassification(ctx context.Context, req ClassificationRequest) (string, error)
	DeleteClassification(ctx context.Context, id string) error
	NewSFP(ctx context.Context, req SFPRequest) (string, error)
	DeleteSFP(ctx context.Context, id string) error
}

// Account is a connected vim account together with its static settings.
type Account struct {
	ID             string
	Name           string
	DatacenterID   string
	DatacenterName string
	Type           string

	AvailabilityZones     []string
	ManagementNetworkID   string
	ManagementNetworkName string

	Connector
}

// Delete the resource of the given kind, used for compensation.
func (a *Account) Delete(ctx context.Context, kind Kind, id string) error {
	switch kind {
	case KindImage:
		return a.DeleteImage(ctx, id)
	case KindFlavor:
		return a.DeleteFlavor(ctx, id)
	case KindNetwork:
		return a.DeleteNetwork(ctx, id, nil)
	case KindVM:
		return a.DeleteVMInstance(ctx, id, nil)
	}
	sfc, ok := a.Connector.(SFCConnector)
	if !ok {
		return errdefs.Backendf(http.StatusNotImplemented, "vim %s does not support %s", a.ID, kind)
	}
	switch kind {
	case KindSFI:
		return sfc.DeleteSFI(ctx, id)
	case KindSF:
		return sfc.DeleteSF(ctx, id)
	case KindClassification:
		return sfc.DeleteClassification(ctx, id)
	case KindSFP:
		return sfc.DeleteSFP(ctx, id)
	default:
		return errdefs.Backendf(http.StatusBadRequest, "unknown resource kind %q", kind)
	}
}

// Index of the zone in the account's availability zones, or -1.
func (a *Account) ZoneIndex(zone string) int {
	for i, z := range a.AvailabilityZones {
		if z == zone {
			return i
		}
	}
	return -1
}
