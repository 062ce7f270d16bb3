// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"
)

// NewNetwork creates a neutron network and, if an ip profile is given, its
// subnet. Data and point-to-point networks are created as regular tenant
// networks, provider attributes are reserved for admins.
func (c *Connector) NewNetwork(ctx context.Context, name string, netType vim.NetworkType, ipProfile *vim.IPProfile, _ string) (string, map[string]any, error) {
	adminStateUp := true
	network, err := call(c, "create network", func() (*networks.Network, error) {
		return networks.Create(ctx, c.network, networks.CreateOpts{
			Name:         name,
			AdminStateUp: &adminStateUp,
		}).Extract()
	})
	if err != nil {
		return "", nil, err
	}
	extra := map[string]any{"type": string(netType)}
	if ipProfile == nil {
		return network.ID, extra, nil
	}
	opts, err := subnetOpts(network.ID, name+"-subnet", ipProfile)
	if err != nil {
		c.cleanupNetwork(ctx, network.ID)
		return "", nil, err
	}
	subnet, err := call(c, "create subnet", func() (*subnets.Subnet, error) {
		return subnets.Create(ctx, c.network, opts).Extract()
	})
	if err != nil {
		c.cleanupNetwork(ctx, network.ID)
		return "", nil, err
	}
	extra["subnet_id"] = subnet.ID
	return network.ID, extra, nil
}

func (c *Connector) cleanupNetwork(ctx context.Context, id string) {
	if err := c.DeleteNetwork(ctx, id, nil); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to clean up half created network", "account", c.accountID, "network", id, "error", err)
	}
}

func subnetOpts(networkID, name string, p *vim.IPProfile) (subnets.CreateOpts, error) {
	prefix, err := netip.ParsePrefix(p.SubnetAddress)
	if err != nil {
		return subnets.CreateOpts{}, errdefs.Validationf("invalid subnet address %q: %v", p.SubnetAddress, err)
	}
	version := gophercloud.IPv4
	if prefix.Addr().Is6() || p.IPVersion == "IPv6" {
		version = gophercloud.IPv6
	}
	opts := subnets.CreateOpts{
		NetworkID:      networkID,
		Name:           name,
		CIDR:           prefix.String(),
		IPVersion:      version,
		DNSNameservers: p.DNSAddress,
		EnableDHCP:     p.DHCPEnabled,
	}
	if p.GatewayAddress != "" {
		gateway := p.GatewayAddress
		opts.GatewayIP = &gateway
	}
	if p.DHCPStartAddress != "" && p.DHCPCount > 0 {
		start, err := netip.ParseAddr(p.DHCPStartAddress)
		if err != nil {
			return subnets.CreateOpts{}, errdefs.Validationf("invalid dhcp start address %q: %v", p.DHCPStartAddress, err)
		}
		end := start
		for range p.DHCPCount - 1 {
			next := end.Next()
			if !next.IsValid() || !prefix.Contains(next) {
				break
			}
			end = next
		}
		opts.AllocationPools = []subnets.AllocationPool{{Start: start.String(), End: end.String()}}
	}
	return opts, nil
}

func (c *Connector) GetNetworkList(ctx context.Context, filter vim.NetworkFilter) ([]vim.Network, error) {
	return call(c, "list networks", func() ([]vim.Network, error) {
		pages, err := networks.List(c.network, networks.ListOpts{ID: filter.ID, Name: filter.Name}).AllPages(ctx)
		if err != nil {
			return nil, err
		}
		found, err := networks.ExtractNetworks(pages)
		if err != nil {
			return nil, err
		}
		out := make([]vim.Network, 0, len(found))
		for _, n := range found {
			out = append(out, vim.Network{ID: n.ID, Name: n.Name, Status: n.Status})
		}
		return out, nil
	})
}

func (c *Connector) DeleteNetwork(ctx context.Context, id string, _ map[string]any) error {
	_, err := call(c, "delete network "+id, func() (struct{}, error) {
		return struct{}{}, networks.Delete(ctx, c.network, id).ExtractErr()
	})
	return err
}
