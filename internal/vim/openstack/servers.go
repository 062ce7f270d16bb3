// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/portsecurity"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
)

// Key in the vm extra data listing the ports created for the vm.
const extraPorts = "ports"

// NewVMInstance boots a server. Interfaces with a fixed mac address or port
// security settings get a dedicated port, all others attach to their network
// directly. Ports created here are returned in the extra data so that
// DeleteVMInstance can remove them again.
func (c *Connector) NewVMInstance(ctx context.Context, req vim.VMRequest) (string, map[string]any, error) {
	userData, err := cloudinit.Render(req.CloudConfig)
	if err != nil {
		return "", nil, errdefs.WrapBackend(http.StatusBadRequest, err, "invalid cloud config for %s", req.Name)
	}
	var createdPorts []string
	cleanup := func() {
		for _, id := range createdPorts {
			if err := c.deletePort(ctx, id); err != nil {
				slog.Warn("failed to clean up port", "account", c.accountID, "port", id, "error", err)
			}
		}
	}
	nets := make([]servers.Network, 0, len(req.Interfaces))
	for _, iface := range req.Interfaces {
		if iface.MACAddress == "" && iface.PortSecurity == nil {
			nets = append(nets, servers.Network{UUID: iface.NetID, FixedIP: iface.IPAddress})
			continue
		}
		portID, err := c.createPort(ctx, req.Name+"-"+iface.Name, iface)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		createdPorts = append(createdPorts, portID)
		nets = append(nets, servers.Network{Port: portID})
	}

	opts := servers.CreateOpts{
		Name:      req.Name,
		ImageRef:  req.ImageID,
		FlavorRef: req.FlavorID,
		Networks:  nets,
		UserData:  userData,
		Metadata:  map[string]string{"managed-by": "conductor"},
	}
	if req.Description != "" {
		opts.Metadata["description"] = req.Description
	}
	if req.CloudConfig != nil && req.CloudConfig.BootDataDrive != nil {
		opts.ConfigDrive = req.CloudConfig.BootDataDrive
	}
	if idx := req.AvailabilityZoneIndex; idx != nil && *idx >= 0 && *idx < len(req.AvailabilityZones) {
		opts.AvailabilityZone = req.AvailabilityZones[*idx]
	}
	if len(req.Disks) > 0 {
		opts.BlockDevice = blockDevices(req.ImageID, req.Disks)
	}
	server, err := call(c, "create server", func() (*servers.Server, error) {
		return servers.Create(ctx, c.compute, opts, nil).Extract()
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	extra := map[string]any{}
	if len(createdPorts) > 0 {
		extra[extraPorts] = createdPorts
	}
	return server.ID, extra, nil
}

func blockDevices(imageID string, disks []vim.Disk) []servers.BlockDevice {
	devices := []servers.BlockDevice{{
		SourceType:          servers.SourceImage,
		DestinationType:     servers.DestinationLocal,
		UUID:                imageID,
		BootIndex:           0,
		DeleteOnTermination: true,
	}}
	for _, disk := range disks {
		device := servers.BlockDevice{
			SourceType:          servers.SourceBlank,
			DestinationType:     servers.DestinationVolume,
			VolumeSize:          disk.Size,
			BootIndex:           -1,
			DeleteOnTermination: true,
		}
		if disk.ImageID != "" {
			device.SourceType = servers.SourceImage
			device.UUID = disk.ImageID
		}
		devices = append(devices, device)
	}
	return devices
}

func (c *Connector) createPort(ctx context.Context, name string, iface vim.VMInterface) (string, error) {
	var opts ports.CreateOptsBuilder
	base := ports.CreateOpts{
		NetworkID:  iface.NetID,
		Name:       name,
		MACAddress: iface.MACAddress,
	}
	if iface.IPAddress != "" {
		base.FixedIPs = []ports.IP{{IPAddress: iface.IPAddress}}
	}
	opts = base
	if iface.PortSecurity != nil {
		opts = portsecurity.PortCreateOptsExt{
			CreateOptsBuilder:   base,
			PortSecurityEnabled: iface.PortSecurity,
		}
	}
	port, err := call(c, "create port", func() (*ports.Port, error) {
		return ports.Create(ctx, c.network, opts).Extract()
	})
	if err != nil {
		return "", err
	}
	return port.ID, nil
}

func (c *Connector) deletePort(ctx context.Context, id string) error {
	_, err := call(c, "delete port "+id, func() (struct{}, error) {
		return struct{}{}, ports.Delete(ctx, c.network, id).ExtractErr()
	})
	if errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// DeleteVMInstance deletes the server and the ports created for it.
func (c *Connector) DeleteVMInstance(ctx context.Context, id string, extra map[string]any) error {
	_, err := call(c, "delete server "+id, func() (struct{}, error) {
		return struct{}{}, servers.Delete(ctx, c.compute, id).ExtractErr()
	})
	if err != nil {
		return err
	}
	for _, portID := range portsFromExtra(extra) {
		if err := c.deletePort(ctx, portID); err != nil {
			return err
		}
	}
	return nil
}

func portsFromExtra(extra map[string]any) []string {
	switch v := extra[extraPorts].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
