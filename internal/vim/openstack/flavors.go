// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
)

func (c *Connector) NewFlavor(ctx context.Context, spec vim.FlavorSpec) (string, error) {
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("conductor-%dc-%dm-%dg", spec.VCPUs, spec.RAM, spec.Disk)
	}
	disk := spec.Disk
	flavor, err := call(c, "create flavor", func() (*flavors.Flavor, error) {
		return flavors.Create(ctx, c.compute, flavors.CreateOpts{
			Name:  name,
			RAM:   spec.RAM,
			VCPUs: spec.VCPUs,
			Disk:  &disk,
		}).Extract()
	})
	if err != nil {
		return "", err
	}
	if spec.Extended != nil && len(spec.Extended.Properties) > 0 {
		_, err := call(c, "set flavor extra specs", func() (map[string]string, error) {
			return flavors.CreateExtraSpecs(ctx, c.compute, flavor.ID, flavors.ExtraSpecsOpts(spec.Extended.Properties)).Extract()
		})
		if err != nil {
			if delErr := c.DeleteFlavor(ctx, flavor.ID); delErr != nil {
				return "", fmt.Errorf("%w (cleanup failed: %w)", err, delErr)
			}
			return "", err
		}
	}
	return flavor.ID, nil
}

func (c *Connector) GetFlavor(ctx context.Context, id string) (vim.Flavor, error) {
	return call(c, "get flavor "+id, func() (vim.Flavor, error) {
		f, err := flavors.Get(ctx, c.compute, id).Extract()
		if err != nil {
			return vim.Flavor{}, err
		}
		return vim.Flavor{ID: f.ID, Name: f.Name, RAM: f.RAM, VCPUs: f.VCPUs, Disk: f.Disk}, nil
	})
}

// GetFlavorIDFromData finds the existing flavor with exactly the requested
// sizing. Flavors carrying extra properties are never matched, since nova
// does not filter on extra specs. Several flavors of the same sizing are a
// conflict, the same as duplicate images.
func (c *Connector) GetFlavorIDFromData(ctx context.Context, spec vim.FlavorSpec) (string, error) {
	if spec.Extended != nil && len(spec.Extended.Properties) > 0 {
		return "", errdefs.Backendf(http.StatusNotFound, "no flavor with matching extra specs")
	}
	ids, err := call(c, "find flavor", func() ([]string, error) {
		pages, err := flavors.ListDetail(c.compute, flavors.ListOpts{
			MinDisk:    spec.Disk,
			MinRAM:     spec.RAM,
			AccessType: flavors.AllAccess,
		}).AllPages(ctx)
		if err != nil {
			return nil, err
		}
		found, err := flavors.ExtractFlavors(pages)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, f := range found {
			if f.RAM == spec.RAM && f.VCPUs == spec.VCPUs && f.Disk == spec.Disk {
				ids = append(ids, f.ID)
			}
		}
		return ids, nil
	})
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", errdefs.Backendf(http.StatusNotFound, "no flavor with ram=%d vcpus=%d disk=%d at vim %s",
			spec.RAM, spec.VCPUs, spec.Disk, c.accountID)
	case 1:
		return ids[0], nil
	default:
		return "", errdefs.Conflictf("%d flavors with ram=%d vcpus=%d disk=%d found at vim %s",
			len(ids), spec.RAM, spec.VCPUs, spec.Disk, c.accountID)
	}
}

func (c *Connector) DeleteFlavor(ctx context.Context, id string) error {
	_, err := call(c, "delete flavor "+id, func() (struct{}, error) {
		return struct{}{}, flavors.Delete(ctx, c.compute, id).ExtractErr()
	})
	return err
}
