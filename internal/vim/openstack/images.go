// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/imageimport"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
)

// Image property remembering where an image was imported from.
const locationProperty = "conductor_location"

// NewImage registers the image in glance and, for http locations, lets
// glance download it.
func (c *Connector) NewImage(ctx context.Context, spec vim.ImageSpec) (string, error) {
	if spec.Location != "" && !strings.HasPrefix(spec.Location, "http://") && !strings.HasPrefix(spec.Location, "https://") {
		return "", errdefs.Backendf(http.StatusBadRequest, "image location %q is not an http url", spec.Location)
	}
	diskFormat := spec.DiskFormat
	if diskFormat == "" {
		diskFormat = "qcow2"
	}
	properties := make(map[string]string, len(spec.Metadata)+1)
	for k, v := range spec.Metadata {
		properties[k] = v
	}
	if spec.Location != "" {
		properties[locationProperty] = spec.Location
	}
	image, err := call(c, "create image", func() (*images.Image, error) {
		return images.Create(ctx, c.image, images.CreateOpts{
			Name:            spec.Name,
			DiskFormat:      diskFormat,
			ContainerFormat: "bare",
			Properties:      properties,
		}).Extract()
	})
	if err != nil {
		return "", err
	}
	if spec.Location == "" {
		return image.ID, nil
	}
	_, err = call(c, "import image", func() (struct{}, error) {
		return struct{}{}, imageimport.Create(ctx, c.image, image.ID, imageimport.CreateOpts{
			Name: imageimport.WebDownloadMethod,
			URI:  spec.Location,
		}).ExtractErr()
	})
	if err != nil {
		if delErr := c.DeleteImage(ctx, image.ID); delErr != nil {
			slog.Warn("failed to clean up image after failed import", "account", c.accountID, "image", image.ID, "error", delErr)
		}
		return "", err
	}
	return image.ID, nil
}

func (c *Connector) GetImageList(ctx context.Context, filter vim.ImageFilter) ([]vim.Image, error) {
	found, err := c.listImages(ctx, images.ListOpts{Name: filter.Name})
	if err != nil {
		return nil, err
	}
	var out []vim.Image
	for _, img := range found {
		if filter.Checksum != "" && img.Checksum != filter.Checksum {
			continue
		}
		out = append(out, vim.Image{ID: img.ID, Name: img.Name, Checksum: img.Checksum})
	}
	return out, nil
}

// GetImageIDFromPath finds the image previously imported from path.
func (c *Connector) GetImageIDFromPath(ctx context.Context, path string) (string, error) {
	found, err := c.listImages(ctx, images.ListOpts{})
	if err != nil {
		return "", err
	}
	var ids []string
	for _, img := range found {
		if fmt.Sprint(img.Properties[locationProperty]) == path {
			ids = append(ids, img.ID)
		}
	}
	switch len(ids) {
	case 0:
		return "", errdefs.Backendf(http.StatusNotFound, "no image found at vim %s for location %s", c.accountID, path)
	case 1:
		return ids[0], nil
	default:
		return "", errdefs.Conflictf("%d images found at vim %s for location %s", len(ids), c.accountID, path)
	}
}

func (c *Connector) listImages(ctx context.Context, opts images.ListOpts) ([]images.Image, error) {
	return call(c, "list images", func() ([]images.Image, error) {
		pages, err := images.List(c.image, opts).AllPages(ctx)
		if err != nil {
			return nil, err
		}
		return images.ExtractImages(pages)
	})
}

func (c *Connector) DeleteImage(ctx context.Context, id string) error {
	_, err := call(c, "delete image "+id, func() (struct{}, error) {
		return struct{}{}, images.Delete(ctx, c.image, id).ExtractErr()
	})
	return err
}
