// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package dedup reuses images and flavors by content fingerprint, both in the
// catalog and at every vim account.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/rollback"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Default size in GB of flavor disks that do not specify one.
const defaultDiskSize = 10

// Catalog is the part of the catalog store used for deduplication.
type Catalog interface {
	FindImage(fingerprint string) (*catalog.Image, error)
	GetImage(id string) (*catalog.Image, error)
	InsertImage(image *catalog.Image) error
	FindVIMImage(imageID, accountID string) (*catalog.VIMImage, error)
	InsertVIMImage(mapping *catalog.VIMImage) error
	FindFlavor(fingerprint string) (*catalog.Flavor, error)
	GetFlavor(id string) (*catalog.Flavor, error)
	InsertFlavor(flavor *catalog.Flavor) error
	FindVIMFlavor(flavorID, accountID string) (*catalog.VIMFlavor, error)
	InsertVIMFlavor(mapping *catalog.VIMFlavor) error
}

// Deduplicator ensures images and flavors exist, recording everything it
// creates in Effects.
type Deduplicator struct {
	Catalog Catalog
	Effects *rollback.Log
}

// A flavor as present at one vim account.
type FlavorAt struct {
	VimID string
	// Extra disks to attach to vms using this flavor.
	Disks []vim.Disk
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ImageFingerprint identifies an image by location and checksum, or by its
// universal name and checksum if it has no location.
func ImageFingerprint(spec vim.ImageSpec) (string, error) {
	if spec.Location != "" {
		return fingerprint("location", spec.Location, spec.Checksum), nil
	}
	name := spec.UniversalName
	if name == "" {
		name = spec.Name
	}
	if name == "" {
		return "", errdefs.Validationf("image needs a location or a name")
	}
	return fingerprint("name", name, spec.Checksum), nil
}

// Canonical yaml of the extended spec, empty if there is none.
func canonicalExtended(ext *vim.FlavorExtended) (string, error) {
	if ext == nil || (len(ext.Devices) == 0 && len(ext.Properties) == 0) {
		return "", nil
	}
	out, err := yaml.Marshal(ext)
	if err != nil {
		return "", fmt.Errorf("encode extended flavor: %w", err)
	}
	return string(out), nil
}

// FlavorFingerprint identifies a flavor by disk, ram, vcpus and extended spec.
func FlavorFingerprint(spec vim.FlavorSpec) (string, error) {
	ext, err := canonicalExtended(spec.Extended)
	if err != nil {
		return "", err
	}
	return fingerprint(fmt.Sprint(spec.Disk), fmt.Sprint(spec.RAM), fmt.Sprint(spec.VCPUs), ext), nil
}

// Run fn for every account, stopping at the first error.
func forAccounts(accounts []*vim.Account, fn func(*vim.Account) error) error {
	for _, account := range accounts {
		if err := fn(account); err != nil {
			return err
		}
	}
	return nil
}

// EnsureImage returns the catalog id of the image, creating the catalog row
// if needed, and makes sure the image is present at every account.
func (d *Deduplicator) EnsureImage(ctx context.Context, accounts []*vim.Account, spec vim.ImageSpec) (string, error) {
	image, err := d.catalogImage(spec)
	if err != nil {
		return "", err
	}
	err = forAccounts(accounts, func(account *vim.Account) error {
		_, err := d.imageAt(ctx, account, image)
		return err
	})
	if err != nil {
		return "", err
	}
	return image.ID, nil
}

// EnsureImageAt makes sure the catalog image is present at the account and
// returns its native id.
func (d *Deduplicator) EnsureImageAt(ctx context.Context, account *vim.Account, imageID string) (string, error) {
	image, err := d.Catalog.GetImage(imageID)
	if err != nil {
		return "", err
	}
	return d.imageAt(ctx, account, image)
}

func (d *Deduplicator) catalogImage(spec vim.ImageSpec) (*catalog.Image, error) {
	fp, err := ImageFingerprint(spec)
	if err != nil {
		return nil, err
	}
	image, err := d.Catalog.FindImage(fp)
	if err != nil || image != nil {
		return image, err
	}
	metadata := ""
	if len(spec.Metadata) > 0 {
		out, err := yaml.Marshal(spec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode image metadata: %w", err)
		}
		metadata = string(out)
	}
	image = &catalog.Image{
		ID:            uuid.NewString(),
		Fingerprint:   fp,
		Name:          spec.Name,
		UniversalName: spec.UniversalName,
		Location:      spec.Location,
		Checksum:      spec.Checksum,
		Description:   spec.Description,
		DiskFormat:    spec.DiskFormat,
		Metadata:      metadata,
	}
	if err := d.Catalog.InsertImage(image); err != nil {
		return nil, err
	}
	d.Effects.Local(vim.KindImage, image.ID)
	return image, nil
}

func imageSpec(image *catalog.Image) vim.ImageSpec {
	spec := vim.ImageSpec{
		Name:          image.Name,
		UniversalName: image.UniversalName,
		Location:      image.Location,
		Checksum:      image.Checksum,
		Description:   image.Description,
		DiskFormat:    image.DiskFormat,
	}
	if image.Metadata != "" {
		if err := yaml.Unmarshal([]byte(image.Metadata), &spec.Metadata); err != nil {
			slog.Warn("dedup: ignoring broken image metadata", "image", image.ID, "error", err)
		}
	}
	if spec.Name == "" {
		spec.Name = spec.UniversalName
	}
	return spec
}

func (d *Deduplicator) imageAt(ctx context.Context, account *vim.Account, image *catalog.Image) (string, error) {
	mapping, err := d.Catalog.FindVIMImage(image.ID, account.ID)
	if err != nil {
		return "", err
	}
	if mapping != nil {
		return mapping.VimID, nil
	}
	spec := imageSpec(image)
	vimID, err := d.lookupImage(ctx, account, spec)
	created := false
	switch {
	case err == nil:
	case errdefs.IsNotFound(err) && spec.Location != "":
		vimID, err = account.NewImage(ctx, spec)
		if err != nil {
			return "", err
		}
		d.Effects.Backend(vim.KindImage, account.ID, vimID)
		created = true
	default:
		return "", err
	}
	err = d.Catalog.InsertVIMImage(&catalog.VIMImage{
		ImageID:   image.ID,
		AccountID: account.ID,
		VimID:     vimID,
		Created:   created,
	})
	if err != nil {
		return "", err
	}
	slog.Info("dedup: image ready", "image", image.ID, "account", account.ID, "vim_id", vimID, "created", created)
	return vimID, nil
}

// Find an existing image at the vim. Not found is a 404 backend error,
// more than one match is a conflict.
func (d *Deduplicator) lookupImage(ctx context.Context, account *vim.Account, spec vim.ImageSpec) (string, error) {
	if spec.Location != "" {
		return account.GetImageIDFromPath(ctx, spec.Location)
	}
	name := spec.UniversalName
	if name == "" {
		name = spec.Name
	}
	found, err := account.GetImageList(ctx, vim.ImageFilter{Name: name, Checksum: spec.Checksum})
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", errdefs.Backendf(http.StatusNotFound, "image %q not found at vim %s and no location to create it", name, account.ID)
	case 1:
		return found[0].ID, nil
	default:
		return "", errdefs.Conflictf("%d images named %q found at vim %s", len(found), name, account.ID)
	}
}

// EnsureFlavor returns the catalog id of the flavor, creating the catalog row
// if needed, and makes sure the flavor is present at every account. Images
// backing extended disks are deduplicated first.
func (d *Deduplicator) EnsureFlavor(ctx context.Context, accounts []*vim.Account, spec vim.FlavorSpec) (string, error) {
	if spec.Extended != nil {
		for _, device := range spec.Extended.Devices {
			if device.Image == nil {
				continue
			}
			if _, err := d.EnsureImage(ctx, accounts, *device.Image); err != nil {
				return "", err
			}
		}
	}
	flavor, err := d.catalogFlavor(spec)
	if err != nil {
		return "", err
	}
	err = forAccounts(accounts, func(account *vim.Account) error {
		_, err := d.flavorAt(ctx, account, flavor)
		return err
	})
	if err != nil {
		return "", err
	}
	return flavor.ID, nil
}

// EnsureFlavorAt makes sure the catalog flavor is present at the account.
func (d *Deduplicator) EnsureFlavorAt(ctx context.Context, account *vim.Account, flavorID string) (FlavorAt, error) {
	flavor, err := d.Catalog.GetFlavor(flavorID)
	if err != nil {
		return FlavorAt{}, err
	}
	return d.flavorAt(ctx, account, flavor)
}

func (d *Deduplicator) catalogFlavor(spec vim.FlavorSpec) (*catalog.Flavor, error) {
	fp, err := FlavorFingerprint(spec)
	if err != nil {
		return nil, err
	}
	flavor, err := d.Catalog.FindFlavor(fp)
	if err != nil || flavor != nil {
		return flavor, err
	}
	ext, err := canonicalExtended(spec.Extended)
	if err != nil {
		return nil, err
	}
	flavor = &catalog.Flavor{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Name:        spec.Name,
		Disk:        spec.Disk,
		RAM:         spec.RAM,
		VCPUs:       spec.VCPUs,
		Extended:    ext,
	}
	if err := d.Catalog.InsertFlavor(flavor); err != nil {
		return nil, err
	}
	d.Effects.Local(vim.KindFlavor, flavor.ID)
	return flavor, nil
}

func flavorSpec(flavor *catalog.Flavor) (vim.FlavorSpec, error) {
	spec := vim.FlavorSpec{Name: flavor.Name, Disk: flavor.Disk, RAM: flavor.RAM, VCPUs: flavor.VCPUs}
	if flavor.Extended != "" {
		spec.Extended = &vim.FlavorExtended{}
		if err := yaml.Unmarshal([]byte(flavor.Extended), spec.Extended); err != nil {
			return spec, fmt.Errorf("decode extended flavor %s: %w", flavor.ID, err)
		}
	}
	return spec, nil
}

func (d *Deduplicator) flavorAt(ctx context.Context, account *vim.Account, flavor *catalog.Flavor) (FlavorAt, error) {
	mapping, err := d.Catalog.FindVIMFlavor(flavor.ID, account.ID)
	if err != nil {
		return FlavorAt{}, err
	}
	if mapping != nil {
		var disks []vim.Disk
		if mapping.Disks != "" {
			if err := yaml.Unmarshal([]byte(mapping.Disks), &disks); err != nil {
				return FlavorAt{}, fmt.Errorf("decode flavor disks: %w", err)
			}
		}
		return FlavorAt{VimID: mapping.VimID, Disks: disks}, nil
	}
	spec, err := flavorSpec(flavor)
	if err != nil {
		return FlavorAt{}, err
	}
	disks, err := d.flavorDisks(ctx, account, spec.Extended)
	if err != nil {
		return FlavorAt{}, err
	}
	created := false
	vimID, err := account.GetFlavorIDFromData(ctx, spec)
	if errdefs.IsNotFound(err) {
		vimID, err = account.NewFlavor(ctx, spec)
		if err != nil {
			return FlavorAt{}, err
		}
		d.Effects.Backend(vim.KindFlavor, account.ID, vimID)
		created = true
	} else if err != nil {
		return FlavorAt{}, err
	}
	encodedDisks := ""
	if len(disks) > 0 {
		out, err := yaml.Marshal(disks)
		if err != nil {
			return FlavorAt{}, fmt.Errorf("encode flavor disks: %w", err)
		}
		encodedDisks = string(out)
	}
	err = d.Catalog.InsertVIMFlavor(&catalog.VIMFlavor{
		FlavorID:  flavor.ID,
		AccountID: account.ID,
		VimID:     vimID,
		Created:   created,
		Disks:     encodedDisks,
	})
	if err != nil {
		return FlavorAt{}, err
	}
	slog.Info("dedup: flavor ready", "flavor", flavor.ID, "account", account.ID, "vim_id", vimID, "created", created)
	return FlavorAt{VimID: vimID, Disks: disks}, nil
}

// Resolve the disk devices of an extended flavor, ensuring their images
// exist at the account.
func (d *Deduplicator) flavorDisks(ctx context.Context, account *vim.Account, ext *vim.FlavorExtended) ([]vim.Disk, error) {
	if ext == nil {
		return nil, nil
	}
	var disks []vim.Disk
	for _, device := range ext.Devices {
		if device.Type != "" && device.Type != "disk" {
			continue
		}
		disk := vim.Disk{Name: device.Name, Size: device.Size}
		if disk.Size == 0 {
			disk.Size = defaultDiskSize
		}
		if device.Image != nil {
			image, err := d.catalogImage(*device.Image)
			if err != nil {
				return nil, err
			}
			if disk.ImageID, err = d.imageAt(ctx, account, image); err != nil {
				return nil, err
			}
		}
		disks = append(disks, disk)
	}
	return disks, nil
}
