// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"net/http"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
)

// Service function chaining needs the networking-sfc neutron extension,
// which this connector does not drive yet. Creation is rejected with 501,
// deletion of anything reports not found so teardown can proceed.

func sfcUnsupported() error {
	return errdefs.Backendf(http.StatusNotImplemented, "service function chaining is not supported by the openstack connector")
}

func sfcGone(kind vim.Kind, id string) error {
	return errdefs.Backendf(http.StatusNotFound, "%s %s not found", kind, id)
}

func (c *Connector) NewSFI(context.Context, vim.SFIRequest) (string, error) {
	return "", sfcUnsupported()
}

func (c *Connector) DeleteSFI(_ context.Context, id string) error { return sfcGone(vim.KindSFI, id) }

func (c *Connector) NewSF(context.Context, vim.SFRequest) (string, error) {
	return "", sfcUnsupported()
}

func (c *Connector) DeleteSF(_ context.Context, id string) error { return sfcGone(vim.KindSF, id) }

func (c *Connector) NewClassification(context.Context, vim.ClassificationRequest) (string, error) {
	return "", sfcUnsupported()
}

func (c *Connector) DeleteClassification(_ context.Context, id string) error {
	return sfcGone(vim.KindClassification, id)
}

func (c *Connector) NewSFP(context.Context, vim.SFPRequest) (string, error) {
	return "", sfcUnsupported()
}

func (c *Connector) DeleteSFP(_ context.Context, id string) error { return sfcGone(vim.KindSFP, id) }
