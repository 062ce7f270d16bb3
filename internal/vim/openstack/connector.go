// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package openstack implements the vim connector for OpenStack clouds.
package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
	"github.com/cobaltcore-dev/conductor/pkg/keystone"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/sony/gobreaker"
)

const defaultComputeMicroversion = "2.61"

// Connector talks to nova, neutron and glance of one OpenStack project.
type Connector struct {
	accountID string
	compute   *gophercloud.ServiceClient
	network   *gophercloud.ServiceClient
	image     *gophercloud.ServiceClient
	breaker   *gobreaker.CircuitBreaker
}

// Factory returns a vim.Factory connecting OpenStack accounts.
// httpClient may be nil to use the default client.
func Factory(httpClient *http.Client) vim.Factory {
	return func(ctx context.Context, account conf.VIMAccountConfig) (vim.Connector, error) {
		var keystoneClient keystone.KeystoneClient
		if httpClient != nil {
			keystoneClient = keystone.NewKeystoneClientWithHTTPClient(account.Keystone, httpClient)
		} else {
			keystoneClient = keystone.NewKeystoneClient(account.Keystone)
		}
		return New(ctx, keystoneClient, account)
	}
}

// New authenticates and discovers the service endpoints of the account.
func New(ctx context.Context, keystoneClient keystone.KeystoneClient, account conf.VIMAccountConfig) (*Connector, error) {
	if err := keystoneClient.Authenticate(ctx); err != nil {
		return nil, errdefs.WrapBackend(http.StatusUnauthorized, err, "failed to authenticate keystone")
	}
	provider := keystoneClient.Client()
	availability := keystoneClient.Availability()
	endpoint := func(serviceType string) (string, error) {
		url, err := keystoneClient.FindEndpoint(availability, serviceType)
		if err != nil {
			return "", errdefs.WrapBackend(http.StatusServiceUnavailable, err, "failed to find %s endpoint", serviceType)
		}
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		slog.Info("using openstack endpoint", "account", account.ID, "service", serviceType, "url", url)
		return url, nil
	}
	computeURL, err := endpoint("compute")
	if err != nil {
		return nil, err
	}
	networkURL, err := endpoint("network")
	if err != nil {
		return nil, err
	}
	imageURL, err := endpoint("image")
	if err != nil {
		return nil, err
	}
	microversion := account.ComputeMicroversion
	if microversion == "" {
		microversion = defaultComputeMicroversion
	}
	c := &Connector{
		accountID: account.ID,
		compute: &gophercloud.ServiceClient{
			ProviderClient: provider,
			Endpoint:       computeURL,
			Microversion:   microversion,
		},
		network: &gophercloud.ServiceClient{
			ProviderClient: provider,
			Endpoint:       networkURL,
			ResourceBase:   networkURL + "v2.0/",
		},
		image: &gophercloud.ServiceClient{
			ProviderClient: provider,
			Endpoint:       imageURL,
			ResourceBase:   imageURL + "v2/",
		},
		breaker: newBreaker(account.ID, account.CircuitBreaker),
	}
	return c, nil
}

func newBreaker(name string, c conf.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	maxFailures := c.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := time.Duration(c.OpenTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: max(c.HalfOpenRequests, 1),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Client side errors say nothing about the health of the vim.
		IsSuccessful: func(err error) bool {
			return err == nil || errdefs.Code(translate(err, "")) < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("vim circuit breaker changed state", "account", name, "from", from.String(), "to", to.String())
		},
	})
}

// Run fn through the circuit breaker and translate its error.
func call[T any](c *Connector, op string, fn func() (T, error)) (T, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, translate(err, fmt.Sprintf("%s at vim %s", op, c.accountID))
	}
	return result.(T), nil
}

// Translate gophercloud and breaker errors into backend errors.
func translate(err error, msg string) error {
	var backend *errdefs.BackendError
	if errors.As(err, &backend) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errdefs.WrapBackend(http.StatusServiceUnavailable, err, "%s", msg)
	}
	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		return errdefs.WrapBackend(unexpected.Actual, err, "%s", msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.WrapBackend(http.StatusRequestTimeout, err, "%s", msg)
	}
	return errdefs.WrapBackend(http.StatusInternalServerError, err, "%s", msg)
}
