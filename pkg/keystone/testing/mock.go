// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package keystone

import (
	"context"
	"fmt"
	"sync"

	"github.com/gophercloud/gophercloud/v2"
)

// MockKeystoneClient serves every service from the same base url unless an
// explicit endpoint is configured for it.
type MockKeystoneClient struct {
	Url string
	// Endpoints by service type, e.g. "compute". An empty value makes the
	// lookup of that service fail.
	Endpoints map[string]string
	// Returned by Authenticate if set.
	AuthErr error

	mu              sync.Mutex
	authentications int
	lookups         []string
}

func (m *MockKeystoneClient) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authentications++
	return m.AuthErr
}

func (m *MockKeystoneClient) Client() *gophercloud.ProviderClient {
	return &gophercloud.ProviderClient{}
}

func (m *MockKeystoneClient) FindEndpoint(availability, serviceType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, serviceType)
	if url, ok := m.Endpoints[serviceType]; ok {
		if url == "" {
			return "", fmt.Errorf("no %s endpoint in catalog", serviceType)
		}
		return url, nil
	}
	return m.Url, nil
}

func (m *MockKeystoneClient) Availability() string {
	return "public"
}

// Authentications returns how often Authenticate was called.
func (m *MockKeystoneClient) Authentications() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authentications
}

// Lookups returns the service types looked up so far, in order.
func (m *MockKeystoneClient) Lookups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lookups...)
}
