// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"errors"
	"fmt"
	"strings"
)

// Check if the configuration is consistent.
func (c *Config) Validate() error {
	if len(c.VIMAccounts) == 0 {
		return errors.New("at least one vim account must be configured")
	}
	ids := make(map[string]struct{}, len(c.VIMAccounts))
	datacenters := make(map[string]struct{})
	for _, account := range c.VIMAccounts {
		if account.ID == "" {
			return fmt.Errorf("vim account %q has no id", account.Name)
		}
		if _, ok := ids[account.ID]; ok {
			return fmt.Errorf("duplicate vim account id %s", account.ID)
		}
		ids[account.ID] = struct{}{}
		if account.DatacenterID == "" {
			return fmt.Errorf("vim account %s has no datacenter", account.ID)
		}
		datacenters[account.DatacenterID] = struct{}{}
		switch account.Type {
		case VIMTypeOpenStack:
		default:
			return fmt.Errorf("vim account %s has unsupported type %q", account.ID, account.Type)
		}
		url := account.Keystone.URL
		if url != "" && !strings.Contains(url, "/v3") {
			return fmt.Errorf("expected v3 Keystone URL, but got %s", url)
		}
		// OpenStack urls should end without a slash.
		if strings.HasSuffix(url, "/") {
			return fmt.Errorf("openstack url %s should not end with a slash", url)
		}
	}
	for _, wan := range c.WANAccounts {
		if wan.ID == "" {
			return fmt.Errorf("wan account %q has no id", wan.Name)
		}
		for _, dc := range wan.Datacenters {
			if _, ok := datacenters[dc]; !ok {
				return fmt.Errorf("wan account %s references unknown datacenter %s", wan.ID, dc)
			}
		}
	}
	return nil
}
