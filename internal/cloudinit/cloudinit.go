// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package cloudinit merges and renders boot configuration for vms.
package cloudinit

import (
	"encoding/json"
	"slices"
)

// A user to create on first boot.
type User struct {
	Name     string   `json:"name" yaml:"name"`
	KeyPairs []string `json:"key-pairs,omitempty" yaml:"key-pairs,omitempty"`
	Sudo     string   `json:"sudo,omitempty" yaml:"sudo,omitempty"`
	Shell    string   `json:"shell,omitempty" yaml:"shell,omitempty"`
	Groups   []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// A file written to the vm on first boot.
type ConfigFile struct {
	Dest        string `json:"dest" yaml:"dest"`
	Content     string `json:"content" yaml:"content"`
	Permissions string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Owner       string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// Opaque user-data fragments. Decodes from a single string or a list.
type Fragments []string

func (f *Fragments) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*f = nil
		} else {
			*f = Fragments{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// Boot configuration contributed by one layer (template, vnf, vdu, request).
type Config struct {
	KeyPairs      []string     `json:"key-pairs,omitempty" yaml:"key-pairs,omitempty"`
	Users         []User       `json:"users,omitempty" yaml:"users,omitempty"`
	UserData      Fragments    `json:"user-data,omitempty" yaml:"user-data,omitempty"`
	ConfigFiles   []ConfigFile `json:"config-files,omitempty" yaml:"config-files,omitempty"`
	BootDataDrive *bool        `json:"boot-data-drive,omitempty" yaml:"boot-data-drive,omitempty"`
}

// IsEmpty reports whether c contributes nothing.
func (c *Config) IsEmpty() bool {
	return c == nil || (len(c.KeyPairs) == 0 && len(c.Users) == 0 &&
		len(c.UserData) == 0 && len(c.ConfigFiles) == 0 && c.BootDataDrive == nil)
}

// Merge combines two layers, high taking priority over low.
//
// Key pairs are unioned. Users are keyed by name: key pairs of same-named
// users are unioned while other fields are taken from high. User data is
// concatenated with high last. Config files are keyed by destination and
// high replaces low. The boot data drive flag of high wins if it is set.
// Neither input is modified. Returns nil if both inputs are empty.
//
// The merge is not commutative, so layers are folded in a fixed order:
// template, vnf boot data, vdu instance overrides, then request level.
func Merge(low, high *Config) *Config {
	if low.IsEmpty() && high.IsEmpty() {
		return nil
	}
	if low == nil {
		low = &Config{}
	}
	if high == nil {
		high = &Config{}
	}
	merged := &Config{
		KeyPairs: union(low.KeyPairs, high.KeyPairs),
	}

	merged.Users = make([]User, 0, len(low.Users)+len(high.Users))
	index := make(map[string]int)
	for _, u := range slices.Concat(low.Users, high.Users) {
		if i, ok := index[u.Name]; ok {
			keys := union(merged.Users[i].KeyPairs, u.KeyPairs)
			merged.Users[i] = cloneUser(u)
			merged.Users[i].KeyPairs = keys
			continue
		}
		index[u.Name] = len(merged.Users)
		merged.Users = append(merged.Users, cloneUser(u))
	}
	if len(merged.Users) == 0 {
		merged.Users = nil
	}

	if len(low.UserData)+len(high.UserData) > 0 {
		merged.UserData = slices.Concat(low.UserData, high.UserData)
	}

	for _, f := range low.ConfigFiles {
		if !slices.ContainsFunc(high.ConfigFiles, func(h ConfigFile) bool { return h.Dest == f.Dest }) {
			merged.ConfigFiles = append(merged.ConfigFiles, f)
		}
	}
	merged.ConfigFiles = append(merged.ConfigFiles, high.ConfigFiles...)

	switch {
	case high.BootDataDrive != nil:
		v := *high.BootDataDrive
		merged.BootDataDrive = &v
	case low.BootDataDrive != nil:
		v := *low.BootDataDrive
		merged.BootDataDrive = &v
	}
	return merged
}

// MergeAll folds layers from lowest to highest priority.
func MergeAll(layers ...*Config) *Config {
	var acc *Config
	for _, layer := range layers {
		acc = Merge(acc, layer)
	}
	return acc
}

// WithKeyPairs returns a layer carrying only the given key pairs, or nil.
func WithKeyPairs(keys []string) *Config {
	if len(keys) == 0 {
		return nil
	}
	return &Config{KeyPairs: slices.Clone(keys)}
}

func cloneUser(u User) User {
	u.KeyPairs = slices.Clone(u.KeyPairs)
	u.Groups = slices.Clone(u.Groups)
	return u
}

func union(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range slices.Concat(a, b) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
