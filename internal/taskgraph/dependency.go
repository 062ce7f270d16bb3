// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package taskgraph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const externalPrefix = "ACTION-"

// Dependency points at a task, either of the same instance action (local)
// or of an earlier one (external).
type Dependency struct {
	// Empty for local dependencies.
	ActionID string
	Index    int
}

func Local(index int) Dependency {
	return Dependency{Index: index}
}

func External(actionID string, index int) Dependency {
	return Dependency{ActionID: actionID, Index: index}
}

func (d Dependency) IsLocal() bool {
	return d.ActionID == ""
}

// Resolve turns a local dependency into an external one of the given action.
func (d Dependency) Resolve(actionID string) Dependency {
	if d.IsLocal() {
		return External(actionID, d.Index)
	}
	return d
}

// String renders local dependencies as the bare task index and external
// ones as ACTION-<action id>.<task index>.
func (d Dependency) String() string {
	if d.IsLocal() {
		return strconv.Itoa(d.Index)
	}
	return fmt.Sprintf("%s%s.%d", externalPrefix, d.ActionID, d.Index)
}

// ParseDependency is the inverse of Dependency.String.
func ParseDependency(s string) (Dependency, error) {
	if !strings.HasPrefix(s, externalPrefix) {
		index, err := strconv.Atoi(s)
		if err != nil || index < 0 {
			return Dependency{}, fmt.Errorf("invalid task reference %q", s)
		}
		return Local(index), nil
	}
	ref := strings.TrimPrefix(s, externalPrefix)
	// Action ids may contain dots themselves, the index follows the last one.
	dot := strings.LastIndex(ref, ".")
	if dot <= 0 {
		return Dependency{}, fmt.Errorf("invalid external task reference %q", s)
	}
	index, err := strconv.Atoi(ref[dot+1:])
	if err != nil || index < 0 {
		return Dependency{}, fmt.Errorf("invalid external task reference %q", s)
	}
	return External(ref[:dot], index), nil
}

func (d Dependency) MarshalYAML() (any, error) {
	if d.IsLocal() {
		return d.Index, nil
	}
	return d.String(), nil
}

func (d *Dependency) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: task reference must be a scalar", node.Line)
	}
	parsed, err := ParseDependency(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

// Deduplicate and sort dependencies, local ones first.
func normalize(deps []Dependency) []Dependency {
	out := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Dependency) int {
		if c := strings.Compare(a.ActionID, b.ActionID); c != 0 {
			return c
		}
		return a.Index - b.Index
	})
	return out
}
