// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package taskgraph

// Notification tells the worker of an account which tasks of an action are
// waiting for it.
type Notification struct {
	ActionID   string `json:"action_id"`
	InstanceID string `json:"instance_id,omitempty"`
	Tasks      []int  `json:"tasks"`
}

// GroupByAccount returns the task indices per account. Accounts are listed
// in the order of their first task.
func GroupByAccount(tasks []Task) ([]string, map[string][]int) {
	byAccount := make(map[string][]int)
	var order []string
	for _, t := range tasks {
		if _, ok := byAccount[t.AccountID]; !ok {
			order = append(order, t.AccountID)
		}
		byAccount[t.AccountID] = append(byAccount[t.AccountID], t.Index)
	}
	return order, byAccount
}
