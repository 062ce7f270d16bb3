// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// ActionIDs hands out instance action ids of the form <seconds>.<micros>.
// Ids are strictly increasing within one process, even if the clock stalls
// or steps back.
type ActionIDs struct {
	mu   sync.Mutex
	last int64
	// Defaults to time.Now.
	Clock func() time.Time
}

func (a *ActionIDs) Next() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	clock := a.Clock
	if clock == nil {
		clock = time.Now
	}
	micros := clock().UnixMicro()
	if micros <= a.last {
		micros = a.last + 1
	}
	a.last = micros
	return fmt.Sprintf("%d.%06d", micros/1_000_000, micros%1_000_000)
}
