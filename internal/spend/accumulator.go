package spend

import (
	"sync"

	"llmgate/internal/models"
	"llmgate/internal/storage"
)

// Accumulator buffers spend deltas in memory between flushes. Adds from
// in-flight requests and drains from the flush loop are serialized by one
// mutex around plain map additions, so no delta is ever lost to a
// read-modify-write race.
type Accumulator struct {
	mu     sync.Mutex
	deltas storage.SpendDeltas
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	a := &Accumulator{}
	a.deltas = emptyDeltas()
	return a
}

func emptyDeltas() storage.SpendDeltas {
	return storage.SpendDeltas{
		Keys:        make(map[string]float64),
		Users:       make(map[string]float64),
		Teams:       make(map[string]float64),
		TeamMembers: make(map[storage.TeamMemberKey]float64),
		Orgs:        make(map[string]float64),
		EndUsers:    make(map[string]float64),
		KeyModels:   make(map[storage.KeyModelKey]float64),
	}
}

// Add records one call's cost against every non-null attribution dimension.
func (a *Accumulator) Add(attr models.Attribution, model string, cost float64) {
	if cost == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if attr.TokenHash != "" {
		a.deltas.Keys[attr.TokenHash] += cost
		if model != "" {
			a.deltas.KeyModels[storage.KeyModelKey{TokenHash: attr.TokenHash, Model: model}] += cost
		}
	}
	if attr.UserID != nil {
		a.deltas.Users[*attr.UserID] += cost
	}
	if attr.TeamID != nil {
		a.deltas.Teams[*attr.TeamID] += cost
		if attr.UserID != nil {
			a.deltas.TeamMembers[storage.TeamMemberKey{TeamID: *attr.TeamID, UserID: *attr.UserID}] += cost
		}
	}
	if attr.OrgID != nil {
		a.deltas.Orgs[*attr.OrgID] += cost
	}
	if attr.EndUserID != nil && *attr.EndUserID != "" {
		a.deltas.EndUsers[*attr.EndUserID] += cost
	}
	a.deltas.Global += cost
}

// Drain atomically removes and returns all pending deltas, leaving the
// accumulator empty for the next window.
func (a *Accumulator) Drain() storage.SpendDeltas {
	a.mu.Lock()
	defer a.mu.Unlock()

	drained := a.deltas
	a.deltas = emptyDeltas()
	return drained
}

// MergeBack re-adds a failed flush batch so its deltas retry on the next
// tick. New spend recorded since the drain is preserved, the two batches sum.
func (a *Accumulator) MergeBack(batch storage.SpendDeltas) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, v := range batch.Keys {
		a.deltas.Keys[k] += v
	}
	for k, v := range batch.Users {
		a.deltas.Users[k] += v
	}
	for k, v := range batch.Teams {
		a.deltas.Teams[k] += v
	}
	for k, v := range batch.TeamMembers {
		a.deltas.TeamMembers[k] += v
	}
	for k, v := range batch.Orgs {
		a.deltas.Orgs[k] += v
	}
	for k, v := range batch.EndUsers {
		a.deltas.EndUsers[k] += v
	}
	for k, v := range batch.KeyModels {
		a.deltas.KeyModels[k] += v
	}
	a.deltas.Global += batch.Global
}

// PendingKeySpend returns the not-yet-flushed delta for one key. Used to keep
// the cached spend figure ahead of the durable store.
func (a *Accumulator) PendingKeySpend(tokenHash string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deltas.Keys[tokenHash]
}

// Empty reports whether anything is pending.
func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deltas.Empty()
}
