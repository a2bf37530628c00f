package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by ledger lookups for identities that were
// never created.
var ErrNotFound = errors.New("record not found")

// Record is the aggregated submission of one registrant across all
// stages submitted so far. A record with only stage 1 present is valid
// and means "in progress".
type Record struct {
	Identity      uuid.UUID                 `json:"identity"`
	CreatedAt     time.Time                 `json:"created_at"`
	LastUpdatedAt *time.Time                `json:"last_updated_at,omitempty"`
	Stages        map[Stage]json.RawMessage `json:"stages"`
}

// Has reports whether data for the stage has been submitted.
func (r Record) Has(stage Stage) bool {
	_, ok := r.Stages[stage]
	return ok
}

// Complete reports whether every stage has been submitted.
func (r Record) Complete() bool {
	for _, stage := range Stages() {
		if !r.Has(stage) {
			return false
		}
	}
	return true
}

// LastActivity is the time of the most recent submission for this record.
func (r Record) LastActivity() time.Time {
	if r.LastUpdatedAt != nil {
		return *r.LastUpdatedAt
	}
	return r.CreatedAt
}

// Clone returns a deep copy, safe to hand across goroutine boundaries.
func (r Record) Clone() Record {
	out := r
	if r.LastUpdatedAt != nil {
		t := *r.LastUpdatedAt
		out.LastUpdatedAt = &t
	}
	out.Stages = make(map[Stage]json.RawMessage, len(r.Stages))
	for stage, payload := range r.Stages {
		cp := make(json.RawMessage, len(payload))
		copy(cp, payload)
		out.Stages[stage] = cp
	}
	return out
}
