package core

// adapter.go defines the contract every source format implements.
//
// An adapter is selected once per upload from the header row. The pipeline
// then calls Validate for every row (pass 1) and Upsert for every accepted
// candidate or aggregated bucket (pass 2). Adapters never see each other's
// rows and never delete data.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertAction is the outcome of writing one candidate.
type UpsertAction string

const (
	ActionInserted            UpsertAction = "inserted"
	ActionReplaced            UpsertAction = "replaced"
	ActionDuplicate           UpsertAction = "duplicate"
	ActionSkipUnknownFacility UpsertAction = "skip_unknown_facility"
)

// Candidate is a validated, not yet persisted row.
type Candidate struct {
	Row          int            `json:"row"`
	FacilityName string         `json:"facilityName,omitempty"`
	SectorSlug   string         `json:"sectorSlug,omitempty"`
	Subsector    string         `json:"subsector,omitempty"`
	Year         int            `json:"year"`
	Month        int            `json:"month,omitempty"`
	Granularity  Granularity    `json:"granularity,omitempty"`
	Quantity     float64        `json:"quantity"`
	Unit         string         `json:"unit,omitempty"`
	CO2eTonnes   float64        `json:"co2eTonnes"`
	Scope        int            `json:"scope,omitempty"`
	Source       Source         `json:"source"`
	Method       string         `json:"method,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// ValidationResult is returned by Adapter.Validate. On failure only Reason
// and Meta are meaningful.
type ValidationResult struct {
	OK        bool
	Reason    string
	Meta      map[string]any
	Candidate Candidate
}

// Reject builds a failed ValidationResult.
func Reject(reason string, meta map[string]any) ValidationResult {
	return ValidationResult{Reason: reason, Meta: meta}
}

// Accept builds a successful ValidationResult.
func Accept(c Candidate) ValidationResult {
	return ValidationResult{OK: true, Candidate: c}
}

// UpsertParams carries commit-wide settings into Adapter.Upsert.
type UpsertParams struct {
	DatasetVersion string
	Policy         DuplicatePolicy
	ImportJobID    string
}

// Adapter turns rows of one source format into observations.
type Adapter interface {
	// Key is the stable registry identifier, e.g. "operator_generic".
	Key() string

	// Priority orders detection; higher runs first.
	Priority() int

	// Detect reports whether the header row belongs to this format.
	Detect(headers []string) bool

	// HeaderMap resolves the adapter's logical fields to the headers present.
	HeaderMap(headers []string) map[string]string

	// Validate checks a single row. It must not touch storage.
	Validate(rec Record) ValidationResult

	// Upsert persists one candidate under the dedup and duplicate rules.
	Upsert(ctx context.Context, st Store, c Candidate, p UpsertParams) (UpsertAction, error)
}

// Bucket is a set of candidates folded into one observation.
type Bucket struct {
	Candidate Candidate
	Rows      []int
}

// Aggregator is implemented by adapters that fold rows before writing.
// Rows whose bucket cannot be built are returned as RowErrors and must not
// appear in any bucket.
type Aggregator interface {
	Aggregate(cands []Candidate) ([]Bucket, []RowError)
}

// WriteObservation applies the dedup key and duplicate policy for obs.
// A missing key is inserted; an existing key is replaced only under
// PolicyReplaceIfNewer with a strictly greater dataset version.
func WriteObservation(ctx context.Context, st Store, obs Observation, policy DuplicatePolicy, replaceScope bool) (UpsertAction, error) {
	now := time.Now().UTC()
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = now
	}
	obs.UpdatedAt = now

	inserted, err := st.InsertObservation(ctx, obs)
	if err != nil {
		return "", fmt.Errorf("insert observation: %w", err)
	}
	if inserted {
		return ActionInserted, nil
	}
	if !policy.ReplacesNewer() {
		return ActionDuplicate, nil
	}

	replaced, err := st.ReplaceObservationIfNewer(ctx, obs, replaceScope)
	if err != nil {
		return "", fmt.Errorf("replace observation: %w", err)
	}
	if replaced {
		return ActionReplaced, nil
	}
	return ActionDuplicate, nil
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
