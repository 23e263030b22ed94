// Package core provides the business logic for emissions ingestion and analytics.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"strings"
	"time"
)

// Record is a single parsed input row keyed by normalized header name.
type Record = map[string]string

// Source identifies the provenance of an observation.
type Source string

const (
	SourceObserved  Source = "observed"
	SourceReported  Source = "reported"
	SourceProjected Source = "projected"
)

// ParseSource maps a free-text value to a Source.
// Returns false for anything outside the three known provenances.
func ParseSource(s string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceObserved:
		return SourceObserved, true
	case SourceReported:
		return SourceReported, true
	case SourceProjected:
		return SourceProjected, true
	default:
		return "", false
	}
}

// Granularity is the time resolution of a source row.
type Granularity string

const (
	GranularityAnnual  Granularity = "annual"
	GranularityMonthly Granularity = "monthly"
)

// DuplicatePolicy decides what happens when a candidate collides with a stored observation.
type DuplicatePolicy string

const (
	// PolicyReplaceIfNewer overwrites the stored row when the incoming dataset
	// version compares greater (byte-wise) than the stored one.
	PolicyReplaceIfNewer DuplicatePolicy = "replace_if_newer"

	// PolicySkip never overwrites. Any unrecognized policy behaves like this.
	PolicySkip DuplicatePolicy = "skip"
)

// ReplacesNewer reports whether the policy allows newer versions to overwrite.
func (p DuplicatePolicy) ReplacesNewer() bool {
	return p == PolicyReplaceIfNewer
}

// ObservationKey is the dedup key of an observation. Month 0 means annual.
type ObservationKey struct {
	FacilityID string `json:"facilityId"`
	Year       int    `json:"year"`
	Month      int    `json:"month,omitempty"`
	Source     Source `json:"source"`
}

// Observation is one emissions quantity for a facility and period.
type Observation struct {
	ID             string    `json:"id"`
	FacilityID     string    `json:"facilityId"`
	Year           int       `json:"year"`
	Month          int       `json:"month,omitempty"` // 0 = annual
	CO2eTonnes     float64   `json:"co2eTonnes"`
	Scope          int       `json:"scope"`
	Source         Source    `json:"source"`
	Method         string    `json:"method,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	DatasetVersion string    `json:"datasetVersion,omitempty"`
	ImportJobID    string    `json:"importJobId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Key returns the dedup key for the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{FacilityID: o.FacilityID, Year: o.Year, Month: o.Month, Source: o.Source}
}

// Facility is a physical or synthetic emitter.
type Facility struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	SectorID       string            `json:"sectorId,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	Location       string            `json:"location,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Sector is a taxonomy entry. ID is the canonical slug.
type Sector struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dataset groups imports that share a name, source and version tag.
type Dataset struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	VersionTag string    `json:"versionTag"`
	CreatedAt  time.Time `json:"createdAt"`
}

// JobStatus is the lifecycle state of an ImportJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ImportStats are the row counters persisted with an ImportJob.
type ImportStats struct {
	RowsTotal    int `json:"rowsTotal"`
	RowsImported int `json:"rowsImported"`
	RowsSkipped  int `json:"rowsSkipped"`
	Duplicates   int `json:"duplicates"`
	Invalid      int `json:"invalid"`
}

// RowError describes why a single source row was not imported.
// Row is 1-based over data rows (the header is not counted).
type RowError struct {
	Row    int            `json:"row"`
	Reason string         `json:"reason"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// ImportJob is the lineage record of one commit.
type ImportJob struct {
	ID             string            `json:"id"`
	DatasetID      string            `json:"datasetId"`
	Filename       string            `json:"filename"`
	ChecksumSHA256 string            `json:"checksumSha256"`
	Adapter        string            `json:"adapter"`
	HeaderMap      map[string]string `json:"headerMap,omitempty"`
	ArchiveKey     string            `json:"archiveKey,omitempty"`
	Stats          ImportStats       `json:"stats"`
	Status         JobStatus         `json:"status"`
	Errors         []RowError        `json:"errors"`
	CreatedAt      time.Time         `json:"createdAt"`
	FinishedAt     *time.Time        `json:"finishedAt,omitempty"`
}

// Upload is a parsed input file ready for preview or commit.
type Upload struct {
	Filename string
	Checksum string // hex sha256 of Raw
	Headers  []string
	Rows     []Record
	Raw      []byte // archived on commit when an archive is configured

	// RowNumbers holds the 1-based data-row position of each entry in Rows,
	// counting blank rows the reader dropped. Nil means Rows are numbered
	// consecutively.
	RowNumbers []int
}

// RowNumber returns the source data-row number of Rows[i].
func (u Upload) RowNumber(i int) int {
	if i < len(u.RowNumbers) {
		return u.RowNumbers[i]
	}
	return i + 1
}
