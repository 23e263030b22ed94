package core

import "errors"

var (
	// ErrNotFound is returned by stores and service lookups for missing entities.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedUnit is returned by ToCanonicalMass for units outside the whitelist.
	ErrUnsupportedUnit = errors.New("unsupported unit")

	// ErrEmptyFile is returned when an upload has no header row.
	ErrEmptyFile = errors.New("empty file")

	// ErrNoAdapter is returned when no adapter is registered at all.
	ErrNoAdapter = errors.New("no adapter registered")

	// ErrInvalidArgument marks caller mistakes such as a missing dataset name.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when creating a facility whose name is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Row-level rejection reasons. These appear verbatim in ImportReport errors.
const (
	ReasonUnrecognizedSector     = "unrecognized_sector"
	ReasonBadYear                = "bad_year"
	ReasonBadMonth               = "bad_month"
	ReasonUnsupportedGranularity = "unsupported_granularity"
	ReasonMissingQuantity        = "missing_quantity"
	ReasonNonNumericQuantity     = "non_numeric_quantity"
	ReasonNonCO2eGas             = "non_co2e_gas"
	ReasonMissingFacilityName    = "missing_facility_name"
	ReasonBadSource              = "bad_source"
	ReasonBadScope               = "bad_scope"
	ReasonUnsupportedUnit        = "unsupported_unit"
	ReasonSkipUnknownFacility    = "skip_unknown_facility"
	ReasonException              = "exception"
)
