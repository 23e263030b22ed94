package web

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

// commitRequest holds the multipart fields of POST /api/imports.
type commitRequest struct {
	DatasetName     string `json:"datasetName" validate:"required,max=200"`
	Source          string `json:"source" validate:"omitempty,max=100"`
	DatasetVersion  string `json:"datasetVersion" validate:"omitempty,max=64,printascii"`
	DuplicatePolicy string `json:"duplicatePolicy" validate:"omitempty,max=64"`
	Encoding        string `json:"encoding" validate:"omitempty,oneof=auto utf8 utf-8 windows1252 cp1252 iso88591 latin1"`
}

func (c commitRequest) options() core.CommitOptions {
	return core.CommitOptions{
		DatasetName:     c.DatasetName,
		Source:          c.Source,
		DatasetVersion:  c.DatasetVersion,
		DuplicatePolicy: core.DuplicatePolicy(c.DuplicatePolicy),
	}
}

// anomalyQuery holds the query parameters of the anomaly endpoints.
type anomalyQuery struct {
	Z      float64 `json:"z" validate:"gte=0,lte=100"`
	Source string  `json:"source" validate:"omitempty,oneof=observed reported projected"`
}

// facilityRequest is the JSON body of POST /api/facilities.
type facilityRequest struct {
	Name           string            `json:"name" validate:"required,max=200"`
	SectorID       string            `json:"sectorId" validate:"omitempty,max=100"`
	OrganizationID string            `json:"organizationId" validate:"omitempty,max=100"`
	Location       string            `json:"location" validate:"omitempty,max=200"`
	Meta           map[string]string `json:"meta" validate:"omitempty,max=50"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so errors match what the client sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct wraps validation failures so MapError reports VAL001.
func (s *Server) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidArgument, err)
	}
	return nil
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out[fe.Field()] = fe.Tag() + "=" + fe.Param()
		} else {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}
