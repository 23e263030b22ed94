package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.Reconcile(r.Context(), chi.URLParam(r, "facilityID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.ReconcileRow{}
	}
	respondJSON(w, r, rows)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1000 || year > 9999 {
		s.respondError(w, r, fmt.Errorf("%w: year must be four digits", core.ErrInvalidArgument))
		return
	}

	exp, err := s.service.Explain(r.Context(), chi.URLParam(r, "facilityID"), year)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, exp)
}

// parseAnomalyQuery reads ?z= and ?source=. Missing z means the default threshold.
func (s *Server) parseAnomalyQuery(r *http.Request) (anomalyQuery, error) {
	q := anomalyQuery{Source: r.URL.Query().Get("source")}
	if raw := r.URL.Query().Get("z"); raw != "" {
		z, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("%w: z must be a number", core.ErrInvalidArgument)
		}
		q.Z = z
	}
	if err := s.validateStruct(q); err != nil {
		return q, err
	}
	return q, nil
}

func (s *Server) handleFacilityAnomalies(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseAnomalyQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	report, err := s.service.FacilityAnomalies(r.Context(), chi.URLParam(r, "facilityID"), q.Z, core.Source(q.Source))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, report)
}

func (s *Server) handleSectorAnomalies(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseAnomalyQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	report, err := s.service.SectorAnomalies(r.Context(), chi.URLParam(r, "sector"), q.Z, core.Source(q.Source))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, report)
}

func (s *Server) handleCreateFacility(w http.ResponseWriter, r *http.Request) {
	var req facilityRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, 1<<20), &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid JSON body: %v", core.ErrInvalidArgument, err))
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := s.service.RegisterFacility(r.Context(), core.Facility{
		Name:           req.Name,
		SectorID:       req.SectorID,
		OrganizationID: req.OrganizationID,
		Location:       req.Location,
		Meta:           req.Meta,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, f)
}

func (s *Server) handleGetFacility(w http.ResponseWriter, r *http.Request) {
	f, err := s.service.GetFacility(r.Context(), chi.URLParam(r, "facilityID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, f)
}

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, s.service.ListAdapters())
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status  string                   `json:"status"`
	Commits core.CommitLimiterStatus `json:"commits"`
	Error   string                   `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Commits: s.service.CommitLimiterStatus()}
	if s.opts.Ping != nil {
		if err := s.opts.Ping(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Error = core.MapError(err).Message
			render.Status(r, http.StatusServiceUnavailable)
		}
	}
	render.JSON(w, r, resp)
}
