package web

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/rowsource"
)

// multipartMemory is the part of a multipart body kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// parseForm bounds the body and parses the multipart form.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	// Leave room for the other form fields and multipart boundaries.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return rowsource.ErrFileTooLarge
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return nil
}

// readUpload parses the "file" part into an Upload.
func (s *Server) readUpload(r *http.Request, encoding string) (core.Upload, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Upload{}, errNoFile
	}
	defer file.Close()

	return rowsource.Read(header.Filename, file, rowsource.Options{
		MaxFileSize: s.opts.MaxFileSize,
		Encoding:    encoding,
	})
}

// handlePreview validates the first rows of an upload without writing anything.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}
	encoding := r.FormValue("encoding")
	if err := s.validate.Var(encoding, "omitempty,oneof=auto utf8 utf-8 windows1252 cp1252 iso88591 latin1"); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: encoding: %w", core.ErrInvalidArgument, err))
		return
	}

	up, err := s.readUpload(r, encoding)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	report, err := s.service.Preview(r.Context(), up)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, report)
}

// handleCommit persists an upload. Row failures are part of the 200 report.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}

	req := commitRequest{
		DatasetName:     r.FormValue("datasetName"),
		Source:          r.FormValue("source"),
		DatasetVersion:  r.FormValue("datasetVersion"),
		DuplicatePolicy: r.FormValue("duplicatePolicy"),
		Encoding:        r.FormValue("encoding"),
	}
	if err := s.validateStruct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	up, err := s.readUpload(r, req.Encoding)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	report, err := s.service.Commit(r.Context(), up, req.options())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, report)
}

func (s *Server) handleGetImportJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetImportJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, r, job)
}

func (s *Server) handleListImportJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListImportJobs(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []core.ImportJob{}
	}
	respondJSON(w, r, jobs)
}

// handleGetRawUpload streams back the archived bytes of a commit.
func (s *Server) handleGetRawUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		s.respondError(w, r, fmt.Errorf("raw upload: archive disabled: %w", core.ErrNotFound))
		return
	}

	job, err := s.service.GetImportJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if job.ArchiveKey == "" {
		s.respondError(w, r, fmt.Errorf("raw upload for job %s: %w", job.ID, core.ErrNotFound))
		return
	}

	data, contentType, err := s.opts.Archive.Get(r.Context(), job.ArchiveKey)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("raw upload: %w", err))
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.ArchiveKey)))
	_, _ = w.Write(data)
}
