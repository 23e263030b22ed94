package web

// errors.go turns service errors into JSON responses.
//
// Every error is logged with the request id and rendered as an
// ErrorResponse carrying the user message from core.MapError. The HTTP
// status comes from the sentinel the error wraps: caller mistakes are 4xx,
// infrastructure failures 5xx. Row-level rejections never reach this file;
// they are part of a 200 ImportReport.

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/logging"
	"github.com/JonMunkholm/ghgledger/internal/rowsource"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Action  string            `json:"action,omitempty"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// errNoFile is returned when a multipart request lacks the file part.
var errNoFile = errors.New("no file provided")

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, rowsource.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, rowsource.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrUnsupportedUnit),
		errors.Is(err, rowsource.ErrInvalidCSV),
		errors.Is(err, rowsource.ErrInvalidSpreadsheet),
		errors.Is(err, rowsource.ErrEncoding),
		errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyCommits):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and renders it.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = fieldErrors(verrs)
	}
	if errors.Is(err, core.ErrTooManyCommits) {
		w.Header().Set("Retry-After", "30")
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// respondJSON renders v with status 200.
func respondJSON(w http.ResponseWriter, r *http.Request, v any) {
	render.JSON(w, r, v)
}
