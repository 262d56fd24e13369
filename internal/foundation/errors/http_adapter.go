package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultRetryAfter is advertised on 503 responses for transient errors.
const DefaultRetryAfter = 30 * time.Second

// HTTPErrorAdapter renders errors as JSON API responses.
type HTTPErrorAdapter struct {
	logger     *slog.Logger
	retryAfter time.Duration
}

// NewHTTPErrorAdapter creates an adapter. A nil logger uses slog.Default at write time.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	return &HTTPErrorAdapter{logger: logger, retryAfter: DefaultRetryAfter}
}

// HTTPErrorResponse is the JSON error body.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor maps err to a status via its category. Unclassified errors are 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := AsClassified(err); ok {
		return c.category.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// FormatErrorResponse builds the body. Messages of unclassified errors are
// not exposed.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	c, ok := AsClassified(err)
	if !ok {
		return HTTPErrorResponse{Error: "internal error", Code: string(CategoryInternal)}
	}
	resp := HTTPErrorResponse{
		Error:     c.message,
		Code:      string(c.category),
		Retryable: c.IsTransient(),
	}
	if len(c.context) > 0 {
		resp.Details = c.context
	}
	return resp
}

// WriteErrorResponse writes the JSON body and logs at the error's severity.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := a.StatusCodeFor(err)
	payload := a.FormatErrorResponse(err)

	body, jerr := json.Marshal(payload)
	if jerr != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error","code":"internal"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	if payload.Retryable && status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(a.retryAfter.Seconds())))
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)

	level := slog.LevelError
	if c, ok := AsClassified(err); ok {
		level = levelFor(c.severity)
	}
	a.log().Log(r.Context(), level, "Request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
}

func (a *HTTPErrorAdapter) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

func levelFor(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
