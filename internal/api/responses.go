package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
)

const maxRequestBody = 1 << 20

// Response represents a standard API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func (s *Server) success(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Success: code < 400, Data: data})
}

// fail writes a classified error through the shared HTTP error adapter.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.errs.WriteErrorResponse(w, r, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON leaves v untouched when the request has no body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return nil
		}
		return foundationerrors.ValidationError("request body is required").Build()
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			if optional {
				return nil
			}
			return foundationerrors.ValidationError("request body is required").Build()
		}
		return foundationerrors.ValidationError("malformed JSON body").WithCause(err).Build()
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, foundationerrors.ValidationError(name+" must be a non-negative integer").
			WithContext("field", name).
			Build()
	}
	return n, nil
}
