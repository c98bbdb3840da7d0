// Package httputil centralizes JSON response and error translation for the
// HTTP transport. Handlers pass domain errors through WriteError so status
// mapping lives in one place.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "tacita/pkg/domain-errors"
)

// WriteJSON serializes v with the given status. Encoding failures are
// swallowed: headers are already flushed by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError maps a domain error to an HTTP response. Recoverable conditions
// keep their human-readable guidance; internal failures return only the code
// so store details never leak to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}

	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeInvalidInput:
		status = http.StatusBadRequest
		body.ErrorDescription = dErrors.MessageOf(err)
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
		body.ErrorDescription = dErrors.MessageOf(err)
	case dErrors.CodeConflict:
		status = http.StatusConflict
		body.ErrorDescription = dErrors.MessageOf(err)
	case dErrors.CodeConsentDenied:
		status = http.StatusForbidden
		body.ErrorDescription = dErrors.MessageOf(err)
	case dErrors.CodeCapacityExceeded:
		status = http.StatusInsufficientStorage
		body.ErrorDescription = dErrors.MessageOf(err)
	case dErrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	WriteJSON(w, status, body)
}

// Decode reads a JSON request body into T, enforcing a size cap and rejecting
// unknown fields.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, 16<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return req, false
	}
	return req, true
}
