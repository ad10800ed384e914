package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/campus-carpool/rides-api/internal/app/apperr"
)

type ErrorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

// writeAppError maps an application error to its response. Anything that is
// not an *apperr.Error is reported as an internal error without detail.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if ae := (*apperr.Error)(nil); errors.As(err, &ae) {
		status = ae.Status
	}
	er := ErrorResponse{Error: errorBodyFor(err)}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

func errorBodyFor(err error) ErrorBody {
	ae := (*apperr.Error)(nil)
	if !errors.As(err, &ae) {
		return ErrorBody{Code: "INTERNAL", Message: "internal error"}
	}
	body := ErrorBody{Code: ae.Code, Message: ae.Message}
	if ae.Details != nil {
		body.Details = nullable.NewNullableWithValue(ae.Details)
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
