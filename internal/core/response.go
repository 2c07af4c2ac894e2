package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"smartdelay/internal/types"
)

const maxRequestBodySize = 64 << 10

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an AppError.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON writes data with status. A marshalling failure becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "failed to marshal response",
			RequestID: types.GetRequestID(r.Context()),
		}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. Only AppErrors expose their code
// and message; anything else is reported as an opaque 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		detail := ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
		}
		if httpStatus(appErr.Code) >= 500 {
			// Internal messages may carry SQL or upstream text.
			detail.Message = "an unexpected error occurred"
			detail.Details = nil
		}
		JSON(w, r, httpStatus(appErr.Code), APIErrorResponse{Error: detail})
		return
	}

	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{Error: ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: requestID,
	}})
}

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrCodeValidationInvalidInput, types.ErrCodeValidationInvalidTrip,
		types.ErrCodeValidationInvalidToken, errCodeInvalidJSON:
		return http.StatusBadRequest
	case errCodeAuthMissing:
		return http.StatusUnauthorized
	case errCodeAuthDisabled:
		return http.StatusForbidden
	case types.ErrCodeNotFoundTrip:
		return http.StatusNotFound
	case types.ErrCodeUpstreamUnavailable, types.ErrCodeUpstreamForecast,
		types.ErrCodeUpstreamDeliveryFailed, types.ErrCodeUpstreamNoForecastData,
		types.ErrCodeUpstreamRateLimited:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

const errCodeInvalidJSON types.ErrorCode = "validation_invalid_json"

// DecodeJSON reads a single JSON object into dst with unknown fields
// rejected. An empty body yields an error wrapping io.EOF.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxBytesErr):
		return types.NewAppError(errCodeInvalidJSON, "request body too large", err)
	case errors.As(err, &syntaxErr):
		return types.NewAppError(errCodeInvalidJSON, "malformed JSON in request body", err)
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(errCodeInvalidJSON, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return types.NewAppError(errCodeInvalidJSON,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return types.NewAppError(errCodeInvalidJSON, "request body must not be empty", err)
	default:
		return types.NewAppError(errCodeInvalidJSON, "invalid JSON in request body", err)
	}
}
