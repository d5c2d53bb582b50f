// Package httpjson junta los helpers que antes estaban duplicados en cada handler
// (writeJSON) más el render del error tipado.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/platform/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody es el sobre de todos los errores.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError renderiza cualquier error. Si no es *apperr.Error se loguea
// completo y se responde INTERNAL sin detalle.
func WriteError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		if log != nil {
			log.Error("unexpected error", map[string]any{
				"err":        err,
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": chimw.GetReqID(r.Context()),
			})
		}
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorPayload{
			Code:    apperr.CodeInternal,
			Message: "internal error",
		}})
		return
	}

	WriteJSON(w, StatusFor(e.Kind), ErrorBody{Error: ErrorPayload{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}})
}

func StatusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Decode lee el body JSON. Body vacío es válido cuando allowEmpty.
func Decode(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("invalid json").Wrap(err)
	}
	return nil
}
