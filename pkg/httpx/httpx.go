// Package httpx holds the JSON response helpers and middleware shared by the
// HTTP services.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// MaxRequestBody limits JSON request bodies.
const MaxRequestBody = 1 << 20 // 1MB

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// JSON sets the Content-Type header to application/json.
func JSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// ReqID extracts the request ID set by RequestID.
func ReqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// WriteError writes a structured JSON error with a machine-readable code and
// a human-readable message.
func WriteError(w http.ResponseWriter, errCode, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}

// WriteJSON marshals v before touching the response so a marshal failure
// can still be reported as a 500.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "requestId", ReqID(r), "error", err)
		WriteError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		slog.Error("failed to write response", "requestId", ReqID(r), "error", err)
	}
}

// PathID parses the named mux variable as a UUID. On failure it writes a
// 400 INVALID_ID and returns false.
func PathID(w http.ResponseWriter, r *http.Request, key, what string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[key]
	id, err := uuid.Parse(raw)
	if err != nil {
		slog.Warn("invalid "+what+" id", "id", raw, "requestId", ReqID(r), "error", err)
		WriteError(w, "INVALID_ID", "invalid "+what+" id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// DecodeBody reads a size-limited JSON body into dst and runs its validate
// tags. On failure it writes a 400 INVALID_BODY and returns false.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		slog.Warn("failed to decode request body", "requestId", ReqID(r), "error", err)
		WriteError(w, "INVALID_BODY", "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := Validate(dst); err != nil {
		slog.Warn("request body failed validation", "requestId", ReqID(r), "error", err)
		WriteError(w, "INVALID_BODY", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// Validate runs the validate struct tags of v and flattens any failures
// into one readable error.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// drop the root struct name: nodes[1].key rather than Definition.nodes[1].key
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "uuid":
			parts = append(parts, field+" must be a UUID")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}
