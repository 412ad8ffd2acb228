package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ghyeongl/scribe-relay/recording"
	"github.com/ghyeongl/scribe-relay/storage"
)

const msgInternal = "Internal server error"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps domain errors onto HTTP statuses. Anything unrecognised is
// a 500 with a generic body.
func writeErr(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, describeValidation(verrs))
	case errors.Is(err, recording.ErrValidation), errors.Is(err, storage.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrBadUploadToken):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, recording.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "email":
			parts = append(parts, fe.Field()+" must be an email address")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

// decodeBody reads a JSON body into dst and validates it.
func decodeBody(r *http.Request, v *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &recording.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	return v.Struct(dst)
}

// chunkNumber accepts a JSON number or a numeric string.
type chunkNumber struct {
	raw string
}

func (c *chunkNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	c.raw = strings.Trim(s, `"`)
	return nil
}

// value returns the parsed ordinal.
func (c *chunkNumber) value() (int, error) {
	if c == nil || c.raw == "" {
		return 0, &recording.ValidationError{Field: "chunkNumber", Reason: "is required"}
	}
	return recording.ParseOrdinal(c.raw)
}
