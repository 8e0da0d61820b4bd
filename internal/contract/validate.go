package contract

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Validation errors. All violations unwrap to ErrValidation so callers can
// classify them with errors.Is without inspecting the message.
var (
	ErrValidation    = errors.New("contract validation failed")
	ErrUnknownSchema = errors.New("unknown schema version")
)

// languagePattern is the ISO 639-1 two-letter lowercase code check.
var languagePattern = regexp.MustCompile(`^[a-z]{2}$`)

// ValidationError describes a single contract violation.
type ValidationError struct {
	Schema string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Schema != "" {
		return fmt.Sprintf("contract validation failed: schema %s: field %q: %s", e.Schema, e.Field, e.Reason)
	}
	return fmt.Sprintf("contract validation failed: field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidLanguage reports whether lang is a two-letter lowercase language code.
func ValidLanguage(lang string) bool {
	return languagePattern.MatchString(lang)
}

// ValidateInput checks the tenant invariants and the registered schema for
// the input's agent type and stage. Validation is pure; it never logs and
// never inspects free-text payload values beyond presence and type.
func (r *Registry) ValidateInput(in AgentInput) error {
	if in.ProjectID == uuid.Nil {
		return &ValidationError{Field: "project_id", Reason: "must be a non-zero UUID"}
	}
	if !ValidLanguage(in.Language) {
		return &ValidationError{Field: "language", Reason: "must match ^[a-z]{2}$"}
	}
	if !in.Stage.Valid() {
		return &ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", in.Stage)}
	}
	if in.AgentType == "" {
		return &ValidationError{Field: "agent_type", Reason: "must not be empty"}
	}

	schema, err := r.Lookup(in.AgentType, in.Stage, in.SchemaVersion)
	if err != nil {
		return err
	}

	for _, field := range schema.Required {
		v, ok := in.Payload[field]
		if !ok || v == nil {
			return &ValidationError{Schema: schema.Key(), Field: field, Reason: "required field missing"}
		}
	}
	for field, kind := range schema.Types {
		v, ok := in.Payload[field]
		if !ok {
			continue
		}
		if !matchesKind(v, kind) {
			return &ValidationError{Schema: schema.Key(), Field: field, Reason: fmt.Sprintf("expected %s", kind)}
		}
	}
	return nil
}

// ValidateOutput checks the agent output envelope. Outputs that fail here are
// treated as permanent failures by the caller; a malformed output is never
// persisted as completed.
func (r *Registry) ValidateOutput(out AgentOutput) error {
	if !out.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", out.Status)}
	}
	if out.Status == StatusSuccess && out.Content == "" {
		return &ValidationError{Field: "content", Reason: "success output requires content"}
	}
	if out.NextAgent != nil && *out.NextAgent == "" {
		return &ValidationError{Field: "next_agent", Reason: "delegation target must not be empty"}
	}
	return nil
}

// FieldKind is the runtime type constraint for a payload field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindObject FieldKind = "object"
	KindList   FieldKind = "list"
)

func matchesKind(v any, kind FieldKind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindList:
		_, ok := v.([]any)
		return ok
	}
	return false
}
