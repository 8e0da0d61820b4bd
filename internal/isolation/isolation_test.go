package isolation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/logging"
)

func testContext(t *testing.T, project uuid.UUID, lang string) execctx.ExecutionContext {
	t.Helper()
	ec, err := execctx.New(project, uuid.New(), contract.StageIdea, lang)
	if err != nil {
		t.Fatalf("execctx.New() error = %v", err)
	}
	return ec
}

func TestAuthorize(t *testing.T) {
	project := uuid.New()
	ec := testContext(t, project, "en")

	t.Run("same tenant pair allowed", func(t *testing.T) {
		v := NewValidator(nil)
		if err := v.Authorize(context.Background(), ec, project, "en"); err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
	})

	t.Run("different project rejected", func(t *testing.T) {
		v := NewValidator(nil)
		err := v.Authorize(context.Background(), ec, uuid.New(), "en")
		if !errors.Is(err, ErrIsolation) {
			t.Fatalf("Authorize() error = %v, want ErrIsolation", err)
		}
	})

	t.Run("different language rejected", func(t *testing.T) {
		v := NewValidator(nil)
		err := v.Authorize(context.Background(), ec, project, "fr")
		if !errors.Is(err, ErrIsolation) {
			t.Fatalf("Authorize() error = %v, want ErrIsolation", err)
		}
	})

	t.Run("zero context rejected", func(t *testing.T) {
		v := NewValidator(nil)
		var zero execctx.ExecutionContext
		err := v.Authorize(context.Background(), zero, project, "en")
		if !errors.Is(err, ErrIsolation) {
			t.Fatalf("Authorize() error = %v, want ErrIsolation", err)
		}
	})

	t.Run("violation logged as security event without raw ids", func(t *testing.T) {
		logger, logs := logging.NewTestLogger()
		v := NewValidator(logger)
		other := uuid.New()
		_ = v.Authorize(context.Background(), ec, other, "en")

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("got %d log entries, want 1", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["security_event"] != true {
			t.Error("security_event field not set")
		}
		for k, val := range fields {
			if s, ok := val.(string); ok && (s == project.String() || s == other.String()) {
				t.Errorf("raw project id leaked in field %q", k)
			}
		}
	})
}

func TestFilter(t *testing.T) {
	project := uuid.New()
	ec := testContext(t, project, "de")
	v := NewValidator(nil)

	filter, err := v.Filter(ec)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if filter["project_id"] != project.String() {
		t.Errorf("Filter() project_id = %q", filter["project_id"])
	}
	if filter["language"] != "de" {
		t.Errorf("Filter() language = %q", filter["language"])
	}

	var zero execctx.ExecutionContext
	if _, err := v.Filter(zero); !errors.Is(err, ErrIsolation) {
		t.Errorf("Filter(zero) error = %v, want ErrIsolation", err)
	}
}
