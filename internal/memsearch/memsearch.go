// Package memsearch provides similarity search over project memory. Every
// query carries a mandatory tenant filter derived from the execution
// context; there is no unfiltered search path.
package memsearch

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/ventureforge/orchestd/internal/execctx"
)

var (
	// ErrInvalidConfig indicates bad searcher configuration.
	ErrInvalidConfig = errors.New("invalid memsearch config")
	// ErrConnectionFailed indicates the vector store is unreachable.
	ErrConnectionFailed = errors.New("vector store connection failed")
	// ErrEmbeddingFailed indicates query embedding failed.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrInvalidCollectionName indicates a collection name outside the
	// allowed pattern.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern rejects uppercase, path traversal and spaces.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks a collection name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Embedder turns text into vectors. Dimensions must match the collection.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry is one memory item to store.
type Entry struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Result is one search hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Searcher is the project-memory boundary used by the engine.
type Searcher interface {
	// Search returns up to k hits for query, scoped to the tenant in ec.
	Search(ctx context.Context, ec execctx.ExecutionContext, query string, k int) ([]Result, error)
	// Add stores entries under the tenant in ec.
	Add(ctx context.Context, ec execctx.ExecutionContext, entries []Entry) ([]string, error)
}
