package memsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/isolation"
	"github.com/ventureforge/orchestd/internal/logging"
)

// maxK caps result counts to prevent resource exhaustion.
const maxK = 1000

// maxQueryLength caps query text length.
const maxQueryLength = 10000

// Config holds Qdrant connection settings. Port is the gRPC port (6334),
// not the HTTP REST port.
type Config struct {
	Host           string
	Port           int
	CollectionName string
	VectorSize     uint64
	UseTLS         bool
	MaxMessageSize int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// ApplyDefaults sets defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// pointsAPI is the slice of the Qdrant client the searcher needs.
// *qdrant.Client satisfies it.
type pointsAPI interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// QdrantSearcher implements Searcher against Qdrant over gRPC. Tenant
// scoping is enforced in Search itself: the project and language conditions
// are appended to every query, so a compromised caller cannot widen the
// result set by omitting them.
type QdrantSearcher struct {
	api      pointsAPI
	closer   func() error
	embedder Embedder
	config   Config
	iso      *isolation.Validator
	log      *logging.Logger
}

// NewQdrantSearcher connects to Qdrant and verifies the connection.
func NewQdrantSearcher(cfg Config, embedder Embedder, log *logging.Logger) (*QdrantSearcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantSearcher{
		api:      client,
		closer:   client.Close,
		embedder: embedder,
		config:   cfg,
		iso:      isolation.NewValidator(log),
		log:      log.Named("memsearch"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return s, nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantSearcher) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Search performs tenant-scoped similarity search.
func (s *QdrantSearcher) Search(ctx context.Context, ec execctx.ExecutionContext, query string, k int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("query exceeds maximum length of %d characters", maxQueryLength)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > maxK {
		k = maxK
	}

	scope, err := s.iso.Filter(ec)
	if err != nil {
		return nil, err
	}
	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	points, err := s.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         tenantFilter(scope),
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", s.config.CollectionName, err)
	}

	results := make([]Result, len(points))
	for i, point := range points {
		results[i] = toResult(point)
	}
	s.log.Debug(ctx, "memory search", zap.Int("results", len(results)))
	return results, nil
}

// Add stores entries, stamping each with the tenant's project and language
// so later searches can find them and nobody else's can.
func (s *QdrantSearcher) Add(ctx context.Context, ec execctx.ExecutionContext, entries []Entry) ([]string, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries cannot be empty")
	}
	scope, err := s.iso.Filter(ec)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}
	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	points := make([]*qdrant.PointStruct, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids[i] = id

		payload := map[string]*qdrant.Value{
			"content": {Kind: &qdrant.Value_StringValue{StringValue: e.Content}},
			"id":      {Kind: &qdrant.Value_StringValue{StringValue: id}},
		}
		for k, v := range e.Metadata {
			if val := toValue(v); val != nil {
				payload[k] = val
			}
		}
		// Tenant stamps overwrite any caller-supplied values.
		for k, v := range scope {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}

		pointID := id
		if _, err := uuid.Parse(pointID); err != nil {
			pointID = uuid.New().String()
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	if _, err := s.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.CollectionName,
		Points:         points,
	}); err != nil {
		return nil, fmt.Errorf("upserting to collection %s: %w", s.config.CollectionName, err)
	}
	return ids, nil
}

func (s *QdrantSearcher) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *QdrantSearcher) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if s.embedder == nil {
		vectors := make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = make([]float32, s.config.VectorSize)
		}
		return vectors, nil
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// tenantFilter builds the mandatory Must conditions from the tenant scope.
func tenantFilter(scope map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(scope))
	for _, key := range []string{"project_id", "language"} {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: scope[key]},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func toResult(point *qdrant.ScoredPoint) Result {
	result := Result{Score: point.Score}
	if point.Payload == nil {
		return result
	}
	result.Metadata = make(map[string]any, len(point.Payload))
	for k, v := range point.Payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			result.Metadata[k] = val.StringValue
			if k == "content" {
				result.Content = val.StringValue
			} else if k == "id" {
				result.ID = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			result.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			result.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			result.Metadata[k] = val.BoolValue
		}
	}
	return result
}

func toValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	}
	return nil
}
