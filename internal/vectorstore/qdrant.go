package vectorstore

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection settings for QdrantStore.
type QdrantConfig struct {
	// URL in "host:port" form (e.g. "localhost:6334").
	URL        string
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantStore implements Index using Qdrant
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant vector store client
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(cfg.URL)
	if err != nil {
		// If no port specified, assume default
		host = cfg.URL
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Ping checks that Qdrant answers health checks.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// Dimension reads the vector size from the collection configuration.
func (s *QdrantStore) Dimension(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection %q: %w", s.collection, err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, fmt.Errorf("collection %q has no single unnamed dense vector", s.collection)
	}
	return int(params.GetSize()), nil
}

// Search performs similarity search
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		results = append(results, resultFromPoint(point))
	}

	return results, nil
}

func resultFromPoint(point *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{
		ID:       pointID(point.GetId()),
		Score:    point.GetScore(),
		Metadata: make(map[string]string),
	}

	for k, v := range point.GetPayload() {
		switch k {
		case PayloadContent:
			result.Content = v.GetStringValue()
		case PayloadSource:
			result.Source = v.GetStringValue()
		case PayloadPage:
			result.Page = pageFromValue(v)
		default:
			if s := v.GetStringValue(); s != "" {
				result.Metadata[k] = s
			}
		}
	}

	return result
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// pageFromValue accepts integer, float (PDF loaders often store 3.0) or
// numeric string page values.
func pageFromValue(v *qdrant.Value) *int {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		if kind.IntegerValue < 0 {
			return nil
		}
		n := int(kind.IntegerValue)
		return &n
	case *qdrant.Value_DoubleValue:
		if kind.DoubleValue < 0 || kind.DoubleValue != math.Trunc(kind.DoubleValue) {
			return nil
		}
		n := int(kind.DoubleValue)
		return &n
	case *qdrant.Value_StringValue:
		return parsePage(kind.StringValue)
	default:
		return nil
	}
}

var _ Index = (*QdrantStore)(nil)
