package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/domain"
)

const retryOnConflict = 3

// Store is the document index the synchronizer writes to and queries.
type Store interface {
	EnsureIndex(ctx context.Context) error
	// Upsert merges fields into the document id, creating it when absent.
	Upsert(ctx context.Context, id string, fields map[string]interface{}) error
	// Delete removes id; a missing document is not an error.
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (json.RawMessage, error)
	Search(ctx context.Context, body map[string]interface{}) (*SearchResponse, error)
	Ping(ctx context.Context) error
}

// RawHit is a search hit before projection.
type RawHit struct {
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// SearchResponse is the part of a _search response the synchronizer reads.
type SearchResponse struct {
	Total        int64
	Hits         []RawHit
	Aggregations map[string]json.RawMessage
}

// ESStore implements Store over an Elasticsearch index.
type ESStore struct {
	es      *elasticsearch.Client
	index   string
	refresh string
	logger  *zap.Logger
}

// NewESStore binds a client to index. refresh is passed to write requests
// ("true", "wait_for" or "false").
func NewESStore(es *elasticsearch.Client, index, refresh string, logger *zap.Logger) *ESStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refresh == "" {
		refresh = "false"
	}
	return &ESStore{es: es, index: index, refresh: refresh, logger: logger}
}

func (s *ESStore) Index() string {
	return s.index
}

func (s *ESStore) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: %s", s.index, res.Status())
	}

	body, err := encode(IndexDefinition())
	if err != nil {
		return err
	}
	res, err = s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(body),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer drain(res)
	if res.IsError() {
		reason := errorReason(res)
		// another replica won the race
		if strings.Contains(reason, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s %s", s.index, res.Status(), reason)
	}
	s.logger.Info("search index created", zap.String("index", s.index))
	return nil
}

func (s *ESStore) Upsert(ctx context.Context, id string, fields map[string]interface{}) error {
	body, err := encode(map[string]interface{}{
		"doc":           fields,
		"doc_as_upsert": true,
	})
	if err != nil {
		return err
	}
	res, err := s.es.Update(s.index, id, body,
		s.es.Update.WithContext(ctx),
		s.es.Update.WithRetryOnConflict(retryOnConflict),
		s.es.Update.WithRefresh(s.refresh),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("upsert %s: %s %s", id, res.Status(), errorReason(res))
	}
	return nil
}

func (s *ESStore) Delete(ctx context.Context, id string) error {
	res, err := s.es.Delete(s.index, id,
		s.es.Delete.WithContext(ctx),
		s.es.Delete.WithRefresh(s.refresh),
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete %s: %s %s", id, res.Status(), errorReason(res))
	}
	return nil
}

func (s *ESStore) Get(ctx context.Context, id string) (json.RawMessage, error) {
	res, err := s.es.Get(s.index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, domain.ErrDocumentNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get %s: %s %s", id, res.Status(), errorReason(res))
	}

	var doc struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if !doc.Found {
		return nil, domain.ErrDocumentNotFound
	}
	return doc.Source, nil
}

func (s *ESStore) Search(ctx context.Context, query map[string]interface{}) (*SearchResponse, error) {
	body, err := encode(query)
	if err != nil {
		return nil, err
	}
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(body),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.index, err)
	}
	defer drain(res)
	if res.IsError() {
		err := fmt.Errorf("search %s: %s %s", s.index, res.Status(), errorReason(res))
		if res.StatusCode == http.StatusBadRequest {
			return nil, domain.WrapError(domain.ErrCodeInvalid, "invalid search request", err)
		}
		return nil, err
	}

	var raw struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []RawHit `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &SearchResponse{
		Total:        raw.Hits.Total.Value,
		Hits:         raw.Hits.Hits,
		Aggregations: raw.Aggregations,
	}, nil
}

func (s *ESStore) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("ping: %s", res.Status())
	}
	return nil
}

func encode(v interface{}) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(raw), nil
}

func errorReason(res *esapi.Response) string {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil || e.Error.Type == "" {
		return ""
	}
	return e.Error.Type + ": " + e.Error.Reason
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
