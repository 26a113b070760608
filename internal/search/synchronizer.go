package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/eventbus"
	"github.com/fastygo/realty-mesh/internal/metrics"
	"github.com/fastygo/realty-mesh/repository"
	"github.com/fastygo/realty-mesh/repository/memory"
)

// Index operations, also used as metric labels.
const (
	OpUpsert = "upsert"
	OpStatus = "status"
	OpDelete = "delete"
)

// Ledger clocks kept per property. Content and status are tracked apart so
// a late content event still lands without overwriting a newer status.
const (
	docClock    = ":doc"
	statusClock = ":status"
)

const lockStripes = 64

const (
	resultOK    = "ok"
	resultError = "error"
	resultStale = "stale"
)

// Synchronizer keeps the search index in step with property events and
// answers queries against it.
type Synchronizer struct {
	store   Store
	ledger  repository.EventLedger
	logger  *zap.Logger
	metrics *metrics.Registry
	locks   [lockStripes]sync.Mutex
}

// NewSynchronizer wires a store and a staleness ledger. A nil ledger falls
// back to an in-memory one.
func NewSynchronizer(store Store, ledger repository.EventLedger, logger *zap.Logger, m *metrics.Registry) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ledger == nil {
		ledger = memory.NewLedgerRepository()
	}
	return &Synchronizer{
		store:   store,
		ledger:  ledger,
		logger:  logger,
		metrics: m,
	}
}

// Register binds the property handlers on r.
func (s *Synchronizer) Register(r *eventbus.Router) {
	r.Handle(domain.EventPropertyCreated, s.HandleCreated)
	r.Handle(domain.EventPropertyUpdated, s.HandleUpdated)
	r.Handle(domain.EventPropertyStatusChanged, s.HandleStatusChanged)
	r.Handle(domain.EventPropertyArchived, s.HandleArchived)
	r.Handle(domain.EventPropertyDeleted, s.HandleDeleted)
}

func (s *Synchronizer) HandleCreated(ctx context.Context, evt domain.Event) error {
	return s.upsertDocument(ctx, evt, true)
}

func (s *Synchronizer) HandleUpdated(ctx context.Context, evt domain.Event) error {
	return s.upsertDocument(ctx, evt, false)
}

func (s *Synchronizer) upsertDocument(ctx context.Context, evt domain.Event, created bool) error {
	doc, err := Project(evt)
	if err != nil {
		return err
	}
	at := evt.Time().UTC()
	if created && doc.CreatedAt == nil {
		doc.CreatedAt = &at
	}
	if doc.UpdatedAt == nil {
		doc.UpdatedAt = &at
	}
	fields, err := Fields(doc)
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "render document", err)
	}
	return s.apply(ctx, evt, doc.ID, OpUpsert, docClock, func(ctx context.Context) ([]string, error) {
		clocks := []string{docClock}
		if _, ok := fields["status"]; ok {
			behind, err := s.behind(ctx, doc.ID+statusClock, evt.Timestamp)
			if err != nil {
				return nil, err
			}
			if behind {
				delete(fields, "status")
				delete(fields, "updatedAt")
			} else {
				clocks = append(clocks, statusClock)
			}
		}
		return clocks, s.store.Upsert(ctx, doc.ID, fields)
	})
}

type statusPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	NewStatus string `json:"newStatus"`
	OldStatus string `json:"oldStatus"`
}

func (s *Synchronizer) HandleStatusChanged(ctx context.Context, evt domain.Event) error {
	var p statusPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return domain.InvalidPayload("decode status payload", err)
	}
	id := firstString(p.ID, evt.Key)
	status := firstString(p.NewStatus, p.Status)
	if id == "" || status == "" {
		return domain.InvalidPayload("status payload needs id and status", nil)
	}
	return s.setStatus(ctx, evt, id, status)
}

func (s *Synchronizer) HandleArchived(ctx context.Context, evt domain.Event) error {
	id, err := payloadID(evt)
	if err != nil {
		return err
	}
	return s.setStatus(ctx, evt, id, domain.StatusArchived)
}

func (s *Synchronizer) setStatus(ctx context.Context, evt domain.Event, id, status string) error {
	fields := map[string]interface{}{
		"id":        id,
		"status":    status,
		"updatedAt": evt.Time().UTC(),
	}
	return s.apply(ctx, evt, id, OpStatus, statusClock, func(ctx context.Context) ([]string, error) {
		behind, err := s.behind(ctx, id+docClock, evt.Timestamp)
		if err != nil {
			return nil, err
		}
		if behind {
			delete(fields, "updatedAt")
		}
		return []string{statusClock}, s.store.Upsert(ctx, id, fields)
	})
}

func (s *Synchronizer) HandleDeleted(ctx context.Context, evt domain.Event) error {
	id, err := payloadID(evt)
	if err != nil {
		return err
	}
	return s.apply(ctx, evt, id, OpDelete, docClock, func(ctx context.Context) ([]string, error) {
		return []string{docClock, statusClock}, s.store.Delete(ctx, id)
	})
}

// apply runs write unless the gate clock of id already holds a newer event.
// Only after write succeeds are the clocks it returns moved to the event
// timestamp, so a failed write is retried in full on redelivery. Events
// without a timestamp bypass the ledger.
func (s *Synchronizer) apply(ctx context.Context, evt domain.Event, id, op, gate string, write func(context.Context) ([]string, error)) error {
	log := s.logger.With(
		zap.String("id", id),
		zap.String("operation", op),
		zap.String("event_type", evt.EventType),
		zap.Int64("event_ts", evt.Timestamp),
	)

	mu := &s.locks[xxhash.Sum64String(id)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	stale, err := s.behind(ctx, id+gate, evt.Timestamp)
	if err != nil {
		s.metrics.IndexOperation(op, resultError)
		return err
	}
	if stale {
		log.Info("skipping stale event")
		s.metrics.IndexOperation(op, resultStale)
		return nil
	}

	clocks, err := write(ctx)
	if err != nil {
		s.metrics.IndexOperation(op, resultError)
		return err
	}
	if evt.Timestamp > 0 {
		for _, clock := range clocks {
			if _, err := s.ledger.Advance(ctx, id+clock, evt.Timestamp); err != nil {
				s.metrics.IndexOperation(op, resultError)
				return fmt.Errorf("ledger advance %s%s: %w", id, clock, err)
			}
		}
	}
	log.Debug("index updated")
	s.metrics.IndexOperation(op, resultOK)
	return nil
}

// behind reports whether key already records an event newer than ts.
func (s *Synchronizer) behind(ctx context.Context, key string, ts int64) (bool, error) {
	if ts <= 0 {
		return false, nil
	}
	last, err := s.ledger.Last(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ledger read %s: %w", key, err)
	}
	return last > ts, nil
}

func payloadID(evt domain.Event) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return "", domain.InvalidPayload("decode payload", err)
		}
	}
	id := firstString(p.ID, evt.Key)
	if id == "" {
		return "", domain.InvalidPayload("payload has no id", nil)
	}
	return id, nil
}

// Search runs q against the index.
func (s *Synchronizer) Search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error) {
	q = NormalizeQuery(q)
	res, err := s.store.Search(ctx, BuildSearchBody(q))
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		var doc domain.PropertyDocument
		if err := json.Unmarshal(h.Source, &doc); err != nil {
			s.logger.Warn("skipping undecodable hit", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		if doc.ID == "" {
			doc.ID = h.ID
		}
		hit := domain.SearchHit{PropertyDocument: doc}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}

	return &domain.SearchResult{
		Hits:  hits,
		Total: res.Total,
		Page:  q.Page,
		Limit: q.Limit,
	}, nil
}

// Get returns one indexed document.
func (s *Synchronizer) Get(ctx context.Context, id string) (*domain.PropertyDocument, error) {
	raw, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var doc domain.PropertyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return &doc, nil
}

type termsAgg struct {
	Buckets []struct {
		Key      interface{} `json:"key"`
		DocCount int64       `json:"doc_count"`
	} `json:"buckets"`
}

// Stats aggregates the whole index.
func (s *Synchronizer) Stats(ctx context.Context) (*domain.IndexStats, error) {
	res, err := s.store.Search(ctx, BuildStatsBody())
	if err != nil {
		return nil, err
	}

	stats := &domain.IndexStats{
		ByType:   []domain.Bucket{},
		ByStatus: []domain.Bucket{},
		ByCity:   []domain.Bucket{},
	}

	var total struct {
		Value float64 `json:"value"`
	}
	if err := decodeAgg(res.Aggregations, "total", &total); err != nil {
		return nil, err
	}
	stats.Total = int64(total.Value)

	for name, dst := range map[string]*[]domain.Bucket{"by_type": &stats.ByType, "by_status": &stats.ByStatus, "by_city": &stats.ByCity} {
		var agg termsAgg
		if err := decodeAgg(res.Aggregations, name, &agg); err != nil {
			return nil, err
		}
		for _, b := range agg.Buckets {
			*dst = append(*dst, domain.Bucket{Key: fmt.Sprint(b.Key), Count: b.DocCount})
		}
	}

	if err := decodeAgg(res.Aggregations, "price_stats", &stats.PriceStats); err != nil {
		return nil, err
	}
	if err := decodeAgg(res.Aggregations, "area_stats", &stats.AreaStats); err != nil {
		return nil, err
	}
	return stats, nil
}

func decodeAgg(aggs map[string]json.RawMessage, name string, dst interface{}) error {
	raw, ok := aggs[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode aggregation %s: %w", name, err)
	}
	return nil
}

// Suggest returns distinct titles starting with prefix.
func (s *Synchronizer) Suggest(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []string{}, nil
	}
	res, err := s.store.Search(ctx, BuildSuggestBody(prefix))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(res.Hits))
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		var doc struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(h.Source, &doc); err != nil || doc.Title == "" {
			continue
		}
		if _, dup := seen[doc.Title]; dup {
			continue
		}
		seen[doc.Title] = struct{}{}
		out = append(out, doc.Title)
	}
	return out, nil
}

// Ready reports whether the index backend answers.
func (s *Synchronizer) Ready(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.store.Ping(pingCtx)
}
