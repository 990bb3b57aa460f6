package search

import (
	"context"
	"log"
	"sync"
)

// indexQueue bounds index writes waiting for the worker. Callers block
// when it is full.
const indexQueue = 256

// indexOp is one write to the Meilisearch index: a record to upsert, a batch
// to upsert, or an id to delete.
type indexOp struct {
	record *Record
	batch  []Record
	remove string
}

// Service is the facade that tries Meilisearch first and falls back to the
// database searcher. Index writes go through a single worker so they reach
// Meilisearch in call order.
type Service struct {
	meili    *Meili
	fallback Searcher

	mu      sync.Mutex
	closed  bool
	ops     chan indexOp
	pending sync.WaitGroup
	worker  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	s := &Service{meili: meili, fallback: fallback}
	if meili != nil {
		s.ops = make(chan indexOp, indexQueue)
		s.worker.Add(1)
		go s.drain()
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index queues a record for Meilisearch without waiting for the result.
func (s *Service) Index(r Record) {
	s.enqueue(indexOp{record: &r})
}

// Remove queues a delete from Meilisearch without waiting for the result.
func (s *Service) Remove(id string) {
	s.enqueue(indexOp{remove: id})
}

// ReindexAll queues records for Meilisearch as one batch.
func (s *Service) ReindexAll(records []Record) {
	if len(records) == 0 {
		return
	}
	s.enqueue(indexOp{batch: records})
}

func (s *Service) enqueue(op indexOp) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending.Add(1)
	s.ops <- op
}

func (s *Service) drain() {
	defer s.worker.Done()
	for op := range s.ops {
		s.apply(op)
		s.pending.Done()
	}
}

func (s *Service) apply(op indexOp) {
	switch {
	case op.record != nil:
		if err := s.meili.IndexRecord(*op.record); err != nil {
			log.Printf("search: index %s %s: %v", op.record.Kind, op.record.ID, err)
		}
	case op.batch != nil:
		if err := s.meili.IndexRecords(op.batch); err != nil {
			log.Printf("search: reindex records: %v", err)
		}
	default:
		if err := s.meili.DeleteRecord(op.remove); err != nil {
			log.Printf("search: delete %s: %v", op.remove, err)
		}
	}
}

// Flush waits for queued index writes.
func (s *Service) Flush() {
	if s == nil {
		return
	}
	s.pending.Wait()
}

// ReindexAllFromPG reindexes every non-archived list and note from Postgres.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *Postgres) {
	if s.meili == nil || !s.meili.Healthy() || pg == nil {
		return
	}
	records, err := pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(records)
}

// Close drains queued writes, stops the worker and the Meilisearch health
// monitor. Writes after Close are dropped.
func (s *Service) Close() {
	s.Flush()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.ops != nil {
			close(s.ops)
		}
	}
	s.mu.Unlock()
	s.worker.Wait()
	if s.meili != nil {
		s.meili.Close()
	}
}
