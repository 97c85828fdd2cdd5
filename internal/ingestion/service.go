package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/engine"
	"github.com/cardvault/reconciler/internal/metrics"
	"github.com/cardvault/reconciler/internal/repository"
)

// FeedResult is returned from a feed ingestion.
type FeedResult struct {
	FeedID        string               `json:"feed_id"`
	RecordCount   int                  `json:"record_count"`
	DuplicateFeed bool                 `json:"duplicate_feed"`
	Summary       *domain.BatchSummary `json:"summary,omitempty"`
}

// Service ingests bulk ACU feed files and runs them through the standard
// batch pipeline.
type Service struct {
	batchRepo    *repository.BatchRepo
	resultRepo   *repository.ResultRepo
	orchestrator *engine.BatchOrchestrator
}

func NewService(
	batchRepo *repository.BatchRepo,
	resultRepo *repository.ResultRepo,
	orchestrator *engine.BatchOrchestrator,
) *Service {
	return &Service{
		batchRepo:    batchRepo,
		resultRepo:   resultRepo,
		orchestrator: orchestrator,
	}
}

// IngestFeed parses an ACU CSV feed file and processes every record. The
// file's sha256 hash is the feed-level idempotency key: re-uploading the
// same bytes is a no-op.
func (s *Service) IngestFeed(ctx context.Context, data []byte, source string, opts domain.ProcessingOptions) (*FeedResult, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.batchRepo.FeedExistsByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		return &FeedResult{FeedID: "already-ingested", DuplicateFeed: true}, nil
	}

	records, err := ParseACUFeedCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	feedID := fmt.Sprintf("FEED-%s-%d", source, time.Now().UnixNano())

	if err := s.batchRepo.Insert(feedID, "acu_feed", len(records), records); err != nil {
		return nil, fmt.Errorf("store feed batch: %w", err)
	}
	if err := s.batchRepo.InsertFeed(feedID, hash, len(records)); err != nil {
		return nil, fmt.Errorf("record feed hash: %w", err)
	}

	summary, results, err := s.orchestrator.ProcessBatch(ctx, feedID, records, len(records), opts)
	if err != nil {
		return nil, fmt.Errorf("process feed: %w", err)
	}
	if err := s.resultRepo.SaveResults(feedID, results); err != nil {
		log.Printf("[ingestion] WARNING: failed to persist results for %s: %v", feedID, err)
	}

	metrics.BatchesProcessed.WithLabelValues("acu_feed").Inc()
	log.Printf("[ingestion] feed %s: %d records from %s", feedID, len(records), source)

	return &FeedResult{
		FeedID:      feedID,
		RecordCount: len(records),
		Summary:     summary,
	}, nil
}
