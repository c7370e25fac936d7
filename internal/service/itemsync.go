package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/source"
	"stockcount-sync-api/pkg/uid"
)

const itemChunkSize = 100

// ItemSyncService pulls the item master from the external source into the
// items collection.
type ItemSyncService struct {
	src   source.Connector
	items repository.ItemRepository
	runs  repository.SyncRunRepository
	now   func() time.Time
	log   zerolog.Logger
}

// NewItemSyncService creates an item sync service.
func NewItemSyncService(src source.Connector, items repository.ItemRepository, runs repository.SyncRunRepository) *ItemSyncService {
	return &ItemSyncService{
		src:   src,
		items: items,
		runs:  runs,
		now:   time.Now,
		log:   logging.Component("itemsync"),
	}
}

// Run fetches items changed since the last completed run started and
// upserts them in chunks. The run is recorded whatever the outcome.
func (s *ItemSyncService) Run(ctx context.Context, trigger string) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uid.New(),
		Trigger:   trigger,
		Status:    model.SyncRunRunning,
		StartedAt: s.now(),
	}

	latest, err := s.runs.LatestCompleted(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		w := latest.StartedAt
		run.Watermark = &w
	}
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, err
	}

	err = s.sync(ctx, run)

	finished := s.now()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = model.SyncRunFailed
		run.Error = err.Error()
	} else {
		run.Status = model.SyncRunCompleted
	}
	// The run document must be finalised even when ctx was cancelled.
	if serr := s.runs.Save(context.WithoutCancel(ctx), run); serr != nil {
		s.log.Error().Err(serr).Str("run_id", run.ID).Msg("failed to record sync run")
	}

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("run_id", run.ID).
		Str("trigger", trigger).
		Int("fetched", run.Fetched).
		Int("upserted", run.Upserted).
		Dur("took", finished.Sub(run.StartedAt)).
		Msg("item sync finished")
	return run, err
}

func (s *ItemSyncService) sync(ctx context.Context, run *model.SyncRun) error {
	items, err := s.src.FetchItems(ctx, run.Watermark)
	if err != nil {
		return err
	}
	run.Fetched = len(items)

	for start := 0; start < len(items); start += itemChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + itemChunkSize
		if end > len(items) {
			end = len(items)
		}
		if err := s.items.BatchUpsert(ctx, items[start:end]); err != nil {
			return err
		}
		run.Upserted += end - start
	}
	return nil
}

// RecentRuns lists the newest sync runs.
func (s *ItemSyncService) RecentRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	return s.runs.Recent(ctx, limit)
}
