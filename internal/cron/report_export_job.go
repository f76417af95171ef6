package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-settlement/internal/reports"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const (
	ReportExportJobName = "settlement_report_export"
	defaultExportBatch  = 500
	maxExportBatches    = 200
)

type changedRowsReader interface {
	UpdatedSince(ctx context.Context, after reports.Cursor, limit int) ([]reports.Row, reports.Cursor, error)
}

type rowSink interface {
	Write(ctx context.Context, rows []reports.Row) error
}

type checkpointStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CheckpointKey(name string) string
}

type ReportExportJobParams struct {
	Logger      *logger.Logger
	Reports     changedRowsReader
	Sink        rowSink
	Checkpoints checkpointStore
	BatchSize   int
	// Overlap re-reads changes this far behind the checkpoint on every run,
	// picking up transactions that committed with an earlier updated_at.
	// The sink dedupes re-sent rows.
	Overlap time.Duration
}

// NewReportExportJob streams report rows for orders changed since the last
// run into the warehouse. The checkpoint is an (updated_at, order id) cursor
// and advances only after a batch lands, so a failed run resumes where it
// stopped.
func NewReportExportJob(params ReportExportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reports == nil {
		return nil, fmt.Errorf("reports service required")
	}
	if params.Sink == nil {
		return nil, fmt.Errorf("report sink required")
	}
	if params.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExportBatch
	}
	return &reportExportJob{
		logg:        params.Logger,
		reports:     params.Reports,
		sink:        params.Sink,
		checkpoints: params.Checkpoints,
		batch:       batch,
		overlap:     params.Overlap,
	}, nil
}

type reportExportJob struct {
	logg        *logger.Logger
	reports     changedRowsReader
	sink        rowSink
	checkpoints checkpointStore
	batch       int
	overlap     time.Duration
}

func (j *reportExportJob) Name() string { return ReportExportJobName }

func (j *reportExportJob) Run(ctx context.Context) error {
	key := j.checkpoints.CheckpointKey(ReportExportJobName)
	checkpoint, err := j.loadCheckpoint(ctx, key)
	if err != nil {
		return err
	}

	cursor := checkpoint
	if j.overlap > 0 && !checkpoint.UpdatedAt.IsZero() {
		cursor = reports.Cursor{UpdatedAt: checkpoint.UpdatedAt.Add(-j.overlap)}
	}

	exported := 0
	for i := 0; i < maxExportBatches; i++ {
		rows, next, err := j.reports.UpdatedSince(ctx, cursor, j.batch)
		if err != nil {
			return fmt.Errorf("load rows after %s: %w", encodeCheckpoint(cursor), err)
		}
		if len(rows) == 0 {
			break
		}
		if err := j.sink.Write(ctx, rows); err != nil {
			return fmt.Errorf("write %d rows: %w", len(rows), err)
		}
		cursor = next
		if cursor.After(checkpoint) {
			checkpoint = cursor
			if err := j.checkpoints.Set(ctx, key, encodeCheckpoint(checkpoint), 0); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
		}
		exported += len(rows)
		if len(rows) < j.batch {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"rows_exported": exported,
		"checkpoint":    encodeCheckpoint(checkpoint),
	})
	j.logg.Info(logCtx, "settlement report export complete")
	return nil
}

func (j *reportExportJob) loadCheckpoint(ctx context.Context, key string) (reports.Cursor, error) {
	raw, err := j.checkpoints.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return reports.Cursor{}, nil
	}
	if err != nil {
		return reports.Cursor{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return decodeCheckpoint(raw)
}

// Checkpoints are stored as "<RFC3339Nano updated_at>|<order id>". A bare
// timestamp is read as a cursor before every order of that instant.
func encodeCheckpoint(c reports.Cursor) string {
	return c.UpdatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
}

func decodeCheckpoint(raw string) (reports.Cursor, error) {
	stamp, id, hasID := strings.Cut(raw, "|")
	at, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return reports.Cursor{}, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}
	cursor := reports.Cursor{UpdatedAt: at}
	if hasID {
		if cursor.ID, err = uuid.Parse(id); err != nil {
			return reports.Cursor{}, fmt.Errorf("parse checkpoint %q: %w", raw, err)
		}
	}
	return cursor, nil
}
