package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/adw-relay/internal/broadcast"
	"github.com/rickgao/adw-relay/internal/connection"
)

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS connection_events (
	id          UUID PRIMARY KEY,
	instance_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	from_value  TEXT NOT NULL,
	to_value    TEXT NOT NULL,
	attempt     INTEGER NOT NULL DEFAULT 0,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	error       TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS connection_events_occurred_at_idx
	ON connection_events (instance_id, occurred_at);
`

const insertEvent = `
	INSERT INTO connection_events (id, instance_id, kind, from_value, to_value, attempt, latency_ms, error, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool used by the journal.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int           // events held between the manager and the writer
	WriteTimeout  time.Duration // per flush
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
		WriteTimeout:  5 * time.Second,
	}
}

// Metrics tracks journal activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64 // events discarded because the buffer was full
}

// eventRow is one connection_events row.
type eventRow struct {
	ID         uuid.UUID
	Kind       string
	From       string
	To         string
	Attempt    int
	LatencyMs  int64
	Error      *string
	OccurredAt time.Time
}

// Journal batches transitions into connection_events.
type Journal struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	input chan eventRow

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Journal. Zero-valued config fields take their defaults.
func New(cfg Config, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	return &Journal{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		input:  make(chan eventRow, cfg.BufferSize),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, Schema)
	return err
}

// Handle receives manager events. It never blocks; events arriving while
// the buffer is full are counted and discarded.
func (j *Journal) Handle(ev broadcast.Event) {
	row, ok := transform(ev)
	if !ok {
		return
	}

	select {
	case j.input <- row:
	default:
		j.batchMu.Lock()
		j.metrics.Dropped++
		j.batchMu.Unlock()
		j.logger.Warn("journal buffer full, dropping event", "kind", row.Kind)
	}
}

// Start begins consuming events and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the loops and writes whatever is buffered.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	if j.cancel != nil {
		j.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
		return ctx.Err()
	}

	// Final drain and flush
drain:
	for {
		select {
		case row := <-j.input:
			j.add(row)
		default:
			break drain
		}
	}
	j.flush()

	j.logger.Info("journal stopped", "inserts", j.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (j *Journal) Stats() Metrics {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case row := <-j.input:
			j.add(row)
		}
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flush()
		}
	}
}

// add appends a row and flushes when the batch is full.
func (j *Journal) add(row eventRow) {
	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush()
	}
}

// transform converts a manager event to a row. Only state and health
// changes are journaled.
func transform(ev broadcast.Event) (eventRow, bool) {
	row := eventRow{ID: uuid.New()}

	switch e := ev.(type) {
	case connection.StateChanged:
		row.Kind = string(connection.KindStateChanged)
		row.From = string(e.From)
		row.To = string(e.To)
		row.Attempt = e.Attempt
		row.OccurredAt = e.At
		if e.Err != nil {
			msg := e.Err.Error()
			row.Error = &msg
		}
	case connection.HealthChanged:
		row.Kind = string(connection.KindHealthChanged)
		row.From = string(e.From)
		row.To = string(e.To)
		row.LatencyMs = e.LatencyMs
		row.OccurredAt = e.At
	default:
		return eventRow{}, false
	}

	return row, true
}

// flush writes the current batch to the database.
func (j *Journal) flush() {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]eventRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.WriteTimeout)
	defer cancel()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed connection events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	if j.db == nil {
		return 0, errors.New("journal has no database")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent,
			r.ID, j.cfg.InstanceID, r.Kind, r.From, r.To, r.Attempt, r.LatencyMs, r.Error, r.OccurredAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
