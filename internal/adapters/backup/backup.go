// Package backup exports the game state as a timestamped JSON document.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/pkg/logger"
	"github.com/okian/ratingmeter/pkg/metrics"
)

// nameLayout is the second-resolution part of a backup name; milliseconds
// follow, as in backup_20240501_120000_250.json.
const nameLayout = "backup_20060102_150405"

// Source is the read side of the store the exporter copies from. Dump must
// return a consistent view so ratings never reference missing rows.
type Source interface {
	Dump(ctx context.Context) (model.Dump, error)
}

// Sink stores a finished backup document and returns where it went.
type Sink interface {
	Put(ctx context.Context, name string, body []byte) (string, error)
}

// Snapshot is the backup document.
type Snapshot struct {
	CreatedAt time.Time `json:"created_at"`
	model.Dump
}

// Result describes a completed backup.
type Result struct {
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Records   int       `json:"records"`
	CreatedAt time.Time `json:"created_at"`
}

// Exporter copies Source into Sink. Runs are serialised and each gets a
// distinct millisecond timestamp, so names never repeat within a process.
type Exporter struct {
	src  Source
	sink Sink
	now  func() time.Time
	log  logger.Logger

	mu   sync.Mutex
	last time.Time
}

// Option applies a configuration option to the Exporter.
type Option func(*Exporter)

// WithClock sets the time source used for names and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the exporter's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExporter creates an exporter. A logger must be supplied through
// WithLogger unless the global logger is initialised.
func NewExporter(src Source, sink Sink, opts ...Option) *Exporter {
	e := &Exporter{
		src:  src,
		sink: sink,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Named("backup")
	}
	return e
}

// Run takes one backup.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := e.run(ctx)
	if err != nil {
		metrics.RecordBackup(false, 0, 0, 0)
		metrics.RecordErrorByComponent("backup", "export")
		return Result{}, err
	}
	metrics.RecordBackup(true, float64(time.Since(start).Milliseconds()), res.Records, res.CreatedAt.Unix())
	return res, nil
}

func (e *Exporter) run(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{CreatedAt: e.stamp()}
	var err error
	if snap.Dump, err = e.src.Dump(ctx); err != nil {
		return Result{}, fmt.Errorf("backup read: %w", err)
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode backup: %w", err)
	}

	name := backupName(snap.CreatedAt)
	loc, err := e.sink.Put(ctx, name, body)
	if err != nil {
		return Result{}, fmt.Errorf("store backup %s: %w", name, err)
	}
	return Result{
		Name:      name,
		Location:  loc,
		Records:   len(snap.Users) + len(snap.Samples) + len(snap.Ratings),
		CreatedAt: snap.CreatedAt,
	}, nil
}

// stamp returns the current time in milliseconds, moved past the previous
// run's stamp when the clock has not advanced. Callers hold e.mu.
func (e *Exporter) stamp() time.Time {
	t := e.now().UTC().Truncate(time.Millisecond)
	if !t.After(e.last) {
		t = e.last.Add(time.Millisecond)
	}
	e.last = t
	return t
}

func backupName(t time.Time) string {
	return fmt.Sprintf("%s_%03d.json", t.Format(nameLayout), t.Nanosecond()/int(time.Millisecond))
}

// Schedule takes a backup every interval until ctx is done. Failures are
// logged and do not stop the loop.
func (e *Exporter) Schedule(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := e.Run(ctx)
			if err != nil {
				e.log.Error(ctx, "scheduled backup failed", logger.Error(err))
				continue
			}
			e.log.Info(ctx, "scheduled backup stored",
				logger.String("location", res.Location), logger.Int("records", res.Records))
		}
	}
}
