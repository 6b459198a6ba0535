// Package watch runs one fetch-then-persist cycle for a dataset.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-soda-watch/config"
	"github.com/aluiziolira/go-soda-watch/models"
	"github.com/aluiziolira/go-soda-watch/parser"
	"github.com/aluiziolira/go-soda-watch/soda"
	"github.com/aluiziolira/go-soda-watch/storage"
	"github.com/google/uuid"
)

// SampleKeyLimit caps the number of first-row key names kept in a RunResult.
const SampleKeyLimit = 25

// Fetcher retrieves the rows updated within a lookback window.
type Fetcher interface {
	FetchUpdatedSince(ctx context.Context, lookbackHours, pageLimit, maxPages int) ([]models.Row, error)
}

// FetcherFactory binds a Fetcher to the domain and dataset in settings.
type FetcherFactory func(settings config.Settings) (Fetcher, error)

// Watcher composes a fetcher, a destination and settings into a run.
type Watcher struct {
	settings   config.Settings
	newFetcher FetcherFactory
	objects    storage.ObjectStore
	now        func() time.Time
	newRunID   func() string
	metrics    *Metrics
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithFetcherFactory replaces the default soda client factory.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(w *Watcher) {
		if f != nil {
			w.newFetcher = f
		}
	}
}

// WithObjectStore sets the store used when settings name a bucket.
func WithObjectStore(store storage.ObjectStore) Option {
	return func(w *Watcher) {
		w.objects = store
	}
}

// WithClock replaces the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithMetrics records run and client collectors on m.
func WithMetrics(m *Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// NewWatcher builds a watcher for settings.
func NewWatcher(settings config.Settings, opts ...Option) *Watcher {
	w := &Watcher{
		settings: settings,
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.newFetcher == nil {
		metrics := w.metrics.client()
		w.newFetcher = func(s config.Settings) (Fetcher, error) {
			return NewSodaFetcher(s, metrics)
		}
	}
	return w
}

// NewSodaFetcher builds the HTTP client for settings.
func NewSodaFetcher(s config.Settings, metrics *soda.Metrics) (Fetcher, error) {
	return soda.NewClient(s.Domain, s.DatasetID,
		soda.WithTimeout(s.RequestTimeout),
		soda.WithUserAgent(s.UserAgent),
		soda.WithAppToken(s.AppToken),
		soda.WithMetrics(metrics),
	)
}

// DestinationFor selects exactly one destination: the object store when a
// bucket is configured, local disk otherwise.
func DestinationFor(s config.Settings) storage.Destination {
	if bucket := strings.TrimSpace(s.RawBucket); bucket != "" {
		return storage.ObjectDestination{Bucket: bucket, Prefix: s.RawPrefix}
	}
	return storage.LocalDestination{Dir: s.LocalDir}
}

// Run performs one fetch sequence and one storage write. Fetch and storage
// errors are returned unchanged; nothing is written when the fetch fails.
func (w *Watcher) Run(ctx context.Context) (*models.RunResult, error) {
	start := w.now()
	s := w.settings
	runID := w.newRunID()
	logger := slog.With(slog.String("run_id", runID), slog.String("dataset_id", s.DatasetID))

	dest := DestinationFor(s)
	if _, ok := dest.(storage.ObjectDestination); ok && w.objects == nil {
		w.metrics.observeRun("config_error", 0)
		return nil, fmt.Errorf("bucket %q configured but no object store available", s.RawBucket)
	}

	fetcher, err := w.newFetcher(s)
	if err != nil {
		w.metrics.observeRun("config_error", 0)
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	logger.Info("fetching updated rows",
		slog.String("domain", s.Domain),
		slog.Int("lookback_hours", s.LookbackHours),
		slog.Int("page_limit", s.PageLimit),
		slog.Int("max_pages", s.MaxPages),
	)
	rows, err := fetcher.FetchUpdatedSince(ctx, s.LookbackHours, s.PageLimit, s.MaxPages)
	if err != nil {
		w.metrics.observeRun("fetch_error", w.now().Sub(start))
		return nil, err
	}

	runTS := models.FormatRunTimestamp(w.now())
	outputPath, err := w.write(ctx, dest, rows, runTS)
	if err != nil {
		w.metrics.observeRun("storage_error", w.now().Sub(start))
		logger.Error("storage write failed, fetched rows discarded",
			slog.Int("rows", len(rows)),
			slog.String("destination", dest.String()),
			slog.Any("error", err),
		)
		return nil, err
	}

	finished := w.now()
	w.metrics.observeRun("success", finished.Sub(start))
	w.metrics.observeSuccess(len(rows), finished)
	logger.Info("run complete",
		slog.Int("rows", len(rows)),
		slog.String("output_path", outputPath),
	)

	return &models.RunResult{
		RunID:         runID,
		RunTS:         runTS,
		DatasetID:     s.DatasetID,
		Domain:        s.Domain,
		LookbackHours: s.LookbackHours,
		PulledRows:    len(rows),
		OutputPath:    outputPath,
		SampleKeys:    sampleKeys(rows),
	}, nil
}

func sampleKeys(rows []models.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	keys, err := parser.SampleKeys(rows[0], SampleKeyLimit)
	if err != nil {
		slog.Debug("first row key sample unavailable", slog.Any("error", err))
		return nil
	}
	return keys
}

func (w *Watcher) write(ctx context.Context, dest storage.Destination, rows []models.Row, runTS string) (string, error) {
	switch d := dest.(type) {
	case storage.ObjectDestination:
		key, err := storage.WriteObject(ctx, w.objects, d.Bucket, d.Prefix, rows, w.settings.DatasetID, runTS)
		w.metrics.observeWrite(w.objects.Scheme(), err)
		if err != nil {
			return "", err
		}
		return storage.ObjectURI(w.objects.Scheme(), d.Bucket, key), nil
	case storage.LocalDestination:
		path, err := storage.WriteLocal(d.Dir, rows, w.settings.DatasetID, runTS)
		w.metrics.observeWrite("local", err)
		return path, err
	default:
		return "", fmt.Errorf("unsupported destination %T", dest)
	}
}
