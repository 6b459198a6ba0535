package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aluiziolira/go-soda-watch/config"
	"github.com/aluiziolira/go-soda-watch/models"
	"github.com/aluiziolira/go-soda-watch/storage"
	"github.com/aluiziolira/go-soda-watch/watch"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/push"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	settings, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	domain := flag.String("domain", settings.Domain, "Socrata API host")
	datasetID := flag.String("dataset", settings.DatasetID, "Dataset identifier")
	lookback := flag.Int("lookback", settings.LookbackHours, "Lookback window (hours)")
	pageLimit := flag.Int("page-limit", settings.PageLimit, "Rows per page")
	maxPages := flag.Int("max-pages", settings.MaxPages, "Maximum pages per run")
	bucket := flag.String("bucket", settings.RawBucket, "Object storage bucket (empty writes locally)")
	prefix := flag.String("prefix", settings.RawPrefix, "Object key prefix")
	backend := flag.String("backend", settings.StorageBackend, "Object storage backend: s3 or gcs")
	localDir := flag.String("local-dir", settings.LocalDir, "Local output root")
	timeout := flag.Duration("timeout", settings.RequestTimeout, "Per-request timeout")
	pushgateway := flag.String("pushgateway", settings.PushgatewayURL, "Prometheus Pushgateway URL")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	settings.Domain = *domain
	settings.DatasetID = *datasetID
	settings.LookbackHours = *lookback
	settings.PageLimit = *pageLimit
	settings.MaxPages = *maxPages
	settings.RawBucket = *bucket
	settings.RawPrefix = *prefix
	settings.StorageBackend = *backend
	settings.LocalDir = *localDir
	settings.RequestTimeout = *timeout
	settings.PushgatewayURL = *pushgateway
	settings.Verbose = *verbose

	logger, level := newLogger(settings.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := settings.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, settings, os.Stdout)
	stop()
	if err != nil {
		slog.Error("watch run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// run performs one watch and prints its summary to out. The object store,
// when one is opened, is closed before run returns.
func run(ctx context.Context, settings config.Settings, out io.Writer, extra ...watch.Option) error {
	metrics := watch.NewMetrics()
	opts := []watch.Option{watch.WithMetrics(metrics)}

	if settings.RawBucket != "" {
		store, closeStore, err := newObjectStore(ctx, settings.StorageBackend)
		if err != nil {
			return fmt.Errorf("initialising object store: %w", err)
		}
		defer func() {
			if err := closeStore(); err != nil {
				slog.Error("close object store", slog.Any("error", err))
			}
		}()
		opts = append(opts, watch.WithObjectStore(store))
	}
	opts = append(opts, extra...)

	result, runErr := watch.NewWatcher(settings, opts...).Run(ctx)

	if settings.PushgatewayURL != "" {
		pusher := push.New(settings.PushgatewayURL, "soda_watch").
			Gatherer(metrics.Registry).
			Grouping("dataset_id", settings.DatasetID)
		if err := pusher.Push(); err != nil {
			slog.Error("metrics push failed", slog.Any("error", err))
		}
	}

	if runErr != nil {
		return runErr
	}
	printSummary(out, result)
	return nil
}

var newObjectStore = openObjectStore

func openObjectStore(ctx context.Context, backend string) (storage.ObjectStore, func() error, error) {
	switch backend {
	case config.BackendGCS:
		store, err := storage.NewGCSStoreFromEnv(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendS3:
		store, err := storage.NewS3StoreFromEnv()
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}

func printSummary(w io.Writer, result *models.RunResult) {
	fmt.Fprintln(w, "=== SODA Watch: Ingest Run ===")
	fmt.Fprintf(w, "Domain:        %s\n", result.Domain)
	fmt.Fprintf(w, "Dataset ID:    %s\n", result.DatasetID)
	fmt.Fprintf(w, "Lookback:      %d hours\n", result.LookbackHours)
	fmt.Fprintf(w, "Pulled rows:   %d\n", result.PulledRows)
	fmt.Fprintf(w, "Saved to:      %s\n", result.OutputPath)
	if result.PulledRows > 0 && len(result.SampleKeys) > 0 {
		fmt.Fprintln(w, "\nSample keys from first row:")
		fmt.Fprintf(w, "%v\n", result.SampleKeys)
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	// stdout carries the summary, so logs go to stderr.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
