package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loudness-monitor/internal/auth"
	loudness "loudness-monitor/internal/loudness/domain"
	matrix "loudness-monitor/internal/matrix/domain"
	"loudness-monitor/internal/observability/metrics"
	"loudness-monitor/internal/syncclient"
)

type config struct {
	serverURL string
	interval  time.Duration
	timeout   time.Duration
	once      bool

	metricsAddr string

	mintToken bool
	secret    string
	subject   string
	role      string
	ttl       time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if cfg.mintToken {
		if err := mint(os.Stdout, cfg); err != nil {
			logger.Fatalf("mint token error: %v", err)
		}
		return
	}

	fetcher, err := syncclient.NewHTTPFetcher(cfg.serverURL, cfg.timeout)
	if err != nil {
		logger.Fatalf("fetcher error: %v", err)
	}
	if cfg.metricsAddr != "" {
		metrics.Init(nil, logger)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil {
				logger.Printf("loudwatch: metrics listener stopped err=%v", err)
			}
		}()
	}
	client, err := syncclient.NewClient(fetcher, logger, syncclient.WithObserver(metrics.ObserveSyncPoll))
	if err != nil {
		logger.Fatalf("client error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.once {
		result, err := client.Poll(ctx)
		if err != nil {
			logger.Fatalf("poll error: %v", err)
		}
		report(os.Stdout, result, nil)
		printSummary(os.Stdout, summarize(client.Snapshot()))
		return
	}

	scheduler, err := syncclient.NewScheduler(client, cfg.interval, logger, syncclient.OnPoll(func(result syncclient.PollResult, err error) {
		report(os.Stdout, result, err)
		if err == nil && result.Added > 0 {
			printSummary(os.Stdout, summarize(client.Snapshot()))
		}
	}))
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatalf("scheduler start error: %v", err)
	}
	logger.Printf("loudwatch: polling %s every %s", cfg.serverURL, cfg.interval)
	<-ctx.Done()
	scheduler.Stop()
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.serverURL, "server", getenvDefault("LOUDWATCH_URL", "http://localhost:8080"), "loudness-monitor base URL")
	flag.DurationVar(&cfg.interval, "interval", syncclient.DefaultInterval, "poll interval")
	flag.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.BoolVar(&cfg.once, "once", false, "bootstrap once, print the summary and exit")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve sync poll metrics on this address, e.g. :9102")
	flag.BoolVar(&cfg.mintToken, "mint-token", false, "print a submit token signed with -secret and exit")
	flag.StringVar(&cfg.secret, "secret", os.Getenv("INGEST_JWT_SECRET"), "HS256 secret for -mint-token")
	flag.StringVar(&cfg.subject, "subject", "loudwatch", "token subject")
	flag.StringVar(&cfg.role, "role", string(auth.RoleAnalyzer), "token role (viewer, analyzer, admin)")
	flag.DurationVar(&cfg.ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if cfg.mintToken && cfg.secret == "" {
		return cfg, errors.New("-secret or INGEST_JWT_SECRET is required with -mint-token")
	}
	if cfg.interval <= 0 {
		return cfg, errors.New("-interval must be positive")
	}
	return cfg, nil
}

func mint(w io.Writer, cfg config) error {
	role, ok := auth.NormalizeRole(cfg.role)
	if !ok {
		return fmt.Errorf("unknown role %q", cfg.role)
	}
	token, err := auth.IssueJWT([]byte(cfg.secret), cfg.subject, role, cfg.ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func report(w io.Writer, result syncclient.PollResult, err error) {
	switch {
	case err != nil:
		fmt.Fprintf(w, "poll failed: %v\n", err)
	case result.Skipped:
		fmt.Fprintln(w, "poll skipped: previous poll still running")
	case result.Bootstrapped:
		fmt.Fprintf(w, "bootstrap: %d measurements, watermark %s\n", result.Added, formatWatermark(result.Watermark))
	default:
		fmt.Fprintf(w, "poll: fetched %d, added %d, watermark %s\n", result.Fetched, result.Added, formatWatermark(result.Watermark))
	}
}

type streamLatest struct {
	StreamID loudness.StreamID
	Count    int
	Latest   loudness.Measurement
}

// summarize reduces an ascending collection to the latest reading per stream.
func summarize(items []loudness.Measurement) []streamLatest {
	byStream := make(map[loudness.StreamID]*streamLatest)
	for _, m := range items {
		entry, ok := byStream[m.StreamID]
		if !ok {
			entry = &streamLatest{StreamID: m.StreamID}
			byStream[m.StreamID] = entry
		}
		entry.Count++
		if !m.Timestamp.Before(entry.Latest.Timestamp) {
			entry.Latest = m
		}
	}
	out := make([]streamLatest, 0, len(byStream))
	for _, entry := range byStream {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func printSummary(w io.Writer, rows []streamLatest) {
	for _, row := range rows {
		status := string(row.Latest.Status)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "  stream %d: %d samples, latest %s at %s (%s)\n",
			row.StreamID, row.Count, matrix.FormatDB(row.Latest.AvgDB), row.Latest.Timestamp.UTC().Format(time.RFC3339), status)
	}
}

func formatWatermark(ts time.Time) string {
	if ts.IsZero() {
		return "unset"
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
