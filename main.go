package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "loudness-monitor/internal/api/http"
	"loudness-monitor/internal/auth"
	"loudness-monitor/internal/config"
	"loudness-monitor/internal/loudness/application"
	loudness "loudness-monitor/internal/loudness/domain"
	"loudness-monitor/internal/loudness/infrastructure/influx"
	"loudness-monitor/internal/loudness/infrastructure/memory"
	"loudness-monitor/internal/loudness/infrastructure/postgres"
	"loudness-monitor/internal/loudness/interfaces/kafka"
	matrixapp "loudness-monitor/internal/matrix/application"
	matrix "loudness-monitor/internal/matrix/domain"
	"loudness-monitor/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store error: %v", err)
	}
	if db != nil {
		defer db.Close()
	}
	metrics.Init(db, logger)

	policy, err := cfg.Policy()
	if err != nil {
		logger.Fatalf("matrix policy error: %v", err)
	}
	location, err := cfg.Location()
	if err != nil {
		logger.Fatalf("display timezone error: %v", err)
	}

	ingestOpts := []application.IngestOption{
		application.WithThresholds(cfg.Thresholds),
		application.WithIngestObserver(metrics.ObserveIngest),
	}
	if cfg.Influx.Enabled() {
		sink, err := influx.NewSink(influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			logger.Fatalf("influx sink error: %v", err)
		}
		defer sink.Close()
		if err := sink.Ping(ctx); err != nil {
			logger.Printf("influx: health check failed, writes will be retried per submission err=%v", err)
		}
		ingestOpts = append(ingestOpts, application.WithSink(sink))
	}
	ingestService, err := application.NewIngestService(store.tx, logger, ingestOpts...)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	matrixService, err := matrixapp.NewMatrixService(store.streams, store.measurements, logger,
		matrixapp.WithDefaults(matrix.Options{
			Policy:      policy,
			Thresholds:  cfg.Thresholds,
			Percentiles: cfg.Matrix.Percentiles,
			Format:      matrix.Formatter{Annotate: cfg.Display.Annotate, Location: location},
		}),
		matrixapp.WithRowCap(cfg.Matrix.MaxRows, cfg.Matrix.PageSize),
		matrixapp.WithMatrixObserver(metrics.ObserveMatrix),
	)
	if err != nil {
		logger.Fatalf("matrix service error: %v", err)
	}

	strategy, err := matrixapp.ParseDateStrategy(cfg.DateIndex.Strategy)
	if err != nil {
		logger.Fatalf("date index error: %v", err)
	}
	dateIndex, err := matrixapp.NewDateIndex(store.measurements, strategy, cfg.Matrix.MaxRows, logger)
	if err != nil {
		logger.Fatalf("date index error: %v", err)
	}

	statusService, err := application.NewStatusService(store.streams, store.measurements, loudness.SystemClock{}, cfg.Matrix.MaxRows, logger)
	if err != nil {
		logger.Fatalf("status service error: %v", err)
	}

	if cfg.Kafka.Enabled() {
		consumer, err := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, ingestService, logger)
		if err != nil {
			logger.Fatalf("kafka consumer error: %v", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Printf("kafka: consumer stopped err=%v", err)
			}
		}()
		logger.Printf("kafka: consuming topic=%s group=%s", cfg.Kafka.Topic, cfg.Kafka.GroupID)
	}

	authPolicy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	api, err := apihttp.NewServer(apihttp.Deps{
		Matrix:       matrixService,
		Dates:        dateIndex,
		Ingest:       ingestService,
		Status:       statusService,
		Streams:      store.streams,
		Measurements: store.measurements,
		FixedSlots:   cfg.Matrix.FixedSlots,
		Auth:         auth.NewMiddleware([]byte(cfg.Ingest.JWTSecret), authPolicy),
	}, logger)
	if err != nil {
		logger.Fatalf("api error: %v", err)
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: api, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s store=%s policy=%s dates=%s", cfg.HTTPAddr, cfg.StoreDriver, policy, strategy)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

type backend struct {
	streams      loudness.StreamRepository
	measurements loudness.MeasurementRepository
	tx           loudness.Transactor
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (backend, *sql.DB, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Printf("store: using in-memory store, data is lost on exit")
		mem := memory.NewStore()
		return backend{streams: mem, measurements: mem, tx: mem}, nil, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return backend{}, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return backend{}, nil, err
	}
	if cfg.MigrateOnStart {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return backend{}, nil, err
		}
	}
	pg := postgres.NewStore(db)
	return backend{streams: pg.Streams, measurements: pg.Measurements, tx: pg}, db, nil
}
