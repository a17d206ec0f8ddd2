// Command edgesyncd is the composition root: one explicit construction of
// every collaborator (schema registry, Source client, database, sync
// processor, notification consumer), run through an explicit start-up
// phase that blocks readiness until it passes, per spec.md §9's
// "dependency-injected handler graph → explicit construction" and
// "fire-and-forget container-creation → explicit start-up phase" notes.
// Flag parsing follows spirit's cmd/spirit pattern of a flat kong-parsed
// options struct with environment-variable fallbacks.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/loopworks/edgesync/pkg/check"
	"github.com/loopworks/edgesync/pkg/config"
	"github.com/loopworks/edgesync/pkg/consumer"
	"github.com/loopworks/edgesync/pkg/dbconn"
	"github.com/loopworks/edgesync/pkg/metrics"
	"github.com/loopworks/edgesync/pkg/poison"
	"github.com/loopworks/edgesync/pkg/schema"
	"github.com/loopworks/edgesync/pkg/source"
	"github.com/loopworks/edgesync/pkg/sync"
)

// cli is parsed by kong; every field falls back to the EDGESYNC_* env var
// of the same name when the flag is omitted, matching pkg/config.FromEnv's
// variable names.
type cli struct {
	SiteID      string `env:"EDGESYNC_SITE_ID" help:"Source site identifier (GUID or host,guid,guid)." required:""`
	ListID      string `env:"EDGESYNC_LIST_ID" help:"Source list GUID." required:""`
	WatchedPath string `env:"EDGESYNC_WATCHED_PATH" help:"Canonicalized folder to accept." required:""`

	BatchSize           int `env:"EDGESYNC_BATCH_SIZE" default:"200" help:"Max ids per committed run."`
	ResyncWindowMinutes int `env:"EDGESYNC_RESYNC_WINDOW_MINUTES" default:"10" help:"Look-back on cursor expiry."`
	LedgerSchema        string `env:"EDGESYNC_LEDGER_SCHEMA" default:"edges_raw" help:"Schema holding the ledger tables."`

	DBConnection      string `env:"EDGESYNC_DB_CONNECTION" required:"" help:"MySQL DSN."`
	QueueConnection   string `env:"EDGESYNC_QUEUE_CONNECTION" required:"" help:"Comma-separated Kafka broker list."`
	SourceCredentials string `env:"EDGESYNC_SOURCE_CREDENTIALS" required:"" help:"Bearer credential for the Source API."`
	SourceBaseURL     string `env:"EDGESYNC_SOURCE_BASE_URL" required:"" help:"Base URL of the Source API."`

	Topic      string `env:"EDGESYNC_QUEUE_TOPIC" default:"edgesync-notifications" help:"Queue topic to consume and re-enqueue continuations on."`
	GroupID    string `env:"EDGESYNC_QUEUE_GROUP_ID" default:"edgesyncd" help:"Consumer group id."`
	DLQTopic   string `env:"EDGESYNC_DLQ_TOPIC" default:"edgesync-poison" help:"Dead-letter topic for archived messages."`
	Workers    int    `env:"EDGESYNC_WORKERS" default:"4" help:"Bounded fan-out of parallel message processors."`
	MetricsAddr string `env:"EDGESYNC_METRICS_ADDR" default:":9090" help:"Address to serve /metrics on."`
}

func main() {
	var c cli
	kong.Parse(&c)

	logger := logrus.New()

	cfg := &config.Config{
		SiteID:              c.SiteID,
		ListID:              c.ListID,
		WatchedPath:         c.WatchedPath,
		BatchSize:           c.BatchSize,
		ResyncWindowMinutes: c.ResyncWindowMinutes,
		LedgerSchema:        c.LedgerSchema,
		DBConnection:        c.DBConnection,
		QueueConnection:     c.QueueConnection,
		SourceCredentials:   c.SourceCredentials,
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	db, err := dbconn.New(cfg.DBConnection, dbconn.NewDBConfig())
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := check.Preflight(ctx, cfg, db); err != nil {
		logger.Fatalf("preflight checks failed: %v", err)
	}

	registry := schema.DefaultRegistry()
	srcClient := source.NewHTTPClient(c.SourceBaseURL, cfg.SourceCredentials)

	processor := sync.NewProcessor(db, cfg.LedgerSchema, registry, srcClient, cfg.WatchedPath, cfg.BatchSize, cfg.ResyncWindow())
	processor.SetLogger(logger)

	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg)
	processor.SetMetricsSink(sink)

	metricsServer := &http.Server{Addr: c.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()
	defer metricsServer.Close()

	brokers := splitBrokers(cfg.QueueConnection)
	dlq := poison.NewKafkaDLQStore(brokers, c.DLQTopic)
	defer dlq.Close()

	cons := consumer.New(consumer.Config{
		Brokers:   brokers,
		Topic:     c.Topic,
		GroupID:   c.GroupID,
		SiteID:    cfg.SiteID,
		ListID:    cfg.ListID,
		BatchSize: cfg.BatchSize,
		Workers:   c.Workers,
	}, processor, srcClient, dlq)
	cons.SetLogger(logger)
	cons.SetMetricsSink(sink)
	defer cons.Close()

	logger.Infof("edgesyncd starting: site=%s list=%s watched_path=%s topic=%s workers=%d",
		cfg.SiteID, cfg.ListID, cfg.WatchedPath, c.Topic, c.Workers)

	if err := cons.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("consumer loop exited with error: %v", err)
		os.Exit(1)
	}
	logger.Info("edgesyncd shutting down")
}

func splitBrokers(connection string) []string {
	var brokers []string
	start := 0
	for i := 0; i <= len(connection); i++ {
		if i == len(connection) || connection[i] == ',' {
			if i > start {
				brokers = append(brokers, connection[start:i])
			}
			start = i + 1
		}
	}
	return brokers
}
