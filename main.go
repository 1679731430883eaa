package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"backtest-core/internal/backtest"
	"backtest-core/internal/data"
	"backtest-core/internal/engine"
	"backtest-core/internal/events"
	"backtest-core/internal/monitor"
	"backtest-core/internal/notify"
	"backtest-core/internal/persistence"
	"backtest-core/pkg/config"
	"backtest-core/pkg/db"
	"backtest-core/pkg/i18n"
	"backtest-core/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `usage: backtest <command> [flags]

commands:
  run     run one backtest and print its report
  sweep   run the parameter sweeps of a YAML file
  serve   start the REST, websocket and gRPC health servers
  import  load a CSV price file into postgres
  token   issue an API token`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, i18n.Get("ConfigLoadFailed")+"\n", err)
		os.Exit(1)
	}
	i18n.SetLanguage(i18n.ParseLanguage(cfg.Language))

	log, err := logger.Init(logger.Config{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		FilePath: cfg.LogFile,
		Compress: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		err = runCommand(cfg, log, args)
	case "sweep":
		err = sweepCommand(cfg, log, args)
	case "serve":
		err = serveCommand(cfg, log, args)
	case "import":
		err = importCommand(cfg, log, args)
	case "token":
		err = tokenCommand(cfg, args)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error(cmd+" failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, backtest.ErrInvalidConfig):
		return 2
	case errors.Is(err, backtest.ErrDataUnavailable):
		return 3
	default:
		return 1
	}
}

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *db.Database
	source  *data.Instrumented
	store   *persistence.RunStore
	bus     *events.Bus
	metrics *monitor.Metrics
	pub     notify.Publisher
	svc     *engine.Impl
}

// newApp opens the database, the price source and the result publisher. The
// run store is only attached when persist is set.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, persist bool) (*app, error) {
	a := &app{cfg: cfg, log: log, bus: events.NewBus(), metrics: monitor.NewMetrics("backtest")}

	log.Info(fmt.Sprintf(i18n.M().UsingDBPath, cfg.DBPath))
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf(i18n.M().DBInitFailed, err)
	}
	a.db = database
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf(i18n.M().DBMigrationsFailed, err)
	}

	a.source, err = data.New(ctx, cfg, database, a.metrics.ObserveFetch, log)
	if err != nil {
		database.Close()
		return nil, err
	}

	a.pub = notify.Nop{}
	publisher := "none"
	if len(cfg.KafkaBrokers) > 0 {
		a.pub = notify.Observed{
			Publisher: notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log),
			OnError:   func(error) { a.metrics.PublishErrors.Inc() },
		}
		publisher = "kafka:" + cfg.KafkaTopic
		log.Info(fmt.Sprintf(i18n.M().KafkaEnabled, cfg.KafkaTopic))
	}

	if persist {
		a.store = persistence.NewRunStore(database, log)
	}
	a.svc = engine.NewImpl(engine.Config{
		Engine:      backtest.NewEngine(a.source, log),
		Store:       a.store,
		Bus:         a.bus,
		Publisher:   a.pub,
		Concurrency: cfg.SweepConcurrency,
		Logger:      log,
		Meta: engine.SystemStatus{
			Version:    version,
			DataSource: a.source.Name(),
			Publisher:  publisher,
		},
	})
	return a, nil
}

// monitor starts the metrics and alert consumer; the returned channel closes
// when it stops.
func (a *app) monitor(ctx context.Context) <-chan struct{} {
	m := &monitor.Monitor{
		Bus:     a.bus,
		Metrics: a.metrics,
		Rules: []monitor.Rule{
			monitor.DrawdownRule{Limit: a.cfg.AlertMaxDrawdown},
			monitor.LossRule{Limit: a.cfg.AlertMaxLoss},
		},
		Log: a.log,
	}
	return m.Start(ctx)
}

func (a *app) Close() {
	if err := a.pub.Close(); err != nil {
		a.log.Warn("close publisher", "error", err)
	}
	if err := a.source.Close(); err != nil {
		a.log.Warn("close price source", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", "error", err)
	}
}

// splitList parses comma separated flag values.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
