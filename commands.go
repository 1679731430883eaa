package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"backtest-core/internal/api"
	"backtest-core/internal/backtest"
	"backtest-core/internal/data"
	"backtest-core/internal/engine"
	"backtest-core/internal/market"
	"backtest-core/internal/report"
	"backtest-core/internal/sweep"
	"backtest-core/pkg/config"
	"backtest-core/pkg/i18n"
	"backtest-core/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseDateFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: -%s must be YYYY-MM-DD", backtest.ErrInvalidConfig, name)
	}
	return t, nil
}

// runCommand: backtest run -symbol AAPL [-start 2023-01-01] [-end 2024-01-01] ...
func runCommand(cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "symbol to backtest (required)")
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "end day (exclusive), YYYY-MM-DD")
	fast := fs.Int("fast", cfg.MACDFast, "MACD fast period")
	slow := fs.Int("slow", cfg.MACDSlow, "MACD slow period")
	signalPeriod := fs.Int("signal", cfg.MACDSignal, "MACD signal period")
	capital := fs.Float64("capital", cfg.InitialCapital, "initial capital")
	commission := fs.Float64("commission", cfg.CommissionRate, "commission rate per fill")
	qty := fs.Int("qty", cfg.TradeQuantity, "shares per buy")
	benchmark := fs.String("benchmark", "", "benchmark symbol for beta and alpha")
	lang := fs.String("lang", cfg.Language, "report language (en, zh)")
	out := fs.String("out", "-", "markdown report path, - for stdout")
	csvDir := fs.String("csv", "", "directory for equity, trade and signal CSV files")
	noStore := fs.Bool("no-store", false, "do not persist the run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from, err := parseDateFlag("start", *start)
	if err != nil {
		return err
	}
	to, err := parseDateFlag("end", *end)
	if err != nil {
		return err
	}
	bc := cfg.BacktestDefaults(strings.ToUpper(strings.TrimSpace(*symbol)), from, to)
	bc.MACDFast, bc.MACDSlow, bc.MACDSignal = *fast, *slow, *signalPeriod
	bc.InitialCapital, bc.CommissionRate, bc.TradeQuantity = *capital, *commission, *qty
	bc.Benchmark = strings.ToUpper(strings.TrimSpace(*benchmark))
	if err := bc.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	defer logger.LogDuration(ctx, "run command finished", "symbol", bc.Symbol)()

	a, err := newApp(ctx, cfg, log, !*noStore)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.svc.RunBacktest(ctx, bc)
	if run == nil {
		return err
	}
	if err != nil {
		log.Warn("run not stored", "error", err)
	}

	if *csvDir != "" {
		dir := filepath.Join(*csvDir, run.ID)
		if err := report.WriteCSV(dir, run.Result); err != nil {
			return err
		}
		log.Info("csv written", "dir", dir)
	}

	md := report.Markdown(run.Result, i18n.ParseLanguage(*lang), report.DefaultRecentSignals)
	if *out == "-" {
		_, err = fmt.Print(md)
		return err
	}
	return os.WriteFile(*out, []byte(md), 0o644)
}

// sweepCommand: backtest sweep -config sweeps.yaml [-top 5]
func sweepCommand(cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	path := fs.String("config", "sweeps.yaml", "sweep definition file")
	top := fs.Int("top", 10, "ranked runs to print per sweep")
	only := fs.String("only", "", "comma separated sweep names to run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	defs, err := sweep.LoadConfig(*path)
	if err != nil {
		return fmt.Errorf("%w: %w", backtest.ErrInvalidConfig, err)
	}
	selected := splitList(*only)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, def := range defs {
		if len(selected) > 0 && !contains(selected, def.Name) {
			continue
		}
		rep, err := a.svc.RunSweep(ctx, engine.SweepRequest{Name: def.Name, Configs: def.Expand()})
		if err != nil {
			return err
		}
		printSweep(os.Stdout, rep, *top)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func printSweep(f io.Writer, rep *engine.SweepReport, top int) {
	byID := make(map[string]engine.SweepRun, len(rep.Runs))
	for _, r := range rep.Runs {
		byID[r.RunID] = r
	}
	fmt.Fprintf(f, "\n%s (%s): %d runs, %d failed\n", rep.Name, rep.SweepID, len(rep.Runs), rep.Failed)
	w := tabwriter.NewWriter(f, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tRUN\tPARAMS\tSHARPE\tRETURN\tMAX DD\tTRADES")
	for i, id := range rep.Ranking {
		if top > 0 && i >= top {
			break
		}
		r := byID[id]
		s := r.Summary
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.2f%%\t%.2f%%\t%d\n", i+1, r.RunID[:8], r.Params,
			float64(s.SharpeRatio), float64(s.TotalReturn)*100, float64(s.MaxDrawdown)*100, s.TotalTrades)
	}
	w.Flush()
	for _, r := range rep.Runs {
		if r.Error != "" {
			fmt.Fprintf(f, "failed: %s: %s\n", r.Params, r.Error)
		}
	}
}

// serveCommand starts the REST API, the websocket stream, the metrics
// endpoint and the gRPC health service until SIGINT or SIGTERM.
func serveCommand(cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.String("port", cfg.Port, "HTTP port")
	grpcPort := fs.String("grpc-port", cfg.GRPCPort, "gRPC health port, empty to disable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, API authentication disabled")
	}

	ctx, cancel := signalContext()
	defer cancel()

	log.Info(i18n.M().Starting, "version", version)
	log.Info(fmt.Sprintf(i18n.M().ConfigLoaded, *port, cfg.DataSource))

	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()
	monitorDone := a.monitor(ctx)

	server := api.NewServer(api.Options{
		Engine:    a.svc,
		Bus:       a.bus,
		Metrics:   a.metrics,
		JWTSecret: cfg.JWTSecret,
		Logger:    log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(fmt.Sprintf(i18n.M().ServerListening, *port))
		if err := server.Start(":" + *port); err != nil {
			return fmt.Errorf(i18n.M().APIServerError, err)
		}
		return nil
	})

	var grpcSrv *api.GRPCServer
	if *grpcPort != "" {
		lis, err := net.Listen("tcp", ":"+*grpcPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = api.NewGRPCServer()
		g.Go(func() error {
			log.Info(fmt.Sprintf(i18n.M().GRPCListening, *grpcPort))
			return grpcSrv.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(i18n.M().ShuttingDown)
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if grpcSrv != nil {
			grpcSrv.Stop(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	cancel()
	<-monitorDone
	return err
}

// importCommand: backtest import -symbol AAPL -file aapl.csv
func importCommand(cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "symbol the bars belong to (required)")
	file := fs.String("file", "", "CSV file with date and close columns (required)")
	dsn := fs.String("dsn", cfg.PostgresDSN, "postgres DSN")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" || *file == "" || *dsn == "" {
		return fmt.Errorf("%w: -symbol, -file and a postgres DSN are required", backtest.ErrInvalidConfig)
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	bars, err := data.ReadCSV(f)
	if err != nil {
		return err
	}
	bars = market.Normalize(bars)

	ctx, cancel := signalContext()
	defer cancel()
	pg, err := data.NewPostgresSource(ctx, *dsn)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	sym := strings.ToUpper(*symbol)
	if err := pg.Import(ctx, sym, bars); err != nil {
		return err
	}
	log.Info(fmt.Sprintf(i18n.M().DataLoaded, len(bars), sym))
	return nil
}

// tokenCommand prints a bearer token signed with JWT_SECRET.
func tokenCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "cli", "token subject")
	ttl := fs.Duration("ttl", 72*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	token, expiresAt, err := api.GenerateToken(*subject, cfg.JWTSecret, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
