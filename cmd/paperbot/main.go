// Command paperbot runs the paper-trading engine: a long-lived
// "serve" process driving the market data -> indicator -> strategy ->
// matcher -> storage -> fan-out pipeline, plus a "dbreset" maintenance
// subcommand.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bot_trading/internal/alert"
	"bot_trading/internal/config"
	"bot_trading/internal/fanout"
	"bot_trading/internal/httpapi"
	"bot_trading/internal/logging"
	"bot_trading/internal/runtime"
	"bot_trading/internal/storage"
	"bot_trading/internal/telemetry"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "paperbot",
		Short: "paper-trading engine for a single perpetual futures symbol",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(&configFile))
	root.AddCommand(newDBResetCmd(&configFile))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the trading pipeline and downstream API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configFile)
		},
	}
}

func newDBResetCmd(configFile *string) *cobra.Command {
	var strategyID string
	cmd := &cobra.Command{
		Use:   "dbreset",
		Short: "delete a strategy's trades, ledger, snapshots and position history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(*configFile, strategyID)
		},
	}
	cmd.Flags().StringVar(&strategyID, "strategy", "", "strategy id to reset")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func runServe(configFile string) error {
	log := logging.Setup(os.Getenv("PAPERBOT_LOG_FORMAT"), os.Getenv("PAPERBOT_LOG_LEVEL"))

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error().Err(err).Msg("load config failed")
		return err
	}

	_, closeTracer, err := telemetry.InitTracer(telemetry.Config{
		ServiceName: "paperbot",
		Enabled:     cfg.Telemetry.JaegerEndpoint != "",
		AgentHost:   cfg.Telemetry.JaegerEndpoint,
	})
	if err != nil {
		log.Error().Err(err).Msg("init tracer failed")
		return err
	}
	defer closeTracer()

	store, err := storage.Open(cfg.Storage.SqlitePath)
	if err != nil {
		log.Error().Err(err).Msg("open storage failed")
		return err
	}
	defer store.Close()

	sinks := buildAlertSinks(log, cfg.Alerts)
	alertMgr := alert.NewManager(log, alert.StoreRecorder{Store: store}, time.Duration(cfg.Alerts.DedupTTLMs)*time.Millisecond, sinks...)

	pushInterval, err := fanout.ParsePushInterval(cfg.API.WsPushInterval)
	if err != nil {
		log.Error().Err(err).Msg("invalid ws_push_interval")
		return err
	}
	bus := fanout.NewBus(pushInterval)
	defer bus.Close()

	restClient := futures.NewClient("", "")
	if cfg.Binance.RestBase != "" {
		restClient.BaseURL = cfg.Binance.RestBase
	}

	rt, err := runtime.New(log, cfg, store, bus, alertMgr, restClient)
	if err != nil {
		log.Error().Err(err).Msg("build runtime failed")
		return err
	}

	server := httpapi.New(log, store, rt, bus, cfg.API.BasePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:    cfg.API.Host + ":" + strconv.Itoa(cfg.API.Port),
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("http api listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server exited")
		}
	}()

	log.Info().Str("symbol", cfg.Symbol).Msg("paperbot runtime starting")
	return rt.Start(ctx)
}

func runDBReset(configFile, strategyID string) error {
	log := logging.Setup(os.Getenv("PAPERBOT_LOG_FORMAT"), os.Getenv("PAPERBOT_LOG_LEVEL"))
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.SqlitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ResetStrategy(context.Background(), strategyID); err != nil {
		log.Error().Err(err).Str("strategy", strategyID).Msg("reset failed")
		return err
	}
	log.Info().Str("strategy", strategyID).Msg("strategy reset")
	return nil
}

func buildAlertSinks(log zerolog.Logger, cfg config.AlertsConfig) []alert.Sink {
	if !cfg.Enabled {
		return nil
	}
	var sinks []alert.Sink
	if cfg.Telegram.Enabled {
		sink, err := alert.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Error().Err(err).Msg("telegram sink disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Webhook.Enabled {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Webhook.URL))
	}
	return sinks
}
