package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/synadia-labs/cloudgoat-gateway/internal/config"
	"github.com/synadia-labs/cloudgoat-gateway/internal/logging"
	"github.com/synadia-labs/cloudgoat-gateway/internal/service"
	"github.com/synadia-labs/cloudgoat-gateway/internal/tool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Init(service.Name, "")
		log.Fatal().Err(err).Msg("error loading config")
	}
	logging.Init(service.Name, cfg.LogLevel)

	gw := service.NewGateway(newRunner(cfg), cfg.Scenarios)
	log.Info().
		Str("tool", cfg.Tool.Path).
		Strs("tool_args", cfg.Tool.BaseArgs).
		Strs("scenarios", cfg.Scenarios).
		Msg("gateway configured")

	service.RegisterMetrics()

	// optional nats transport
	if cfg.Nats.Url != "" {
		nc, err := nats.Connect(cfg.Nats.Url, natsOptions(cfg)...)
		if err != nil {
			log.Fatal().Err(err).Msg("error connecting to nats")
		}
		defer nc.Close()

		svc, err := service.StartNATSMicro(nc, gw)
		if err != nil {
			log.Fatal().Err(err).Msg("error starting nats micro service")
		}
		defer svc.Stop()
	}

	srv := service.NewHTTPServer(&cfg.Http, gw)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msgf("%s started", service.Name)
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			stop()
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	// children are not killed on exit, they keep running unsupervised
	if n := gw.InFlight(); n > 0 {
		log.Warn().Int("in_flight", n).Msg("exiting with cloudgoat invocations still running")
	}
	log.Info().Msgf("%s stopped", service.Name)
}

func newRunner(cfg *config.Config) tool.Runner {
	return tool.NewExecRunner(cfg.Tool.Path, cfg.Tool.BaseArgs...)
}

func natsOptions(cfg *config.Config) []nats.Option {
	opts := []nats.Option{nats.Name(service.Name)}
	if cfg.Nats.Jwt != "" && cfg.Nats.Nkey != "" {
		opts = append(opts, nats.UserJWTAndSeed(cfg.Nats.Jwt, cfg.Nats.Nkey))
	}
	return opts
}
