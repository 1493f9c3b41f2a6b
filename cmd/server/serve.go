package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dkeye/confrelay/internal/adapters/datagram"
	router "github.com/dkeye/confrelay/internal/adapters/http"
	"github.com/dkeye/confrelay/internal/adapters/stream"
	"github.com/dkeye/confrelay/internal/app"
	"github.com/dkeye/confrelay/internal/app/orch"
	"github.com/dkeye/confrelay/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay (stream, datagram and HTTP listeners)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("stream-addr", "", "TCP listen address for stream participants")
	f.String("datagram-addr", "", "UDP listen address for RTP media")
	f.String("http-addr", "", "HTTP listen address for the operator API and WebSocket participants")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.Duration("idle-timeout", 0, "disconnect connections idle for this long (0 disables)")
	f.String("slow-member-policy", "", "what to do with members that cannot keep up (kick, drop)")
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	policy, err := app.PolicyFor(cfg.SlowMemberPolicy)
	if err != nil {
		return err
	}
	o := orch.New(app.NewRegistry(), app.NewMediaDirectory(), policy, orch.Limits{
		ControlRate:  rate.Limit(cfg.ControlRate),
		ControlBurst: cfg.ControlBurst,
		IdleTimeout:  cfg.IdleTimeout,
	})

	streamSrv := &stream.Server{
		Addr: cfg.StreamAddr,
		Options: stream.Options{
			MaxFrameSize: cfg.MaxFrameSize,
			SendQueue:    cfg.SendQueue,
			WriteTimeout: cfg.WriteTimeout,
		},
		Handler: o.RunWorker,
	}
	dgramSrv := datagram.NewServer(cfg.DatagramAddr, cfg.DatagramQueue, o)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.SetupRouter(ctx, cfg, o, dgramSrv),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return streamSrv.ListenAndServe(gctx) })
	g.Go(func() error { return dgramSrv.ListenAndServe(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server forced to shutdown")
		}
		return nil
	})
	g.Go(func() error {
		o.ReapIdle(gctx)
		return nil
	})

	log.Info().Str("stream", cfg.StreamAddr).Str("datagram", cfg.DatagramAddr).Msg("confrelay started")
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
