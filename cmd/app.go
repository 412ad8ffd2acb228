package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ghyeongl/scribe-relay/api"
	"github.com/ghyeongl/scribe-relay/config"
	"github.com/ghyeongl/scribe-relay/logging"
	"github.com/ghyeongl/scribe-relay/metrics"
	"github.com/ghyeongl/scribe-relay/realtime"
	"github.com/ghyeongl/scribe-relay/recording"
	"github.com/ghyeongl/scribe-relay/storage"
)

const shutdownTimeout = 10 * time.Second

// app owns every long-running component of one service instance.
type app struct {
	cfg         config.Config
	listener    net.Listener
	server      *http.Server
	registry    *realtime.Registry
	broadcaster *realtime.Broadcaster
	transcripts *recording.TranscriptService
	intake      *storage.Intake
	redis       *redis.Client
}

func newApp(cfg config.Config) (*app, error) {
	l := logging.Sub("app")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	a := &app{cfg: cfg}
	a.registry = realtime.NewRegistry(cfg.HeartbeatInterval, m)

	var relay realtime.Relay
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		relay = realtime.NewRedisRelay(a.redis, cfg.RedisChannel)
		l.Info("event relay enabled", "redis", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}
	a.broadcaster = realtime.NewBroadcaster(a.registry, relay, m)

	ledger := recording.NewChunkLedger()
	a.transcripts = recording.NewTranscriptService(ledger, cfg.ChunkDuration, cfg.TranscriptTTL)
	coord := recording.NewCoordinator(
		recording.NewSessionStore(), ledger, recording.NewPatientRegistry(), a.transcripts, a.broadcaster)

	if err := os.MkdirAll(cfg.BlobDir(), 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	blobs, err := storage.NewDiskBlobStore(cfg.BlobDir(), m)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSigner(cfg.PublicURL, cfg.PresignSecret, cfg.PresignTTL)
	if !signer.Enabled() {
		l.Warn("presign_secret not set, upload URLs are unsigned")
	}

	if cfg.WatchIncoming {
		if err := os.MkdirAll(cfg.IncomingDir(), 0755); err != nil {
			return nil, fmt.Errorf("create incoming dir: %w", err)
		}
		if a.intake, err = storage.NewIntake(cfg.IncomingDir(), coord); err != nil {
			return nil, err
		}
	}

	handlers := api.NewHandlers(coord, blobs, signer, a.registry, api.Options{
		DataDir:       cfg.DataDir,
		MaxUploads:    cfg.MaxUploads,
		MaxChunkBytes: cfg.MaxChunkBytes,
	})
	gateway := realtime.NewGateway(cfg.WSPath, a.registry)
	router := api.NewRouter(handlers, gateway, gateway.Path(),
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	a.listener, err = net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	a.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Addr is the bound listen address.
func (a *app) Addr() string { return a.listener.Addr().String() }

// run serves until ctx is cancelled, then shuts every component down.
func (a *app) run(ctx context.Context) error {
	l := logging.Sub("app")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.transcripts.Start()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.transcripts.Stop()
		return nil
	})
	if a.redis != nil {
		g.Go(func() error {
			return a.broadcaster.RunRelay(gctx)
		})
	}
	if a.intake != nil {
		g.Go(func() error {
			a.intake.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		l.Info("listening", "addr", a.Addr(), "ws", a.cfg.WSPath)
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.server.Shutdown(shutdownCtx)
		if a.redis != nil {
			if cerr := a.redis.Close(); cerr != nil {
				l.Warn("close redis", "err", cerr)
			}
		}
		l.Info("stopped")
		return err
	})
	return g.Wait()
}
