package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wspreset/codec"
	"wspreset/discovery"
	"wspreset/engine"
	"wspreset/middleware"
	"wspreset/preset"
	"wspreset/registry"
	"wspreset/server"
	"wspreset/sessionstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a preset server",
	RunE:  runServe,
}

// vehicleQuery asks the connected clients of one vehicle type for a data key.
type vehicleQuery struct {
	VehicleType string `json:"vehicleType"`
	DataRequest string `json:"dataRequest"`
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig("wspreset-server")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codecType, err := codec.ParseType(cfg.Server.Codec)
	if err != nil {
		return err
	}
	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.Server.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Server.RateLimit, max(cfg.Server.RateBurst, 1)))
	}
	if d := cfg.Server.HandlerTimeout.Duration; d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}

	opts := server.Options{
		Addr:              cfg.Server.Addr,
		Path:              cfg.Server.Path,
		TCPAddr:           cfg.Server.TCPAddr,
		HeartbeatInterval: cfg.Server.HeartbeatInterval.Duration,
		HandshakeTimeout:  cfg.Server.HandshakeTimeout.Duration,
		DefaultTimeout:    cfg.Server.DefaultTimeout.Duration,
		Codec:             codec.GetCodec(codecType, cfg.Server.ReviveDates),
		Middlewares:       mws,
		Service:           cfg.Server.Service,
		Advertise:         cfg.Server.Advertise,
		TTL:               cfg.Etcd.TTL,
		Logger:            &logger,
	}

	if len(cfg.Etcd.Endpoints) > 0 {
		dir, err := discovery.NewEtcdDirectory(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout.Duration)
		if err != nil {
			return err
		}
		defer dir.Close()
		opts.Directory = dir
	}

	if cfg.Redis.Addr != "" {
		store, err := sessionstore.NewRedis(ctx, sessionstore.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.SessionTTL.Duration,
		})
		if err != nil {
			return err
		}
		opts.Sessions = store
	} else {
		opts.Sessions = sessionstore.NewMemory(cfg.Redis.SessionTTL.Duration)
	}

	srv := server.New(opts)
	if _, err := srv.Register("vehicle", preset.WithMethod(engine.Typed(
		func(ctx context.Context, h preset.Surface, q vehicleQuery) (any, error) {
			return h.GetCustomData(q.DataRequest, preset.To(registry.Attrs{"vehicleType": q.VehicleType})), nil
		}))); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	return srv.Shutdown(10 * time.Second)
}
