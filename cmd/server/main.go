// Command udsrpc-server runs the RPC server with the calculator and clock
// services registered.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"uds-rpc/config"
	"uds-rpc/logging"
	"uds-rpc/middleware"
	"uds-rpc/registry"
	"uds-rpc/server"
	"uds-rpc/service"
)

func main() {
	app := &cli.App{
		Name:  "udsrpc-server",
		Usage: "serve calculator and clock RPCs over a Unix domain socket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "socket path, overrides the config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, or error; overrides the config file",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if sock := c.String("socket"); sock != "" {
		cfg.Server.SocketPath = sock
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := registry.New(log)
	if err := reg.Register(service.NewCalculator(log)); err != nil {
		return err
	}
	if err := reg.Register(service.NewClock(log)); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		SocketPath:        cfg.Server.SocketPath,
		InactivityTimeout: cfg.Server.InactivityTimeout.Std(),
		ReapInterval:      cfg.Server.ReapInterval.Std(),
		WriteTimeout:      cfg.Server.WriteTimeout.Std(),
		Logger:            log,
	}, reg)
	if err != nil {
		return err
	}

	srv.Use(middleware.LoggingMiddleware(log))
	if rl := cfg.Server.RateLimit; rl.Enabled {
		srv.Use(middleware.RateLimitMiddleware(rl.PerSecond, rl.Burst))
		log.Info("rate limit enabled",
			zap.Float64("perSecond", rl.PerSecond),
			zap.Int("burst", rl.Burst))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("serving", zap.String("socket", cfg.Server.SocketPath))

	<-ctx.Done()
	log.Info("signal received, draining")
	srv.Stop()
	return nil
}
