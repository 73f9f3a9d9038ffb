// Command user-gateway serves a REST view of the directory that it reaches
// over RPC, plus a connectivity probe. It holds no records of its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"userdir/client"
	"userdir/codec"
	"userdir/config"
	"userdir/directory"
	"userdir/gateway"
	"userdir/httpapi"
	"userdir/logger"
)

func main() {
	defaults := config.Base()
	defaults.HTTP.Address = ":8002"
	cfg := config.MustLoad(defaults)

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	codecType, err := codec.ParseCodecType(cfg.Upstream.Codec)
	if err != nil {
		log.Fatal("invalid upstream codec", zap.Error(err))
	}

	cli := client.Dial(cfg.Upstream.Directory,
		client.WithCodec(codecType),
		client.WithPoolSize(cfg.Upstream.PoolSize),
		client.WithDialTimeout(cfg.Upstream.DialTimeout),
	)
	defer cli.Close()
	gw := gateway.NewDirectory(directory.NewClient(cli),
		gateway.WithLogger(log),
		gateway.WithCallTimeout(cfg.Upstream.CallTimeout),
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      httpapi.NewGatewayHandler(gw, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTP.Address),
			zap.String("directory", cfg.Upstream.Directory))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RPC.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
