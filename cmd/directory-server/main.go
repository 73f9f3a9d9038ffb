// Command directory-server runs the UserService RPC endpoint and its REST
// front end. The front end reaches the records only through RPC.
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
	"userdir/middleware"
	"userdir/server"
)

func main() {
	defaults := config.Base()
	defaults.RPC.Address = ":50051"
	defaults.HTTP.Address = ":8001"
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

	svr := server.NewServer(server.WithLogger(log), server.WithMaxWorkers(cfg.RPC.MaxWorkers))
	svr.Use(middleware.RecoveryMiddleware(log))
	svr.Use(middleware.LoggingMiddleware(log))
	svr.Use(middleware.RateLimitMiddleware(cfg.RPC.RateLimit, cfg.RPC.RateBurst))
	svr.Use(middleware.TimeOutMiddleware(cfg.RPC.Timeout))
	if err := svr.Register(directory.NewUserService(directory.NewStore(), log)); err != nil {
		log.Fatal("register UserService", zap.Error(err))
	}

	go func() {
		if err := svr.ListenAndServe("tcp", cfg.RPC.Address); err != nil {
			log.Fatal("rpc server stopped", zap.Error(err))
		}
	}()

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
		Handler:      httpapi.NewDirectoryHandler(gw, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Address))
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
	if err := svr.Shutdown(cfg.RPC.ShutdownTimeout); err != nil {
		log.Error("rpc shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
