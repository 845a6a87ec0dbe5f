package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/manager"
	"github.com/allvegetable/acp-bridge/internal/common/config"
	"github.com/allvegetable/acp-bridge/internal/common/logger"
	"github.com/allvegetable/acp-bridge/internal/common/telemetry"
	"github.com/allvegetable/acp-bridge/internal/httpapi"
	"github.com/allvegetable/acp-bridge/internal/task"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.New(logger.Config{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)
	zlog := log.Zap()

	zlog.Info("starting acp bridge")

	// 3. Create the root context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize tracing.
	tp, err := telemetry.New(ctx, "acp-bridge")
	if err != nil {
		zlog.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	// 5. Initialize the agent manager (agent record store + ACP supervisors).
	mgr := manager.New(cfg, zlog)

	// 6. Initialize the task scheduler.
	taskStore := task.NewStore(cfg.Tasks.MaxCompletedTasks, time.Duration(cfg.Tasks.TaskTTLMs)*time.Millisecond)
	sched := task.NewScheduler(taskStore, mgr, zlog.With(zap.String("component", "scheduler")), tp.Tracer(), mgr.AskTimeout())
	go sched.RunEvictionLoop()

	// 7. Set up the HTTP server with gin.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpapi.Recovery(zlog), httpapi.RequestLogger(zlog), httpapi.ErrorHandler(zlog))
	httpapi.SetupRoutes(router, mgr, sched, zlog)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	// 8. Start the server in the background.
	go func() {
		zlog.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if isAddrInUse(err) {
				zlog.Error("port already in use", zap.String("addr", addr), zap.Error(err))
				os.Exit(1)
			}
			zlog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 9. Wait for SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down acp bridge")

	// 10. Stop the eviction loop, stop every agent, close the HTTP listener.
	sched.Stop()
	mgr.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("error during http server shutdown", zap.Error(err))
	}

	zlog.Info("acp bridge stopped")
}

func isAddrInUse(err error) bool {
	return err != nil && (os.IsExist(err) || strings.Contains(err.Error(), "address already in use"))
}
