// Command supervisor runs the device-resident execution fabric: it accepts
// orchestrator-pushed deployments, serves module-function invocations over
// HTTP, and runs WebAssembly modules through wazero. Entrypoint shape
// (flag.NewFlagSet, config.Parse, signal-driven shutdown) follows the
// teacher's cmd/wasmserver/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wasmiot/supervisor/internal/api"
	"github.com/wasmiot/supervisor/internal/config"
	"github.com/wasmiot/supervisor/internal/history"
	"github.com/wasmiot/supervisor/internal/logging"
	"github.com/wasmiot/supervisor/internal/orchestrator"
	"github.com/wasmiot/supervisor/internal/peripherals"
	"github.com/wasmiot/supervisor/internal/queue"
	"github.com/wasmiot/supervisor/internal/wasmruntime/wazero"
)

func main() {
	var configFile string
	flagSet := flag.NewFlagSet("supervisor", flag.ExitOnError)
	flagSet.StringVar(&configFile, "config", "config.toml", "")
	flagSet.Parse(os.Args[1:])

	if err := config.Parse(configFile); err != nil {
		log.Fatal(err)
	}
	cfg := config.Get()

	var forwarder *logging.HTTPForwarder
	if cfg.OrchestratorURL != "" {
		forwarder = logging.NewHTTPForwarder(cfg.OrchestratorURL+"/device/logs", nil, 64)
		defer forwarder.Close()
	}
	logger := slog.New(logging.NewHandler(slog.NewJSONHandler(os.Stderr, nil), forwarder, cfg.DeviceName))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.InstanceDir, 0o755); err != nil {
		log.Fatal(err)
	}

	deps := wazero.HostDeps{
		Camera:          peripherals.NewFixtureCamera(cfg.CameraFixturePath),
		Sensor:          peripherals.ZeroSensor{},
		RemoteFunctions: peripherals.RemoteFunctionTable{},
		RPCClient:       peripherals.HTTPPoster{},
	}
	factory := wazero.Factory(deps)

	q := queue.New(cfg.QueueBuffer)
	q.Start(context.Background())
	defer q.Shutdown()

	orch := orchestrator.New(
		q,
		history.NewHistory(),
		history.NewCounters(),
		http.DefaultClient,
		time.Duration(cfg.SubCallTimeoutSeconds)*time.Second,
		logger,
	)

	server := api.NewServer(orch, factory, cfg.InstanceDir, cfg.DeviceName, http.DefaultClient, logger)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}
	go func() {
		fmt.Printf("supervisor listening\t%s\n", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	<-sigch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
}
