package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duplexai/duplexcore/pkg/orchestrator"
	"github.com/duplexai/duplexcore/pkg/providers/llm"
	"github.com/duplexai/duplexcore/pkg/providers/stt"
	"github.com/duplexai/duplexcore/pkg/transport/ws"
)

// serverConfig is the HTTP listener's own configuration, grounded on
// BaSui01-agentflow's internal/server.Config (addr + timeouts), kept
// separate from orchestrator.Config which governs per-session behavior.
type serverConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// fileConfig is the on-disk shape loaded from CONFIG_PATH, layering the
// server's listener settings and the orchestrator's session tunables in
// one YAML document.
type fileConfig struct {
	Server       serverConfig      `yaml:"server"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
}

func loadConfig(logger *zap.Logger) (serverConfig, orchestrator.Config) {
	srvCfg := defaultServerConfig()
	orchCfg := orchestrator.DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return srvCfg, orchCfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("could not read config file, using defaults", zap.String("path", path), zap.Error(err))
		return srvCfg, orchCfg
	}

	var fc fileConfig
	fc.Server = srvCfg
	fc.Orchestrator = orchCfg
	if err := yaml.Unmarshal(data, &fc); err != nil {
		logger.Warn("could not parse config file, using defaults", zap.String("path", path), zap.Error(err))
		return srvCfg, orchCfg
	}
	return fc.Server, fc.Orchestrator
}

func buildTranscriber(logger *zap.Logger) orchestrator.Transcriber {
	groqKey := os.Getenv("GROQ_API_KEY")
	if groqKey == "" {
		logger.Fatal("GROQ_API_KEY must be set")
	}
	model := os.Getenv("GROQ_STT_MODEL")
	g := stt.NewGroqTranscriber(groqKey, model)
	return g
}

func buildGenerator(logger *zap.Logger) orchestrator.ResponseGenerator {
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		logger.Fatal("OPENAI_API_KEY must be set")
	}
	model := os.Getenv("OPENAI_MODEL")
	return llm.NewOpenAIGenerator(openaiKey, model)
}

func buildMeter(logger *zap.Logger) (orchestrator.Meter, func(context.Context) error) {
	exporter, err := promexporter.New()
	if err != nil {
		logger.Warn("failed to init prometheus exporter, metrics disabled", zap.Error(err))
		return orchestrator.NoOpMeter{}, func(context.Context) error { return nil }
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter, err := orchestrator.NewOtelMeter(provider.Meter("duplexcore"))
	if err != nil {
		logger.Warn("failed to build otel meter, metrics disabled", zap.Error(err))
		return orchestrator.NoOpMeter{}, provider.Shutdown
	}
	return meter, provider.Shutdown
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()
	zl := orchestrator.NewZapLogger(logger)

	srvCfg, orchCfg := loadConfig(logger)
	meter, meterShutdown := buildMeter(logger)

	registry := orchestrator.NewSessionRegistry(orchCfg, orchestrator.RegistryDeps{
		Transcriber: buildTranscriber(logger),
		Generator:   buildGenerator(logger),
		Buffers:     orchestrator.NewTranscriptBufferManager(),
		Logger:      zl,
		Meter:       meter,
	})
	supervisor := orchestrator.NewSupervisor(registry, zl)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebsocket(r.Context(), w, r, registry, logger)
	})

	httpServer := &http.Server{
		Addr:         srvCfg.Addr,
		Handler:      mux,
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		IdleTimeout:  srvCfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		listener, err := net.Listen("tcp", srvCfg.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srvCfg.Addr, err)
		}
		logger.Info("listening", zap.String("addr", srvCfg.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := meterShutdown(shutdownCtx); err != nil {
		logger.Warn("meter shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func handleWebsocket(ctx context.Context, w http.ResponseWriter, r *http.Request, registry *orchestrator.SessionRegistry, logger *zap.Logger) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	channel := ws.NewChannel(conn, logger)

	orch, err := registry.StartFromChannel(ctx, channel)
	if err != nil {
		logger.Warn("failed to start session", zap.Error(err))
		conn.Close(websocket.StatusPolicyViolation, "expected session.start")
		return
	}
	sessionID := orch.ID()

	for event := range orch.Events() {
		if err := channel.WriteEvent(ctx, event); err != nil {
			logger.Warn("failed to write event", zap.Error(err), zap.String("sessionID", sessionID.String()))
			break
		}
	}

	<-orch.Done()
	channel.Close()
}
