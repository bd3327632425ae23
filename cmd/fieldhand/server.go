package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/fieldhand/internal/api"
	"github.com/kalambet/fieldhand/internal/assistant"
	"github.com/kalambet/fieldhand/internal/cache"
	"github.com/kalambet/fieldhand/internal/config"
	"github.com/kalambet/fieldhand/internal/dispatch"
	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/llm"
	"github.com/kalambet/fieldhand/internal/metrics"
	"github.com/kalambet/fieldhand/internal/respond"
	"github.com/kalambet/fieldhand/internal/schema"
	"github.com/kalambet/fieldhand/internal/sqlgen"
	"github.com/kalambet/fieldhand/internal/storage"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fieldhand server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", true, "serve MCP over stdio alongside HTTP")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fieldhand server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fieldhand system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fieldhand.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg config.StorageConfig) (*storage.Store, error) {
	if cfg.Driver == config.DriverPostgres {
		return storage.OpenPostgres(ctx, cfg.PostgresDSN)
	}
	return storage.Open(cfg.DataDir)
}

// openCache connects to Redis when configured. A Redis outage only costs
// cache hits, so failures degrade to no caching.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, func()) {
	if cfg.RedisAddr == "" {
		return cache.Nop{}, func() {}
	}
	r, err := cache.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Warn("redis unavailable, intent cache disabled", "addr", cfg.RedisAddr, "error", err)
		return cache.Nop{}, func() {}
	}
	slog.Info("intent cache enabled", "addr", cfg.RedisAddr)
	return r, func() { r.Close() }
}

func duration(key, raw string, def time.Duration) time.Duration {
	d, ok := config.Duration(raw, def)
	if !ok {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", def)
	}
	return d
}

// services is the wired assistant stack.
type services struct {
	assistant *assistant.Service
	sql       *sqlgen.Service
	schema    *schema.Provider
	metrics   *metrics.Metrics
}

func buildServices(ctx context.Context, cfg config.Config, store *storage.Store, c cache.Cache) (*services, error) {
	chat, err := llm.New(ctx, llm.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey(),
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.LLM.Provider, err)
	}

	provider, err := schema.NewProvider(store, duration("schema.scope_ttl", cfg.Schema.ScopeTTL, time.Minute))
	if err != nil {
		return nil, fmt.Errorf("loading schema catalog: %w", err)
	}

	m := metrics.New()

	analyzer := intent.NewAnalyzer(chat, cfg.LLM.Model, intent.Options{
		MaxAttempts: cfg.Intent.MaxAttempts,
		Timeout:     duration("assistant.intent_timeout", cfg.Assistant.IntentTimeout, 15*time.Second),
		Cache:       c,
		CacheTTL:    duration("cache.ttl", cfg.Cache.TTL, 10*time.Minute),
	})

	dispatcher := dispatch.New(store, dispatch.Config{
		HarvestOffsetMonths: cfg.Assistant.HarvestOffsetMonths,
		ForecastMonths:      cfg.Assistant.ForecastMonths,
		QueryTimeout:        duration("assistant.query_timeout", cfg.Assistant.QueryTimeout, 5*time.Second),
	})

	formatter, err := respond.NewFormatter()
	if err != nil {
		return nil, fmt.Errorf("parsing response templates: %w", err)
	}
	enhancer := respond.NewEnhancer(chat, cfg.LLM.EnhancementModel(),
		duration("assistant.enhance_timeout", cfg.Assistant.EnhanceTimeout, 15*time.Second))

	svc := assistant.New(provider, analyzer, dispatcher, formatter, assistant.Options{
		EnhanceEnabled: cfg.Assistant.EnhanceEnabled,
		Enhancer:       enhancer,
		Store:          store,
		Metrics:        m,
	})

	catalog := provider.Catalog()
	sqlSvc := sqlgen.NewService(
		sqlgen.NewGenerator(chat, cfg.LLM.Model, provider, 0),
		sqlgen.NewGuard(catalog.AllowedTables(), catalog.RestrictedTables()),
		store,
		sqlgen.ServiceConfig{ExecuteEnabled: cfg.SQLGen.ExecuteEnabled, MaxRows: cfg.SQLGen.MaxRows},
	)
	sqlSvc.OnVerdict(m.ObserveVerdict)

	return &services{assistant: svc, sql: sqlSvc, schema: provider, metrics: m}, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fieldhand version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice: check the health endpoint before writing the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fieldhand is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fieldhand is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("storage ready", "driver", store.Dialect())

	intentCache, closeCache := openCache(ctx, cfg.Cache)
	defer closeCache()

	svcs, err := buildServices(ctx, cfg, store, intentCache)
	if err != nil {
		return err
	}
	slog.Info("assistant ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"enhance", cfg.Assistant.EnhanceEnabled,
		"sql_execute", cfg.SQLGen.ExecuteEnabled,
	)

	handler := api.NewHandler(api.Deps{
		Assistant: svcs.assistant,
		SQL:       svcs.sql,
		Schema:    svcs.schema,
		Metrics:   svcs.metrics,
		Token:     apiToken,
		Ping:      store.Ping,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Assistant: svcs.assistant,
			SQL:       svcs.sql,
			Schema:    svcs.schema,
			UserID:    int64(cfg.Assistant.DefaultUserID),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "user_id", cfg.Assistant.DefaultUserID)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fieldhand listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fieldhand is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fieldhand (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fieldhand (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		case http.StatusServiceUnavailable:
			printStatus("Server", "degraded (storage unreachable)")
		default:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.LLM.Provider)
	printStatus("Model", "%s", cfg.LLM.Model)
	if cfg.Assistant.EnhanceEnabled {
		printStatus("Enhancement", "on (%s)", cfg.LLM.EnhancementModel())
	} else {
		printStatus("Enhancement", "off")
	}
	printStatus("SQL execution", "%t", cfg.SQLGen.ExecuteEnabled)
	printStatus("Storage", "%s", cfg.Storage.Driver)
	if cfg.Cache.RedisAddr != "" {
		printStatus("Intent cache", "redis at %s", cfg.Cache.RedisAddr)
	} else {
		printStatus("Intent cache", "off")
	}

	if running && cfg.Assistant.DefaultUserID > 0 {
		if c, err := newAPIClient(); err == nil {
			if msgs, err := fetchHistory(context.Background(), c, int64(cfg.Assistant.DefaultUserID), 100); err == nil {
				printStatus("Messages", "%s", countLabel(len(msgs), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
