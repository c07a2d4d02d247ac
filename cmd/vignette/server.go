package main

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/storynest/vignette/internal/api"
	"github.com/storynest/vignette/internal/assets"
	"github.com/storynest/vignette/internal/config"
	"github.com/storynest/vignette/internal/imagegen"
	"github.com/storynest/vignette/internal/llm"
	"github.com/storynest/vignette/internal/prompt"
	"github.com/storynest/vignette/internal/storage"
	"github.com/storynest/vignette/internal/story"
	"github.com/storynest/vignette/internal/vignette"
	"github.com/storynest/vignette/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vignette server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpMode, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpMode)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vignette server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vignette.pid")
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

func healthURL(cfg config.Config) string {
	return fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(mcpMode bool) error {
	fmt.Fprintf(stderr, "vignette version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL(cfg)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	gen, err := buildImageGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	assetStore, assetsDir, err := buildAssetStore(cfg)
	if err != nil {
		return err
	}

	policy, err := prompt.ParsePolicy(cfg.Prompt.ScenePolicy)
	if err != nil {
		return err
	}

	splicer := vignette.NewSplicer(store, prompt.New(cfg.Prompt.Style, policy), gen, assetStore, vignette.Options{
		ImageSize:         cfg.ImageGen.Size,
		GenerateTimeout:   config.Duration(cfg.ImageGen.Timeout),
		MaxAttempts:       cfg.ImageGen.MaxAttempts,
		InitialBackoff:    config.Duration(cfg.ImageGen.InitialBackoff),
		UploadConcurrency: cfg.Splice.UploadConcurrency,
		Logger:            slog.Default(),
	})

	// Story writing is optional; without an OpenRouter key only stored
	// stories can be spliced.
	var generator api.StoryGenerator
	if cfg.Story.OpenRouterAPIKey != "" {
		writer := story.NewWriter(llm.NewClient(cfg.Story.OpenRouterAPIKey), cfg.Story.Model)
		generator = vignette.NewGenerator(writer, store, splicer)
	} else {
		slog.Info("story.openrouter_api_key not set, /vignette/generate disabled")
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Splicer:   splicer,
		Generator: generator,
		Importer:  story.NewImporter(&http.Client{Timeout: 30 * time.Second}),
		Auth: api.NewVerifier(cfg.Auth.Token, cfg.Auth.VerifyURL, config.Duration(cfg.Auth.CacheTTL),
			&http.Client{Timeout: 5 * time.Second}),
		AssetsDir: assetsDir,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w := worker.NewWorker(store, splicer, 500*time.Millisecond)
	go w.Run(ctx)

	if mcpMode {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Splicer:   splicer,
			Generator: generator,
		}))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("vignette listening", "addr", addr, "provider", cfg.ImageGen.Provider, "assets", cfg.Assets.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// In-flight splices keep running detached; give requests a window to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildImageGenerator(ctx context.Context, cfg config.Config) (imagegen.Generator, error) {
	var gen imagegen.Generator
	switch cfg.ImageGen.Provider {
	case "gemini":
		c, err := imagegen.NewGeminiClient(ctx, cfg.ImageGen.APIKey, cfg.ImageGen.Model)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		gen = c
	case "http":
		gen = imagegen.NewHTTPClient(cfg.ImageGen.BaseURL, cfg.ImageGen.APIKey, config.Duration(cfg.ImageGen.PollInterval))
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.ImageGen.Provider)
	}

	if interval := config.Duration(cfg.ImageGen.RateInterval); interval > 0 {
		gen = imagegen.NewLimited(gen, interval, 1)
	}
	return gen, nil
}

// buildAssetStore returns the configured store and, for the local backend,
// the directory the server publishes under /assets.
func buildAssetStore(cfg config.Config) (assets.Store, string, error) {
	switch cfg.Assets.Backend {
	case "http":
		return assets.NewHTTPStore(cfg.Assets.Endpoint, cfg.Assets.Bucket, cfg.Assets.APIKey), "", nil
	default:
		local, err := assets.NewLocalStore(filepath.Join(cfg.Storage.DataDir, "assets"), cfg.Assets.PublicBaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("creating asset directory: %w", err)
		}
		return local, local.Root(), nil
	}
}

func stopServer() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("vignette is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop vignette (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to vignette (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	running := false
	resp, err := (&http.Client{Timeout: 2 * time.Second}).Get(healthURL(cfg))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s:%d", cfg.Server.Host, cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Image provider", "%s (%s)", cfg.ImageGen.Provider, cfg.ImageGen.Model)
	printStatus("Asset backend", "%s", cfg.Assets.Backend)
	if cfg.Story.OpenRouterAPIKey == "" {
		printStatus("Story writer", "disabled")
	} else {
		printStatus("Story writer", "%s", cfg.Story.Model)
	}

	if running {
		if client, err := newAPIClient(); err == nil {
			if resp, err := client.get(ctx, "/stories?limit=100"); err == nil {
				var stories []story.Story
				if decodeJSON(resp, &stories) == nil {
					printStatus("Stories", "%s", countLabel(len(stories), 100))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return strconv.Itoa(count)
}
