package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/chiahui-lin/specmatrix/config"
	"github.com/chiahui-lin/specmatrix/internal/artifact"
	"github.com/chiahui-lin/specmatrix/internal/broadcast"
	"github.com/chiahui-lin/specmatrix/internal/catalog"
	"github.com/chiahui-lin/specmatrix/internal/extraction"
	"github.com/chiahui-lin/specmatrix/internal/jobstore"
	"github.com/chiahui-lin/specmatrix/internal/ocr"
	"github.com/chiahui-lin/specmatrix/internal/pipeline"
)

// Deps bundles everything the HTTP layer serves. Catalog repos are
// optional; their routes answer 503 when Postgres is not configured.
type Deps struct {
	Cfg          *appconfig.Config
	Orchestrator *pipeline.Orchestrator
	Jobs         jobstore.Store
	Broadcaster  *broadcast.Broadcaster
	Artifacts    artifact.Registry
	Parts        catalog.PartsRepo
	Aliases      catalog.AliasRepo
}

// Run loads configuration, wires all dependencies and serves until the
// context is cancelled.
func Run(ctx context.Context, cfgPath, addr string) error {
	cfg := appconfig.LoadConfig(cfgPath)

	provider, err := ocr.NewAzureClient(cfg.OCR.Endpoint, cfg.OCR.APIKey,
		ocr.WithLocale(cfg.OCR.Locale),
		ocr.WithPollInterval(cfg.OCR.PollInterval),
	)
	if err != nil {
		return err
	}

	completer := buildCompleter(cfg)
	coordinator := extraction.NewCoordinator(completer, log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags))

	jobs, err := buildJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	artifacts, err := buildArtifacts(ctx, cfg)
	if err != nil {
		return err
	}
	broadcaster := broadcast.New()

	systemPrompt := extraction.DefaultSystemPrompt
	if cfg.Pipeline.SystemPromptPath != "" {
		raw, err := os.ReadFile(cfg.Pipeline.SystemPromptPath)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		systemPrompt = string(raw)
	}

	orch := pipeline.New(provider, coordinator, jobs, broadcaster, artifacts, pipeline.Options{
		SystemPrompt:     systemPrompt,
		Language:         cfg.Pipeline.Language,
		MaxConcurrentOCR: cfg.Pipeline.MaxConcurrentOCR,
	})

	deps := Deps{
		Cfg:          cfg,
		Orchestrator: orch,
		Jobs:         jobs,
		Broadcaster:  broadcaster,
		Artifacts:    artifacts,
	}

	if dsn := cfg.Storage.Postgres.DSN(); dsn != "" {
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			log.Printf("catalog migrations: %v", err)
		}
		store, err := catalog.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Parts = store
		deps.Aliases = store
	}

	e := NewEcho(deps)

	if addr == "" {
		addr = cfg.Server.Address
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

// NewEcho assembles the router with all middleware and routes. Split out
// so tests can drive handlers without a listening socket.
func NewEcho(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	jh := NewJobsHandler(deps.Cfg, deps.Orchestrator, deps.Jobs, deps.Broadcaster, deps.Artifacts)
	jh.Register(api)

	ch := NewCatalogHandler(deps.Parts, deps.Aliases)
	ch.Register(api)

	return e
}

func buildCompleter(cfg *appconfig.Config) extraction.Completer {
	opts := []extraction.OpenAIOption{extraction.WithTimeout(cfg.LLM.Timeout)}
	if cfg.LLM.AzureAuth {
		opts = append(opts, extraction.WithAzureAuth())
	}
	return extraction.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, opts...)
}

func buildJobStore(ctx context.Context, cfg *appconfig.Config) (jobstore.Store, error) {
	switch cfg.Storage.JobStore.Backend {
	case "", "memory":
		return jobstore.NewMemory(), nil
	case "redis":
		r := cfg.Storage.JobStore.Redis
		return jobstore.NewRedis(ctx, r.Addr, r.Password, r.DB, cfg.Storage.JobStore.TTL)
	default:
		return nil, fmt.Errorf("unknown jobstore backend: %s", cfg.Storage.JobStore.Backend)
	}
}

func buildArtifacts(ctx context.Context, cfg *appconfig.Config) (artifact.Registry, error) {
	switch cfg.Storage.Artifact.Backend {
	case "", "disk":
		return artifact.NewDisk(cfg.Storage.Artifact.Dir)
	case "s3":
		s3 := cfg.Storage.Artifact.S3
		return artifact.NewS3(ctx, artifact.S3Config{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			UseSSL:    s3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.Storage.Artifact.Backend)
	}
}
