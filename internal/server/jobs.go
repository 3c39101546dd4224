package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	appconfig "github.com/chiahui-lin/specmatrix/config"
	"github.com/chiahui-lin/specmatrix/internal/artifact"
	"github.com/chiahui-lin/specmatrix/internal/broadcast"
	"github.com/chiahui-lin/specmatrix/internal/jobstore"
	"github.com/chiahui-lin/specmatrix/internal/pipeline"
)

var jobsTracer = otel.Tracer("specmatrix/internal/server/jobs")

var allowedExcelExt = map[string]bool{".xlsx": true, ".xlsm": true}

// JobsHandler owns the upload, status and download endpoints.
type JobsHandler struct {
	cfg         *appconfig.Config
	orch        *pipeline.Orchestrator
	jobs        jobstore.Store
	broadcaster *broadcast.Broadcaster
	artifacts   artifact.Registry
	logger      *log.Logger
}

func NewJobsHandler(cfg *appconfig.Config, orch *pipeline.Orchestrator, jobs jobstore.Store, broadcaster *broadcast.Broadcaster, artifacts artifact.Registry) *JobsHandler {
	return &JobsHandler{
		cfg:         cfg,
		orch:        orch,
		jobs:        jobs,
		broadcaster: broadcaster,
		artifacts:   artifacts,
		logger:      log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
	}
}

func (h *JobsHandler) Register(g *echo.Group) {
	value := g.Group("/value")
	value.POST("/upload_polling", func(c echo.Context) error { return h.upload(c, pipeline.ModePolling) })
	value.POST("/upload_sse", func(c echo.Context) error { return h.upload(c, pipeline.ModeStream) })
	value.GET("/result_polling/:job_id", h.resultPolling)
	value.GET("/subscribe_sse/:job_id", h.subscribeSSE)
	g.GET("/download/:file_id", h.download)
}

// upload accepts one query workbook and at least one document, persists
// them under a fresh job directory and launches the pipeline.
func (h *JobsHandler) upload(c echo.Context, mode pipeline.Mode) error {
	ctx, span := jobsTracer.Start(c.Request().Context(), "JobsHandler.upload")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)))

	form, err := c.MultipartForm()
	if err != nil {
		span.SetStatus(codes.Error, "multipart form required")
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}

	excels := form.File["excel"]
	if len(excels) != 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one excel file is required")
	}
	docs := form.File["pdfs"]
	if len(docs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one document is required")
	}

	if err := h.validateFile(excels[0], allowedExcelExt); err != nil {
		return err
	}
	docExt := make(map[string]bool, len(h.cfg.Upload.AllowedDocExt))
	for _, ext := range h.cfg.Upload.AllowedDocExt {
		docExt[strings.ToLower(ext)] = true
	}
	for _, doc := range docs {
		if err := h.validateFile(doc, docExt); err != nil {
			return err
		}
	}

	jobID := uuid.NewString()
	span.SetAttributes(attribute.String("job_id", jobID), attribute.Int("documents", len(docs)))

	jobDir := filepath.Join(h.cfg.Upload.Dir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	schemaPath, err := saveUpload(excels[0], jobDir, uuid.NewString())
	if err != nil {
		return err
	}
	input := pipeline.Input{JobID: jobID, Mode: mode, SchemaPath: schemaPath}
	for _, doc := range docs {
		docID := uuid.NewString()
		path, err := saveUpload(doc, jobDir, docID)
		if err != nil {
			return err
		}
		input.Documents = append(input.Documents, pipeline.DocumentFile{
			ID:   docID,
			Name: doc.Filename,
			Path: path,
		})
	}

	if mode == pipeline.ModePolling {
		// reserve the slot before returning so an immediate poll never 404s
		if err := h.jobs.Set(ctx, jobID, jobstore.JobStatus{
			Status:  jobstore.StatusProcessing,
			Message: "已接收任務",
		}); err != nil {
			return err
		}
	}

	h.logger.Printf("job %s accepted (%s, %d documents)", jobID, mode, len(input.Documents))
	go h.orch.Run(context.Background(), input)

	return c.JSON(http.StatusOK, map[string]string{"job_id": jobID})
}

func (h *JobsHandler) validateFile(fh *multipart.FileHeader, allowed map[string]bool) error {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowed[ext] {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", fh.Filename))
	}
	if maxMB := h.cfg.Upload.MaxFileSizeMB; maxMB > 0 && fh.Size > maxMB*1024*1024 {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds the %dMB limit", fh.Filename, maxMB))
	}
	return nil
}

// saveUpload writes the part under a caller-supplied unique prefix so
// same-named files within one job never overwrite each other.
func saveUpload(fh *multipart.FileHeader, dir, prefix string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	path := filepath.Join(dir, prefix+"_"+filepath.Base(fh.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save upload %s: %w", fh.Filename, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("save upload %s: %w", fh.Filename, err)
	}
	return path, nil
}

func (h *JobsHandler) resultPolling(c echo.Context) error {
	jobID := c.Param("job_id")
	status, err := h.jobs.Get(c.Request().Context(), jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// subscribeSSE attaches the caller to the job's live event feed. Each
// client_id owns one queue; reconnecting with the same id replaces it.
func (h *JobsHandler) subscribeSSE(c echo.Context) error {
	req := c.Request()
	ctx, span := jobsTracer.Start(req.Context(), "JobsHandler.subscribeSSE")
	defer span.End()

	jobID := c.Param("job_id")
	if strings.TrimSpace(jobID) == "" {
		span.SetStatus(codes.Error, "job_id required")
		return echo.NewHTTPError(http.StatusBadRequest, "job_id required")
	}
	clientID := strings.TrimSpace(c.QueryParam("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("job_id", jobID), attribute.String("client_id", clientID))

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	events := h.broadcaster.Subscribe(jobID, clientID)
	defer h.broadcaster.Unsubscribe(jobID, clientID)

	send := func(name, data string) error {
		if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := send("status", fmt.Sprintf(`{"status":"connected","client_id":%q}`, clientID)); err != nil {
		return nil
	}

	keepAlive := h.cfg.Server.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return nil
			}
			if err := send(ev.Name, ev.Data); err != nil {
				return nil
			}
		}
	}
}

func (h *JobsHandler) download(c echo.Context) error {
	fileID := c.Param("file_id")
	data, name, err := h.artifacts.Open(c.Request().Context(), fileID)
	if errors.Is(err, artifact.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown file")
	}
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
