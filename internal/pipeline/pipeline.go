// Package pipeline sequences a full extraction job: schema read, bounded
// OCR fan-out, document structuring, model extraction, and workbook
// write-back, publishing status at every stage.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chiahui-lin/specmatrix/internal/artifact"
	"github.com/chiahui-lin/specmatrix/internal/broadcast"
	"github.com/chiahui-lin/specmatrix/internal/extraction"
	"github.com/chiahui-lin/specmatrix/internal/jobstore"
	"github.com/chiahui-lin/specmatrix/internal/ocr"
	"github.com/chiahui-lin/specmatrix/internal/sheet"
	"github.com/chiahui-lin/specmatrix/internal/structurer"
)

var pipelineTracer trace.Tracer = otel.Tracer("specmatrix/internal/pipeline")

// Pipeline stages, published in order as the job progresses.
const (
	StageAccepted           = "accepted"
	StageReadingSchema      = "reading_schema"
	StageAnalyzingDocuments = "analyzing_documents"
	StageStructuring        = "structuring"
	StageExtracting         = "extracting"
	StageWritingOutput      = "writing_output"
	StageDone               = "done"
	StageError              = "error"
)

// Mode selects how a job reports progress.
type Mode string

const (
	// ModePolling writes every update into the job's status slot.
	ModePolling Mode = "polling"
	// ModeStream publishes every update as an ephemeral broadcast event.
	ModeStream Mode = "sse"
)

// DocumentFile is one uploaded document awaiting analysis.
type DocumentFile struct {
	ID   string
	Name string
	Path string
}

// Input describes one submitted job.
type Input struct {
	JobID      string
	Mode       Mode
	SchemaPath string
	Documents  []DocumentFile
}

// Orchestrator runs jobs end to end. It is the sole writer of job status;
// one orchestrator serves all jobs, each job running as a single
// goroutine with concurrency only inside the OCR stage.
type Orchestrator struct {
	provider    ocr.Provider
	coordinator *extraction.Coordinator
	store       jobstore.Store
	broadcaster *broadcast.Broadcaster
	artifacts   artifact.Registry
	logger      *log.Logger

	systemPrompt string
	language     string
	// maxConcurrentOCR bounds the analysis fan-out; 0 means unlimited.
	maxConcurrentOCR int
}

// Options tunes an Orchestrator.
type Options struct {
	SystemPrompt     string
	Language         string
	MaxConcurrentOCR int
	Logger           *log.Logger
}

// New wires an Orchestrator from its collaborators.
func New(provider ocr.Provider, coordinator *extraction.Coordinator, store jobstore.Store, broadcaster *broadcast.Broadcaster, artifacts artifact.Registry, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Orchestrator{
		provider:         provider,
		coordinator:      coordinator,
		store:            store,
		broadcaster:      broadcaster,
		artifacts:        artifacts,
		logger:           logger,
		systemPrompt:     opts.SystemPrompt,
		language:         opts.Language,
		maxConcurrentOCR: opts.MaxConcurrentOCR,
	}
}

// Run executes one job to its terminal state. All fatal errors are caught
// here and converted into a terminal error status; Run never panics out.
func (o *Orchestrator) Run(ctx context.Context, in Input) {
	started := time.Now()
	ctx, span := pipelineTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("job.id", in.JobID),
			attribute.String("job.mode", string(in.Mode)),
			attribute.Int("job.documents", len(in.Documents)),
		))
	defer span.End()

	n := &notifier{
		mode:        in.Mode,
		jobID:       in.JobID,
		store:       o.store,
		broadcaster: o.broadcaster,
		logger:      o.logger,
	}

	jobsSubmitted.Inc()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("[%s] panic: %v\n%s", in.JobID, r, debug.Stack())
			span.SetStatus(codes.Error, fmt.Sprint(r))
			jobsFailed.Inc()
			n.fail(fmt.Sprintf("處理失敗：internal error: %v", r), string(debug.Stack()))
		}
	}()

	if err := o.run(ctx, in, n); err != nil {
		o.logger.Printf("[%s] job failed: %v", in.JobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobsFailed.Inc()
		n.fail(fmt.Sprintf("處理失敗：%v", err), fmt.Sprintf("%+v", err))
		return
	}
	jobsCompleted.Inc()
	jobDuration.Observe(time.Since(started).Seconds())
	o.logger.Printf("[%s] job done in %s", in.JobID, time.Since(started).Round(time.Millisecond))
}

func (o *Orchestrator) run(ctx context.Context, in Input, n *notifier) error {
	n.processing(StageAccepted, "已接受工作，開始處理…")

	// Validation happens before any external call; a violation fails the
	// job with no partial work.
	if in.SchemaPath == "" {
		return fmt.Errorf("exactly one schema spreadsheet is required")
	}
	if len(in.Documents) == 0 {
		return fmt.Errorf("at least one document is required")
	}

	n.processing(StageReadingSchema, "讀取 Excel 設定...")
	wb, err := o.readSchema(in.SchemaPath)
	if err != nil {
		return err
	}
	o.logger.Printf("[%s] schema: %d fields, %d targets", in.JobID, len(wb.Schema.Fields), len(wb.Schema.Targets))
	n.metadata(wb.Schema)

	docs := o.analyzeDocuments(ctx, in, n)
	if len(docs) == 0 {
		return fmt.Errorf("no documents could be analyzed")
	}

	n.processing(StageExtracting, "呼叫模型進行數據抽取...")
	payload := extraction.BuildPayload(docs, wb.Schema.Targets, wb.Schema.Fields, o.language)
	result, err := o.coordinator.Extract(ctx, o.systemPrompt, payload)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("extraction failed: %s", result.Error)
	}

	n.processing(StageWritingOutput, "正在產生最終報告...")
	data, misses, err := sheet.WriteSummary(wb, result)
	if err != nil {
		return err
	}
	if misses > 0 {
		// Surface dropped mappings once rather than silently losing them.
		n.processing(StageWritingOutput, fmt.Sprintf("警告: %d 筆結果不在查詢矩陣內，已略過。", misses))
	}

	name := fmt.Sprintf("summary_%s.xlsx", time.Now().Format("20060102150405"))
	handle, err := o.artifacts.Put(ctx, name, data)
	if err != nil {
		return fmt.Errorf("register artifact: %w", err)
	}

	n.done("/api/download/" + handle)
	return nil
}

func (o *Orchestrator) readSchema(path string) (*sheet.Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema spreadsheet: %w", err)
	}
	defer f.Close()
	return sheet.Read(f)
}

// analyzeDocuments runs OCR over all documents concurrently, bounded by
// the configured limit, then structures each raw result. A failing
// document publishes a warning and is skipped; it never cancels its
// siblings. Results are keyed by document index, so completion order
// does not matter.
func (o *Orchestrator) analyzeDocuments(ctx context.Context, in Input, n *notifier) []*structurer.StructuredDocument {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.analyze_documents")
	defer span.End()

	n.processing(StageAnalyzingDocuments, fmt.Sprintf("正在分析 %d 個 PDF 文件...", len(in.Documents)))

	raws := make([]*ocr.Result, len(in.Documents))
	g, gctx := errgroup.WithContext(ctx)
	if o.maxConcurrentOCR > 0 {
		g.SetLimit(o.maxConcurrentOCR)
	}
	for i, doc := range in.Documents {
		g.Go(func() error {
			n.processing(StageAnalyzingDocuments, fmt.Sprintf("正在處理 PDF 文件 (%d/%d): %s...", i+1, len(in.Documents), doc.Name))
			raw, err := o.analyzeOne(gctx, doc)
			if err != nil {
				o.logger.Printf("[%s] analysis of %s failed: %v", in.JobID, doc.Name, err)
				docsFailed.Inc()
				n.processing(StageAnalyzingDocuments, fmt.Sprintf("警告: 處理 PDF 文件 %s 失敗: %v", doc.Name, err))
				return nil
			}
			docsAnalyzed.Inc()
			raws[i] = raw
			return nil
		})
	}
	// workers never return errors; per-document failures are isolated
	_ = g.Wait()

	n.processing(StageStructuring, "轉換文件結構中...")
	var docs []*structurer.StructuredDocument
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		doc := in.Documents[i]
		docs = append(docs, structurer.Structure(doc.ID, doc.Name, raw))
	}
	span.SetAttributes(attribute.Int("documents.structured", len(docs)))
	return docs
}

func (o *Orchestrator) analyzeOne(ctx context.Context, doc DocumentFile) (*ocr.Result, error) {
	content, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return o.provider.Analyze(ctx, ocr.Document{ID: doc.ID, Name: doc.Name, Content: content})
}
