package pipeline

import (
	"context"
	"log"

	"github.com/chiahui-lin/specmatrix/internal/broadcast"
	"github.com/chiahui-lin/specmatrix/internal/jobstore"
	"github.com/chiahui-lin/specmatrix/internal/sheet"
)

// Broadcast event names seen by streaming subscribers.
const (
	EventStatus   = "status"
	EventMetadata = "metadata"
	EventResult   = "result"
	EventError    = "error"
)

// statusEvent is the payload of status events on the stream.
type statusEvent struct {
	Status  string `json:"status"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// resultEvent is the payload of the terminal result event.
type resultEvent struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	DownloadURL string `json:"download_url"`
}

// errorEvent is the payload of the terminal error event.
type errorEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// notifier routes status updates to the job's delivery mode: the polling
// slot is overwritten in place, the stream gets one ephemeral event per
// update. It remembers the schema so polling snapshots keep exposing it
// after later overwrites.
type notifier struct {
	mode        Mode
	jobID       string
	store       jobstore.Store
	broadcaster *broadcast.Broadcaster
	logger      *log.Logger

	schema *sheet.QuerySchema
}

func (n *notifier) processing(stage, message string) {
	n.logger.Printf("[%s] %s: %s", n.jobID, stage, message)
	switch n.mode {
	case ModePolling:
		n.setSlot(jobstore.JobStatus{
			Status:  jobstore.StatusProcessing,
			Message: message,
		})
	case ModeStream:
		n.broadcaster.Publish(n.jobID, EventStatus, statusEvent{
			Status:  jobstore.StatusProcessing,
			Stage:   stage,
			Message: message,
		})
	}
}

func (n *notifier) metadata(schema sheet.QuerySchema) {
	n.schema = &schema
	switch n.mode {
	case ModePolling:
		n.setSlot(jobstore.JobStatus{
			Status:  jobstore.StatusProcessing,
			Message: "讀取 Excel 設定完成",
		})
	case ModeStream:
		n.broadcaster.Publish(n.jobID, EventMetadata, schema)
	}
}

func (n *notifier) done(downloadURL string) {
	n.logger.Printf("[%s] done: %s", n.jobID, downloadURL)
	switch n.mode {
	case ModePolling:
		n.setSlot(jobstore.JobStatus{
			Status:      jobstore.StatusDone,
			Message:     "處理完成",
			DownloadURL: downloadURL,
		})
	case ModeStream:
		n.broadcaster.Publish(n.jobID, EventResult, resultEvent{
			Status:      jobstore.StatusDone,
			Message:     "處理完成",
			DownloadURL: downloadURL,
		})
	}
}

func (n *notifier) fail(message, details string) {
	switch n.mode {
	case ModePolling:
		n.setSlot(jobstore.JobStatus{
			Status:  jobstore.StatusError,
			Message: message,
			Details: details,
		})
	case ModeStream:
		n.broadcaster.Publish(n.jobID, EventError, errorEvent{
			Status:  jobstore.StatusError,
			Message: message,
		})
	}
}

func (n *notifier) setSlot(status jobstore.JobStatus) {
	if n.schema != nil {
		status.QueryFields = n.schema.Fields
		status.QueryTargets = n.schema.Targets
	}
	if err := n.store.Set(context.Background(), n.jobID, status); err != nil {
		n.logger.Printf("[%s] status slot write failed: %v", n.jobID, err)
	}
}
