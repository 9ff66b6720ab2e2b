// Package audit writes the append-only record of decisions and state
// transitions.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	"go.uber.org/zap"
)

// Actor types recorded on audit entries.
const (
	ActorTypeSystem = "system"
	ActorTypeHuman  = "human"
	ActorTypeWorker = "worker"
)

// Writer appends audit entries on a best-effort basis: a failed write is
// logged as an internal warning but never fails the job it describes.
type Writer struct {
	store store.Audit
}

func NewWriter(s store.Audit) *Writer {
	return &Writer{store: s}
}

type Entry struct {
	Actor        string
	ActorType    string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     interface{}
	Severity     string
}

func (w *Writer) Record(ctx context.Context, entry Entry) {
	severity := entry.Severity
	if severity == "" {
		severity = model.AuditSeverityInfo
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			zap.S().Named("audit").Warnw("failed to marshal audit metadata",
				"action", entry.Action, "resource_id", entry.ResourceID, "error", err)
			metadata = nil
		}
	}

	err := w.store.Append(ctx, &model.AuditEntry{
		Timestamp:    time.Now().UTC(),
		Actor:        entry.Actor,
		ActorType:    entry.ActorType,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Metadata:     metadata,
		Severity:     severity,
	})
	if err != nil {
		zap.S().Named("audit").Warnw("failed to append audit entry",
			"action", entry.Action, "resource_id", entry.ResourceID, "error", err)
	}
}
