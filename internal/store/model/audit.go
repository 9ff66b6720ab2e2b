package model

import (
	"encoding/json"
	"time"

	api "github.com/riselocal/leadqual/api/v1alpha1"
)

// Audit severities.
const (
	AuditSeverityInfo    = "info"
	AuditSeverityWarning = "warning"
	AuditSeverityError   = "error"
)

// AuditEntry is append-only: the store exposes no update or delete path.
type AuditEntry struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"index;not null"`
	Actor        string
	ActorType    string
	Action       string `gorm:"index"`
	ResourceType string
	ResourceID   string `gorm:"index"`
	Metadata     []byte `gorm:"type:jsonb"`
	Severity     string
}

type AuditEntryList []AuditEntry

func (e AuditEntry) ToApiResource() api.AuditEntry {
	entry := api.AuditEntry{
		Timestamp:    e.Timestamp,
		Actor:        e.Actor,
		ActorType:    e.ActorType,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceId:   e.ResourceID,
		Severity:     e.Severity,
	}
	if len(e.Metadata) > 0 {
		entry.Metadata = json.RawMessage(e.Metadata)
	}
	return entry
}

func (el AuditEntryList) ToApiResource() api.AuditEntryList {
	entries := make(api.AuditEntryList, 0, len(el))
	for _, e := range el {
		entries = append(entries, e.ToApiResource())
	}
	return entries
}
