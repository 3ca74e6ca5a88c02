package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const auditLogsCollection = "auditLogs"

// AuditLogRepository appends audit entries. Entries are never updated.
type AuditLogRepository struct {
	logs *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

type auditLogDocument struct {
	Actor     string                    `firestore:"actor"`
	ActorType string                    `firestore:"actorType"`
	Action    string                    `firestore:"action"`
	TargetRef string                    `firestore:"targetRef"`
	Severity  string                    `firestore:"severity"`
	RequestID string                    `firestore:"requestId,omitempty"`
	Metadata  map[string]any            `firestore:"metadata,omitempty"`
	Diff      map[string]auditDiffValue `firestore:"diff,omitempty"`
	CreatedAt time.Time                 `firestore:"createdAt"`
}

type auditDiffValue struct {
	Before any `firestore:"before"`
	After  any `firestore:"after"`
}

// NewAuditLogRepository constructs the audit trail repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{logs: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection)}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = ulid.Make().String()
	}
	doc := auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if len(entry.Diff) > 0 {
		doc.Diff = make(map[string]auditDiffValue, len(entry.Diff))
		for key, change := range entry.Diff {
			// Dotted keys are flattened so each diff stays addressable as one field path.
			doc.Diff[strings.ReplaceAll(key, ".", "_")] = auditDiffValue{Before: change.Before, After: change.After}
		}
	}
	return r.logs.Create(ctx, id, doc)
}
