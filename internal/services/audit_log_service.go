package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
)

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists an audit log entry. Repository failures are logged but do not bubble up to
// callers so the primary mutation is never interrupted.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"action": entry.Action,
			"target": entry.TargetRef,
			"error":  err,
		})
	}
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}
	entry := domain.AuditLogEntry{
		ID:        s.newID(),
		Actor:     truncateRunes(strings.TrimSpace(record.Actor), 160),
		ActorType: normalizeActorType(record.ActorType),
		Action:    truncateRunes(strings.TrimSpace(record.Action), 120),
		TargetRef: truncateRunes(strings.TrimSpace(record.TargetRef), 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: truncateRunes(strings.TrimSpace(record.RequestID), 128),
		CreatedAt: occurred.UTC(),
	}
	if len(record.Metadata) > 0 {
		meta := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			if key = strings.TrimSpace(key); key != "" {
				meta[key] = sanitizeAuditValue(value)
			}
		}
		entry.Metadata = meta
	}
	if len(record.Diff) > 0 {
		diff := make(map[string]AuditLogDiff, len(record.Diff))
		for key, change := range record.Diff {
			if key = strings.TrimSpace(key); key != "" {
				diff[key] = AuditLogDiff{Before: sanitizeAuditValue(change.Before), After: sanitizeAuditValue(change.After)}
			}
		}
		entry.Diff = diff
	}
	return entry
}

func normalizeActorType(actorType string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case ActorTypeUser, ActorTypeStaff, ActorTypeService, ActorTypeSystem:
		return normalized
	default:
		return defaultActorType
	}
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeAuditValue(value any) any {
	switch v := value.(type) {
	case string:
		return truncateRunes(v, 512)
	case fmt.Stringer:
		return truncateRunes(v.String(), 512)
	default:
		return v
	}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
