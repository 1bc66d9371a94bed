package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinedtrack/attendance-api/internal/models"
	"github.com/clinedtrack/attendance-api/pkg/breaker"
	"github.com/clinedtrack/attendance-api/pkg/config"
	"github.com/clinedtrack/attendance-api/pkg/jobs"
)

// breakerReconciliationWrite guards the best-effort sync-metadata writes so a
// struggling database cannot back up the queue with endless retries.
const breakerReconciliationWrite = "reconciliation.write"

// eventTypeClockInSync tags audit entries produced by synchronized clock-ins.
const eventTypeClockInSync = "clock_in_sync"

type syncAuditRepository interface {
	InsertMetadata(ctx context.Context, metadata *models.SyncMetadata) error
	InsertEvent(ctx context.Context, event *models.SyncEvent) error
}

// clockInSyncPayload is the task payload for one reconciliation write.
type clockInSyncPayload struct {
	RecordID           string
	SessionID          string
	ClientID           string
	CorrectedTimestamp time.Time
	ServerTime         time.Time
	DriftMs            int64
	Accuracy           models.SyncAccuracy
}

// ReconciliationService persists sync metadata and audit events after a
// synchronized clock-in has already committed. All writes are fire-and-forget:
// failures are retried a bounded number of times, then logged and dropped.
// The attendance record is never touched.
type ReconciliationService struct {
	repo     syncAuditRepository
	breakers *breaker.Registry
	metrics  *MetricsService
	logger   *zap.Logger
	runner   *jobs.Runner
	now      func() time.Time
}

// NewReconciliationService constructs the service and its worker pool. Call
// Start before enqueueing and Stop on shutdown.
func NewReconciliationService(repo syncAuditRepository, breakers *breaker.Registry, metrics *MetricsService, logger *zap.Logger, cfg config.ReconciliationConfig) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReconciliationService{
		repo:     repo,
		breakers: breakers,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	s.runner = jobs.NewRunner("reconciliation", s.handle, jobs.Options{
		Workers:     cfg.Workers,
		BufferSize:  cfg.BufferSize,
		MaxAttempts: cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Logger:      logger,
	})
	return s
}

// Start launches the background workers.
func (s *ReconciliationService) Start(ctx context.Context) {
	s.runner.Start(ctx)
}

// Stop drains the workers.
func (s *ReconciliationService) Stop() {
	s.runner.Stop()
}

// QueueDepth reports how many reconciliation tasks are waiting.
func (s *ReconciliationService) QueueDepth() int {
	return s.runner.Depth()
}

// EnqueueClockInSync schedules the metadata and audit writes for a committed
// synchronized clock-in. Errors are logged and swallowed; the caller's
// response is already decided.
func (s *ReconciliationService) EnqueueClockInSync(record *models.AttendanceRecord, session *models.SyncSession, comp SyncComputation) {
	payload := clockInSyncPayload{
		RecordID:           record.ID,
		SessionID:          session.ID,
		ClientID:           session.ClientID,
		CorrectedTimestamp: comp.CorrectedTimestamp,
		ServerTime:         comp.ServerTime,
		DriftMs:            comp.DriftMs,
		Accuracy:           comp.Accuracy,
	}
	err := s.runner.Submit(jobs.Task{
		ID:      uuid.NewString(),
		Kind:    eventTypeClockInSync,
		Payload: payload,
	})
	if err != nil {
		s.metrics.ObserveReconciliation("rejected")
		s.logger.Error("failed to enqueue reconciliation task",
			zap.String("record_id", record.ID),
			zap.Error(err))
	}
}

func (s *ReconciliationService) handle(ctx context.Context, task jobs.Task) error {
	payload, ok := task.Payload.(clockInSyncPayload)
	if !ok {
		// Malformed tasks cannot succeed on retry.
		s.metrics.ObserveReconciliation("dropped")
		s.logger.Error("reconciliation task has unexpected payload",
			zap.String("task_id", task.ID), zap.String("kind", task.Kind))
		return nil
	}

	err := s.breakers.Execute(breakerReconciliationWrite, func() error {
		return s.write(ctx, payload)
	})
	if err != nil {
		s.metrics.ObserveReconciliation("failed")
		return err
	}
	s.metrics.ObserveReconciliation("success")
	return nil
}

func (s *ReconciliationService) write(ctx context.Context, payload clockInSyncPayload) error {
	verification := "verified"
	if payload.Accuracy == models.SyncAccuracyLow {
		verification = "unverified"
	}

	// Metadata stores the drift magnitude; the signed value is preserved on
	// the SyncEvent row.
	metadata := &models.SyncMetadata{
		RecordID:           payload.RecordID,
		SessionID:          payload.SessionID,
		SyncedClockIn:      payload.CorrectedTimestamp,
		DriftMs:            absInt64(payload.DriftMs),
		Accuracy:           payload.Accuracy,
		VerificationStatus: verification,
	}
	if err := s.repo.InsertMetadata(ctx, metadata); err != nil {
		return fmt.Errorf("reconcile record %s: %w", payload.RecordID, err)
	}

	detail, err := json.Marshal(map[string]interface{}{
		"record_id":           payload.RecordID,
		"session_id":          payload.SessionID,
		"accuracy":            payload.Accuracy,
		"verification_status": verification,
	})
	if err != nil {
		return fmt.Errorf("encode event metadata for record %s: %w", payload.RecordID, err)
	}

	event := &models.SyncEvent{
		EventType:  eventTypeClockInSync,
		ClientID:   payload.ClientID,
		ServerTime: payload.ServerTime,
		ClientTime: payload.ServerTime.Add(time.Duration(payload.DriftMs) * time.Millisecond),
		DriftMs:    payload.DriftMs,
		Metadata:   detail,
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("audit record %s: %w", payload.RecordID, err)
	}
	return nil
}
