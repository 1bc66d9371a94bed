package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinedtrack/attendance-api/internal/models"
	"github.com/clinedtrack/attendance-api/pkg/breaker"
	"github.com/clinedtrack/attendance-api/pkg/config"
	"github.com/clinedtrack/attendance-api/pkg/jobs"
)

type mockSyncAuditRepo struct {
	mu          sync.Mutex
	metadata    []*models.SyncMetadata
	events      []*models.SyncEvent
	metadataErr error
	done        chan struct{}
}

func (m *mockSyncAuditRepo) InsertMetadata(_ context.Context, metadata *models.SyncMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metadataErr != nil {
		return m.metadataErr
	}
	m.metadata = append(m.metadata, metadata)
	return nil
}

func (m *mockSyncAuditRepo) InsertEvent(_ context.Context, event *models.SyncEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return nil
}

func newReconFixture(repo *mockSyncAuditRepo) *ReconciliationService {
	logger := zap.NewNop()
	registry := breaker.NewRegistry(breaker.Config{}, logger)
	return NewReconciliationService(repo, registry, nil, logger, config.ReconciliationConfig{
		Workers:    1,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
}

func TestReconciliationWritesMetadataAndEvent(t *testing.T) {
	repo := &mockSyncAuditRepo{done: make(chan struct{}, 1)}
	svc := newReconFixture(repo)
	svc.Start(context.Background())
	defer svc.Stop()

	record := &models.AttendanceRecord{ID: "rec-1", StudentID: "stu-1"}
	session := &models.SyncSession{ID: "sess-1", ClientID: "client-1", Status: models.SessionStatusActive}
	serverTime := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	svc.EnqueueClockInSync(record, session, SyncComputation{
		CorrectedTimestamp: serverTime,
		ServerTime:         serverTime,
		DriftMs:            40,
		Accuracy:           models.SyncAccuracyHigh,
	})

	select {
	case <-repo.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciliation write did not complete")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.metadata, 1)
	require.Equal(t, "rec-1", repo.metadata[0].RecordID)
	require.Equal(t, "verified", repo.metadata[0].VerificationStatus)
	require.Len(t, repo.events, 1)
	require.Equal(t, "clock_in_sync", repo.events[0].EventType)
	require.Equal(t, "client-1", repo.events[0].ClientID)
	require.Equal(t, serverTime.Add(40*time.Millisecond), repo.events[0].ClientTime)
}

func TestReconciliationMarksLowAccuracyUnverified(t *testing.T) {
	repo := &mockSyncAuditRepo{}
	svc := newReconFixture(repo)

	err := svc.handle(context.Background(), jobs.Task{
		ID:   "task-1",
		Kind: eventTypeClockInSync,
		Payload: clockInSyncPayload{
			RecordID:           "rec-2",
			SessionID:          "sess-1",
			ClientID:           "client-1",
			CorrectedTimestamp: time.Now().UTC(),
			ServerTime:         time.Now().UTC(),
			DriftMs:            -900,
			Accuracy:           models.SyncAccuracyLow,
		},
	})
	require.NoError(t, err)
	require.Len(t, repo.metadata, 1)
	require.Equal(t, "unverified", repo.metadata[0].VerificationStatus)

	// Metadata carries the magnitude; the event keeps the sign.
	require.Equal(t, int64(900), repo.metadata[0].DriftMs)
	require.Len(t, repo.events, 1)
	require.Equal(t, int64(-900), repo.events[0].DriftMs)
}

func TestReconciliationFailuresStayInBackground(t *testing.T) {
	repo := &mockSyncAuditRepo{metadataErr: errors.New("db down")}
	svc := newReconFixture(repo)

	err := svc.handle(context.Background(), jobs.Task{
		ID:      "task-2",
		Kind:    eventTypeClockInSync,
		Payload: clockInSyncPayload{RecordID: "rec-3"},
	})
	require.Error(t, err)
	require.Empty(t, repo.events)
}

func TestReconciliationDropsMalformedPayload(t *testing.T) {
	repo := &mockSyncAuditRepo{}
	svc := newReconFixture(repo)

	err := svc.handle(context.Background(), jobs.Task{ID: "task-3", Kind: eventTypeClockInSync, Payload: "junk"})
	require.NoError(t, err)
	require.Empty(t, repo.metadata)
}
