package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clinedtrack/attendance-api/internal/models"
	appErrors "github.com/clinedtrack/attendance-api/pkg/errors"
)

type syncSessionRepository interface {
	FindSessionByClientID(ctx context.Context, clientID string) (*models.SyncSession, error)
}

// SyncComputation is the outcome of reconciling a client clock sample with
// server time.
type SyncComputation struct {
	CorrectedTimestamp time.Time
	ServerTime         time.Time
	DriftMs            int64
	Accuracy           models.SyncAccuracy
}

// TimeSyncService reconciles client-reported clock attempts with server
// time. Accuracy is diagnostic: a noisy client clock is recorded, never
// rejected.
type TimeSyncService struct {
	sessions         syncSessionRepository
	maxLoggedDriftMs int64
	logger           *zap.Logger
	now              func() time.Time
}

// NewTimeSyncService constructs the service.
func NewTimeSyncService(sessions syncSessionRepository, maxLoggedDriftMs int64, logger *zap.Logger) *TimeSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLoggedDriftMs <= 0 {
		maxLoggedDriftMs = 5000
	}
	return &TimeSyncService{
		sessions:         sessions,
		maxLoggedDriftMs: maxLoggedDriftMs,
		logger:           logger,
		now:              time.Now,
	}
}

// Compute resolves the authoritative timestamp for a clock action. Priority:
// the client's pre-synced timestamp, then its raw timestamp, then server
// now. driftMs is the signed client-minus-server clock difference.
func (s *TimeSyncService) Compute(syncedTimestamp, rawTimestamp string, driftMs int64) (*SyncComputation, error) {
	serverTime := s.now().UTC()

	corrected := serverTime
	switch {
	case syncedTimestamp != "":
		parsed, err := time.Parse(time.RFC3339, syncedTimestamp)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid synced_timestamp, expected RFC3339")
		}
		corrected = parsed.UTC()
	case rawTimestamp != "":
		parsed, err := time.Parse(time.RFC3339, rawTimestamp)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid timestamp, expected RFC3339")
		}
		corrected = parsed.UTC()
	}

	accuracy := models.ClassifySyncAccuracy(driftMs)
	if abs := absInt64(driftMs); abs > s.maxLoggedDriftMs {
		s.logger.Warn("client clock drift is unusually large",
			zap.Int64("drift_ms", driftMs),
			zap.String("accuracy", string(accuracy)))
	}

	return &SyncComputation{
		CorrectedTimestamp: corrected,
		ServerTime:         serverTime,
		DriftMs:            driftMs,
		Accuracy:           accuracy,
	}, nil
}

// ResolveSession enforces the synchronized clock-in precondition: a client
// id that maps to an active sync session. Failures here are precondition
// errors, deliberately distinct from validation failures.
func (s *TimeSyncService) ResolveSession(ctx context.Context, clientID string) (*models.SyncSession, error) {
	if clientID == "" {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "client_id is required for synchronized clock-in")
	}

	session, err := s.sessions.FindSessionByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPrecondition, "no sync session registered for client")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve sync session")
	}
	if !session.Active() {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "sync session is inactive")
	}

	return session, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
