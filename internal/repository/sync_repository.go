package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinedtrack/attendance-api/internal/models"
)

// SyncRepository handles sync sessions, metadata, and the append-only audit
// trail. Sessions are lookup-only from this core's perspective; metadata and
// events are insert-only.
type SyncRepository struct {
	db *sqlx.DB
}

// NewSyncRepository constructs the repository.
func NewSyncRepository(db *sqlx.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// FindSessionByClientID returns the client's sync session, or sql.ErrNoRows.
func (r *SyncRepository) FindSessionByClientID(ctx context.Context, clientID string) (*models.SyncSession, error) {
	query := `SELECT id, client_id, status, created_at, updated_at
FROM sync_sessions WHERE client_id = $1`
	var session models.SyncSession
	if err := r.db.GetContext(ctx, &session, query, clientID); err != nil {
		return nil, err
	}
	return &session, nil
}

// InsertMetadata writes drift diagnostics for an attendance record.
func (r *SyncRepository) InsertMetadata(ctx context.Context, metadata *models.SyncMetadata) error {
	if metadata.ID == "" {
		metadata.ID = uuid.NewString()
	}
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO sync_metadata
(id, record_id, session_id, synced_clock_in, drift_ms, accuracy, verification_status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		metadata.ID, metadata.RecordID, metadata.SessionID, metadata.SyncedClockIn,
		metadata.DriftMs, metadata.Accuracy, metadata.VerificationStatus, metadata.CreatedAt); err != nil {
		return fmt.Errorf("insert sync metadata: %w", err)
	}
	return nil
}

// InsertEvent appends one audit entry. Events are write-once.
func (r *SyncRepository) InsertEvent(ctx context.Context, event *models.SyncEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO sync_events
(id, event_type, client_id, server_time, client_time, drift_ms, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		event.ID, event.EventType, event.ClientID, event.ServerTime,
		event.ClientTime, event.DriftMs, event.Metadata, event.CreatedAt); err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}
	return nil
}
