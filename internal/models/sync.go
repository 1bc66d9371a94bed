package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SessionStatus is the lifecycle state of a sync session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusInactive SessionStatus = "inactive"
)

// SyncSession is a client's registered clock-synchronization channel. The
// synchronized clock-in path looks sessions up; it never creates them.
type SyncSession struct {
	ID        string        `db:"id" json:"id"`
	ClientID  string        `db:"client_id" json:"client_id"`
	Status    SessionStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Active reports whether the session may be used for synchronized clock-ins.
func (s *SyncSession) Active() bool {
	return s.Status == SessionStatusActive
}

// SyncAccuracy buckets the magnitude of observed client clock drift. It is
// diagnostic only and never gates a clock action.
type SyncAccuracy string

const (
	SyncAccuracyHigh   SyncAccuracy = "high"
	SyncAccuracyMedium SyncAccuracy = "medium"
	SyncAccuracyLow    SyncAccuracy = "low"
)

// ClassifySyncAccuracy maps absolute drift in milliseconds to a bucket:
// under 100ms high, under 500ms medium, otherwise low. Negative drift is
// classified by magnitude.
func ClassifySyncAccuracy(driftMs int64) SyncAccuracy {
	if driftMs < 0 {
		driftMs = -driftMs
	}
	switch {
	case driftMs < 100:
		return SyncAccuracyHigh
	case driftMs < 500:
		return SyncAccuracyMedium
	default:
		return SyncAccuracyLow
	}
}

// SyncMetadata attaches drift diagnostics to an attendance record. It is
// written asynchronously after the record commits; its absence never
// invalidates the record. DriftMs holds the absolute magnitude; the signed
// drift lives on SyncEvent.
type SyncMetadata struct {
	ID                 string       `db:"id" json:"id"`
	RecordID           string       `db:"record_id" json:"record_id"`
	SessionID          string       `db:"session_id" json:"session_id"`
	SyncedClockIn      time.Time    `db:"synced_clock_in" json:"synced_clock_in"`
	DriftMs            int64        `db:"drift_ms" json:"drift_ms"`
	Accuracy           SyncAccuracy `db:"accuracy" json:"accuracy"`
	VerificationStatus string       `db:"verification_status" json:"verification_status"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
}

// SyncEvent is an append-only audit entry for one synchronization
// occurrence. Rows are write-once and never mutated.
type SyncEvent struct {
	ID         string         `db:"id" json:"id"`
	EventType  string         `db:"event_type" json:"event_type"`
	ClientID   string         `db:"client_id" json:"client_id"`
	ServerTime time.Time      `db:"server_time" json:"server_time"`
	ClientTime time.Time      `db:"client_time" json:"client_time"`
	DriftMs    int64          `db:"drift_ms" json:"drift_ms"`
	Metadata   types.JSONText `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
