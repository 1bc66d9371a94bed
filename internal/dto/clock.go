package dto

import (
	"time"

	"github.com/clinedtrack/attendance-api/internal/models"
)

// LocationPayload is the client-supplied geolocation attached to a clock-in.
// It is encrypted before persistence and never stored in the clear.
type LocationPayload struct {
	Latitude       float64  `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude      float64  `json:"longitude" validate:"required,gte=-180,lte=180"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

// ClockInRequest starts a shift at a rotation. Timestamp, when present, is
// the client's claimed RFC3339 clock-in time; the server corrects it.
type ClockInRequest struct {
	RotationID string           `json:"rotation_id" validate:"required"`
	Timestamp  string           `json:"timestamp,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	Location   *LocationPayload `json:"location,omitempty"`
}

// SyncClockInRequest is the synchronized clock-in variant. ClientID must
// resolve to an active sync session; SyncedTimestamp, when present, wins
// over Timestamp.
type SyncClockInRequest struct {
	RotationID      string           `json:"rotation_id" validate:"required"`
	ClientID        string           `json:"client_id" validate:"required"`
	Timestamp       string           `json:"timestamp,omitempty"`
	SyncedTimestamp string           `json:"synced_timestamp,omitempty"`
	DriftMs         *int64           `json:"drift_ms,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	Location        *LocationPayload `json:"location,omitempty"`
}

// ClockOutRequest closes the open shift at a rotation.
type ClockOutRequest struct {
	RotationID string   `json:"rotation_id" validate:"required"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Activities []string `json:"activities,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
}

// ClockResult is the caller-facing shape for both clock-in and clock-out.
type ClockResult struct {
	ClockedIn              bool       `json:"clocked_in"`
	ClockInTime            time.Time  `json:"clock_in_time"`
	ClockOutTime           *time.Time `json:"clock_out_time"`
	TotalHours             string     `json:"total_hours"`
	RecordID               string     `json:"record_id"`
	CurrentDurationSeconds int64      `json:"current_duration_seconds"`
	Warnings               []string   `json:"warnings,omitempty"`
	Info                   []string   `json:"info,omitempty"`
}

// SyncBlock reports the synchronization outcome alongside a ClockResult.
type SyncBlock struct {
	ClientID           string              `json:"client_id"`
	ServerTime         time.Time           `json:"server_time"`
	CorrectedTimestamp time.Time           `json:"corrected_timestamp"`
	DriftMs            int64               `json:"drift_ms"`
	SyncAccuracy       models.SyncAccuracy `json:"sync_accuracy"`
	SessionActive      bool                `json:"session_active"`
}

// SyncClockInResult extends ClockResult with the sync diagnostics block.
type SyncClockInResult struct {
	ClockResult
	Sync SyncBlock `json:"sync"`
}

// ClockStatusResult reports whether a student is currently clocked in.
type ClockStatusResult struct {
	ClockedIn              bool       `json:"clocked_in"`
	RecordID               *string    `json:"record_id,omitempty"`
	RotationID             *string    `json:"rotation_id,omitempty"`
	ClockInTime            *time.Time `json:"clock_in_time,omitempty"`
	CurrentDurationSeconds int64      `json:"current_duration_seconds"`
}
