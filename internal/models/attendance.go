package models

import (
	"time"

	"github.com/lib/pq"
)

// RecordStatus is the approval workflow state of an attendance record. The
// workflow itself lives outside this core; records are created PENDING and
// never transitioned here.
type RecordStatus string

const (
	RecordStatusPending  RecordStatus = "PENDING"
	RecordStatusApproved RecordStatus = "APPROVED"
	RecordStatusRejected RecordStatus = "REJECTED"
)

// Valid returns true when the status is a supported value.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusPending, RecordStatusApproved, RecordStatusRejected:
		return true
	default:
		return false
	}
}

// MaxNotesLength caps free-text notes on a record.
const MaxNotesLength = 500

// AttendanceRecord is one open-or-closed interval of clinical time for a
// student at a rotation. A NULL clock_out means the record is open; at most
// one open record may exist per student, enforced by a partial unique index
// on (student_id) WHERE clock_out IS NULL.
type AttendanceRecord struct {
	ID         string         `db:"id" json:"id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	RotationID string         `db:"rotation_id" json:"rotation_id"`
	ClockIn    time.Time      `db:"clock_in" json:"clock_in"`
	ClockOut   *time.Time     `db:"clock_out" json:"clock_out,omitempty"`
	TotalHours *float64       `db:"total_hours" json:"total_hours,omitempty"`
	Notes      *string        `db:"notes" json:"notes,omitempty"`
	Activities pq.StringArray `db:"activities" json:"activities,omitempty"`
	Status     RecordStatus   `db:"status" json:"status"`

	// Encrypted geolocation envelope; populated only when the client
	// supplied a location at clock-in.
	LocationCiphertext *string `db:"location_ciphertext" json:"-"`
	LocationIV         *string `db:"location_iv" json:"-"`
	LocationAuthTag    *string `db:"location_auth_tag" json:"-"`
	LocationVersion    *int    `db:"location_version" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Open reports whether the record has no clock-out yet.
func (r *AttendanceRecord) Open() bool {
	return r.ClockOut == nil
}
