package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clinedtrack/attendance-api/internal/models"
)

// ErrOpenRecordExists is returned when an insert collides with the partial
// unique index guarding the single-open-record invariant.
var ErrOpenRecordExists = errors.New("an open attendance record already exists for this student")

const uniqueViolation = "23505"

const attendanceColumns = `id, student_id, rotation_id, clock_in, clock_out, total_hours, notes, activities, status,
location_ciphertext, location_iv, location_auth_tag, location_version, created_at, updated_at`

// AttendanceRepository persists attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Insert creates a new open record. The partial unique index
// attendance_one_open_per_student makes concurrent inserts for the same
// student lose deterministically; such collisions surface as
// ErrOpenRecordExists.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO attendance_records
(id, student_id, rotation_id, clock_in, notes, activities, status,
 location_ciphertext, location_iv, location_auth_tag, location_version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING %s`, attendanceColumns)

	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.StudentID, record.RotationID, record.ClockIn,
		record.Notes, record.Activities, record.Status,
		record.LocationCiphertext, record.LocationIV, record.LocationAuthTag, record.LocationVersion,
		record.CreatedAt, record.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrOpenRecordExists
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return &stored, nil
}

// FindOpenByStudent returns the student's single open record, or
// sql.ErrNoRows when the student is clocked out. The lookup is global across
// rotations.
func (r *AttendanceRepository) FindOpenByStudent(ctx context.Context, studentID string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE student_id = $1 AND clock_out IS NULL`, attendanceColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// LatestClosedByStudent returns the student's most recently closed record,
// or sql.ErrNoRows when none exists. Used by the overlap rule.
func (r *AttendanceRepository) LatestClosedByStudent(ctx context.Context, studentID string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE student_id = $1 AND clock_out IS NOT NULL
ORDER BY clock_out DESC
LIMIT 1`, attendanceColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Close sets the clock-out time and derived duration on an open record. The
// clock_out IS NULL predicate makes a double close lose the race cleanly.
func (r *AttendanceRepository) Close(ctx context.Context, id string, clockOut time.Time, totalHours float64, activities []string, notes *string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`UPDATE attendance_records
SET clock_out = $2,
    total_hours = $3,
    activities = $4,
    notes = COALESCE($5, notes),
    updated_at = $6
WHERE id = $1 AND clock_out IS NULL
RETURNING %s`, attendanceColumns)

	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query, id, clockOut, totalHours, pq.StringArray(activities), notes, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &stored, nil
}
