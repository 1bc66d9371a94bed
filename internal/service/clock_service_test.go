package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinedtrack/attendance-api/internal/dto"
	"github.com/clinedtrack/attendance-api/internal/models"
	"github.com/clinedtrack/attendance-api/internal/repository"
	"github.com/clinedtrack/attendance-api/internal/validation"
	"github.com/clinedtrack/attendance-api/pkg/breaker"
	appErrors "github.com/clinedtrack/attendance-api/pkg/errors"
	"github.com/clinedtrack/attendance-api/pkg/geocrypt"
)

type mockAttendanceRepo struct {
	mu        sync.Mutex
	seq       int
	records   map[string]*models.AttendanceRecord
	insertErr error
	findErr   error
	findCalls int
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{records: make(map[string]*models.AttendanceRecord)}
}

func (m *mockAttendanceRepo) seed(record models.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if record.ID == "" {
		record.ID = fmt.Sprintf("seed-%d", m.seq)
	}
	m.records[record.ID] = &record
}

func (m *mockAttendanceRepo) Insert(_ context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	for _, r := range m.records {
		if r.StudentID == record.StudentID && r.ClockOut == nil {
			return nil, repository.ErrOpenRecordExists
		}
	}
	m.seq++
	stored := *record
	stored.ID = fmt.Sprintf("rec-%d", m.seq)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.records[stored.ID] = &stored
	copied := stored
	return &copied, nil
}

func (m *mockAttendanceRepo) FindOpenByStudent(_ context.Context, studentID string) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, r := range m.records {
		if r.StudentID == studentID && r.ClockOut == nil {
			copied := *r
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) LatestClosedByStudent(_ context.Context, studentID string) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.AttendanceRecord
	for _, r := range m.records {
		if r.StudentID != studentID || r.ClockOut == nil {
			continue
		}
		if latest == nil || r.ClockOut.After(*latest.ClockOut) {
			latest = r
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (m *mockAttendanceRepo) Close(_ context.Context, id string, clockOut time.Time, totalHours float64, activities []string, notes *string) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.ClockOut != nil {
		return nil, sql.ErrNoRows
	}
	record.ClockOut = &clockOut
	record.TotalHours = &totalHours
	record.Activities = activities
	if notes != nil {
		record.Notes = notes
	}
	record.UpdatedAt = time.Now().UTC()
	copied := *record
	return &copied, nil
}

type mockSessionRepo struct {
	sessions map[string]*models.SyncSession
}

func (m *mockSessionRepo) FindSessionByClientID(_ context.Context, clientID string) (*models.SyncSession, error) {
	session, ok := m.sessions[clientID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return session, nil
}

type reconCall struct {
	record  *models.AttendanceRecord
	session *models.SyncSession
	comp    SyncComputation
}

type mockRecon struct {
	mu    sync.Mutex
	calls []reconCall
}

func (m *mockRecon) EnqueueClockInSync(record *models.AttendanceRecord, session *models.SyncSession, comp SyncComputation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, reconCall{record: record, session: session, comp: comp})
}

func (m *mockRecon) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockCache struct {
	mu     sync.Mutex
	values map[string]string
	dels   int
}

func newMockCache() *mockCache {
	return &mockCache{values: make(map[string]string)}
}

func (m *mockCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.values[key]
	return val, ok, nil
}

func (m *mockCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mockCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		m.dels++
	}
	return nil
}

type clockFixture struct {
	repo     *mockAttendanceRepo
	sessions *mockSessionRepo
	recon    *mockRecon
	cache    *mockCache
	breakers *breaker.Registry
	svc      *ClockService
	now      time.Time
}

// newClockFixture wires the service against in-memory collaborators with the
// clock pinned to Monday 2025-03-10 10:00 UTC.
func newClockFixture(t *testing.T) *clockFixture {
	t.Helper()
	logger := zap.NewNop()

	f := &clockFixture{
		repo: newMockAttendanceRepo(),
		sessions: &mockSessionRepo{sessions: map[string]*models.SyncSession{
			"client-1": {ID: "sess-1", ClientID: "client-1", Status: models.SessionStatusActive},
			"client-2": {ID: "sess-2", ClientID: "client-2", Status: models.SessionStatusInactive},
		}},
		recon: &mockRecon{},
		cache: newMockCache(),
		now:   time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	f.breakers = breaker.NewRegistry(breaker.Config{}, logger)

	timesync := NewTimeSyncService(f.sessions, 0, logger)
	timesync.now = func() time.Time { return f.now }

	geo, err := geocrypt.New("", "test", logger)
	require.NoError(t, err)

	f.svc = NewClockService(ClockServiceDeps{
		Repo:     f.repo,
		TimeSync: timesync,
		Rules:    validation.NewEngine(logger),
		Breakers: f.breakers,
		Recon:    f.recon,
		Geo:      geo,
		Cache:    f.cache,
		Metrics:  nil,
		Logger:   logger,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func requireAppError(t *testing.T, err error, code string) *appErrors.Error {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
	return appErr
}

func TestClockInCreatesOpenRecord(t *testing.T) {
	f := newClockFixture(t)

	result, err := f.svc.ClockIn(context.Background(), "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	require.NoError(t, err)
	require.True(t, result.ClockedIn)
	require.Equal(t, "0.00", result.TotalHours)
	require.NotEmpty(t, result.RecordID)
	require.Equal(t, f.now, result.ClockInTime)
	require.Empty(t, result.Warnings)
}

func TestClockInRejectsSecondOpenRecord(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	require.NoError(t, err)

	_, err = f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-2"})
	appErr := requireAppError(t, err, "BUSINESS_LOGIC_ERROR")
	require.Equal(t, "already clocked in", appErr.Message)
}

func TestClockInValidationFailureListsRules(t *testing.T) {
	f := newClockFixture(t)

	// 25 hours in the past.
	stale := f.now.Add(-25 * time.Hour).Format(time.RFC3339)
	_, err := f.svc.ClockIn(context.Background(), "stu-1", dto.ClockInRequest{
		RotationID: "rot-1",
		Timestamp:  stale,
	})
	appErr := requireAppError(t, err, "VALIDATION_ERROR")
	require.Len(t, appErr.Details, 1)
	require.Contains(t, appErr.Details[0], "reasonable_clock_in_time")
}

func TestClockInRejectsMissingRotation(t *testing.T) {
	f := newClockFixture(t)

	_, err := f.svc.ClockIn(context.Background(), "stu-1", dto.ClockInRequest{})
	requireAppError(t, err, "VALIDATION_ERROR")
}

func TestClockInRejectsOverlapWithPreviousShift(t *testing.T) {
	f := newClockFixture(t)
	f.now = time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

	prevOut := time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)
	hours := 1.5
	f.repo.seed(models.AttendanceRecord{
		StudentID:  "stu-1",
		RotationID: "rot-1",
		ClockIn:    prevOut.Add(-90 * time.Minute),
		ClockOut:   &prevOut,
		TotalHours: &hours,
		Status:     models.RecordStatusPending,
	})

	_, err := f.svc.ClockIn(context.Background(), "stu-1", dto.ClockInRequest{
		RotationID: "rot-1",
		Timestamp:  "2025-03-10T10:00:00Z",
	})
	appErr := requireAppError(t, err, "BUSINESS_LOGIC_ERROR")
	require.Equal(t, "clock-in overlaps the previous shift", appErr.Message)
}

func TestClockInEncryptsLocation(t *testing.T) {
	f := newClockFixture(t)

	result, err := f.svc.ClockIn(context.Background(), "stu-1", dto.ClockInRequest{
		RotationID: "rot-1",
		Location:   &dto.LocationPayload{Latitude: 40.1, Longitude: -75.2},
	})
	require.NoError(t, err)

	stored := f.repo.records[result.RecordID]
	require.NotNil(t, stored.LocationCiphertext)
	require.NotNil(t, stored.LocationIV)
	require.NotNil(t, stored.LocationAuthTag)
	require.NotNil(t, stored.LocationVersion)

	plain, err := f.svc.geo.Decrypt(&geocrypt.Envelope{
		Ciphertext: *stored.LocationCiphertext,
		IV:         *stored.LocationIV,
		AuthTag:    *stored.LocationAuthTag,
		Version:    *stored.LocationVersion,
	})
	require.NoError(t, err)
	require.Contains(t, plain, "40.1")
}

func TestSyncClockInThenDuplicateThenClockOut(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	// 10:00 synchronized clock-in with 40ms drift.
	drift := int64(40)
	synced, err := f.svc.SyncClockIn(ctx, "stu-1", dto.SyncClockInRequest{
		RotationID:      "rot-1",
		ClientID:        "client-1",
		SyncedTimestamp: "2025-03-10T10:00:00Z",
		DriftMs:         &drift,
	})
	require.NoError(t, err)
	require.True(t, synced.ClockedIn)
	require.Equal(t, models.SyncAccuracyHigh, synced.Sync.SyncAccuracy)
	require.True(t, synced.Sync.SessionActive)
	require.Equal(t, int64(40), synced.Sync.DriftMs)
	require.Equal(t, 1, f.recon.count())

	// 10:05 duplicate attempt.
	f.now = f.now.Add(5 * time.Minute)
	_, err = f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	appErr := requireAppError(t, err, "BUSINESS_LOGIC_ERROR")
	require.Equal(t, "already clocked in", appErr.Message)

	// 10:30 clock-out: half an hour exactly.
	f.now = f.now.Add(25 * time.Minute)
	out, err := f.svc.ClockOut(ctx, "stu-1", dto.ClockOutRequest{RotationID: "rot-1"})
	require.NoError(t, err)
	require.False(t, out.ClockedIn)
	require.Equal(t, "0.50", out.TotalHours)
	require.Equal(t, int64(1800), out.CurrentDurationSeconds)
}

func TestSyncClockInRequiresSession(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	_, err := f.svc.SyncClockIn(ctx, "stu-1", dto.SyncClockInRequest{
		RotationID: "rot-1",
		ClientID:   "ghost",
	})
	requireAppError(t, err, "PRECONDITION_FAILED")

	_, err = f.svc.SyncClockIn(ctx, "stu-1", dto.SyncClockInRequest{
		RotationID: "rot-1",
		ClientID:   "client-2",
	})
	appErr := requireAppError(t, err, "PRECONDITION_FAILED")
	require.Equal(t, "sync session is inactive", appErr.Message)
	require.Equal(t, 0, f.recon.count())
}

func TestClockOutWithoutOpenRecord(t *testing.T) {
	f := newClockFixture(t)

	_, err := f.svc.ClockOut(context.Background(), "stu-1", dto.ClockOutRequest{RotationID: "rot-1"})
	appErr := requireAppError(t, err, "BUSINESS_LOGIC_ERROR")
	require.Equal(t, "not currently clocked in", appErr.Message)
}

func TestClockOutWrongRotation(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	require.NoError(t, err)

	_, err = f.svc.ClockOut(ctx, "stu-1", dto.ClockOutRequest{RotationID: "rot-2"})
	appErr := requireAppError(t, err, "BUSINESS_LOGIC_ERROR")
	require.Equal(t, "clocked in at a different rotation", appErr.Message)
}

func TestClockOutShortShiftWarnsButSucceeds(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	out, err := f.svc.ClockOut(ctx, "stu-1", dto.ClockOutRequest{RotationID: "rot-1"})
	require.NoError(t, err)
	require.Equal(t, "0.17", out.TotalHours)

	var found bool
	for _, w := range out.Warnings {
		if w == "min_shift_duration: shift is shorter than 15 minutes" {
			found = true
		}
	}
	require.True(t, found, "expected short-shift warning, got %v", out.Warnings)
}

func TestStorageFailuresTripTheBreaker(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()
	f.repo.findErr = errors.New("connection refused")

	for i := 0; i < 3; i++ {
		_, err := f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
		requireAppError(t, err, "INTERNAL_ERROR")
	}

	_, err := f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	appErr := requireAppError(t, err, "CIRCUIT_OPEN")
	require.Equal(t, 503, appErr.Status)
	require.NotEmpty(t, appErr.Details)
}

func TestGetClockStatusReadsThroughCache(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	status, err := f.svc.GetClockStatus(ctx, "stu-1")
	require.NoError(t, err)
	require.False(t, status.ClockedIn)
	require.Equal(t, 1, f.repo.findCalls)

	// Second read is served from cache.
	status, err = f.svc.GetClockStatus(ctx, "stu-1")
	require.NoError(t, err)
	require.False(t, status.ClockedIn)
	require.Equal(t, 1, f.repo.findCalls)

	// Clocking in invalidates the cached status.
	_, err = f.svc.ClockIn(ctx, "stu-1", dto.ClockInRequest{RotationID: "rot-1"})
	require.NoError(t, err)
	require.NotZero(t, f.cache.dels)

	f.now = f.now.Add(10 * time.Minute)
	status, err = f.svc.GetClockStatus(ctx, "stu-1")
	require.NoError(t, err)
	require.True(t, status.ClockedIn)
	require.Equal(t, "rot-1", *status.RotationID)
	require.Equal(t, int64(600), status.CurrentDurationSeconds)
}

func TestDistinctStudentsClockInConcurrently(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, student := range []string{"stu-1", "stu-2"} {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			_, errs[idx] = f.svc.ClockIn(ctx, id, dto.ClockInRequest{RotationID: "rot-1"})
		}(i, student)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
}

func TestClockRequiresIdentity(t *testing.T) {
	f := newClockFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "", dto.ClockInRequest{RotationID: "rot-1"})
	requireAppError(t, err, "AUTHORIZATION_ERROR")

	_, err = f.svc.GetClockStatus(ctx, "")
	requireAppError(t, err, "AUTHORIZATION_ERROR")
}
