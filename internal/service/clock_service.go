package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/clinedtrack/attendance-api/internal/dto"
	"github.com/clinedtrack/attendance-api/internal/models"
	"github.com/clinedtrack/attendance-api/internal/repository"
	"github.com/clinedtrack/attendance-api/internal/validation"
	"github.com/clinedtrack/attendance-api/pkg/breaker"
	appErrors "github.com/clinedtrack/attendance-api/pkg/errors"
	"github.com/clinedtrack/attendance-api/pkg/geocrypt"
)

// breakerAttendanceStorage guards the attendance write path. Business-rule
// rejections never pass through it; only infrastructure failures count.
const breakerAttendanceStorage = "attendance.storage"

type attendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	FindOpenByStudent(ctx context.Context, studentID string) (*models.AttendanceRecord, error)
	LatestClosedByStudent(ctx context.Context, studentID string) (*models.AttendanceRecord, error)
	Close(ctx context.Context, id string, clockOut time.Time, totalHours float64, activities []string, notes *string) (*models.AttendanceRecord, error)
}

type clockStatusCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type reconciliationDispatcher interface {
	EnqueueClockInSync(record *models.AttendanceRecord, session *models.SyncSession, comp SyncComputation)
}

// studentLocker serialises clock mutations per student within this process.
// The database partial unique index remains the authoritative guard across
// processes; the locker just keeps local races from reaching it.
type studentLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *studentLocker) lock(studentID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[studentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[studentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ClockServiceDeps lists the collaborators of the clock service. Geo, cache,
// recon, and metrics are optional; everything else is required.
type ClockServiceDeps struct {
	Repo     attendanceRepository
	TimeSync *TimeSyncService
	Rules    *validation.Engine
	Breakers *breaker.Registry
	Recon    reconciliationDispatcher
	Geo      *geocrypt.Codec
	Cache    clockStatusCache
	CacheTTL time.Duration
	Metrics  *MetricsService
	Validate *validator.Validate
	Logger   *zap.Logger
}

// ClockService implements the clock-in/clock-out lifecycle: at most one open
// attendance record per student, validation before any commit, and storage
// access gated by a circuit breaker.
type ClockService struct {
	repo     attendanceRepository
	timesync *TimeSyncService
	rules    *validation.Engine
	breakers *breaker.Registry
	recon    reconciliationDispatcher
	geo      *geocrypt.Codec
	cache    clockStatusCache
	cacheTTL time.Duration
	metrics  *MetricsService
	validate *validator.Validate
	logger   *zap.Logger
	locks    studentLocker
	now      func() time.Time
}

// NewClockService constructs the service.
func NewClockService(deps ClockServiceDeps) *ClockService {
	if deps.Validate == nil {
		deps.Validate = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 15 * time.Second
	}
	return &ClockService{
		repo:     deps.Repo,
		timesync: deps.TimeSync,
		rules:    deps.Rules,
		breakers: deps.Breakers,
		recon:    deps.Recon,
		geo:      deps.Geo,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		metrics:  deps.Metrics,
		validate: deps.Validate,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// ClockIn opens a shift for the student at the requested rotation.
func (s *ClockService) ClockIn(ctx context.Context, studentID string, req dto.ClockInRequest) (*dto.ClockResult, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student identity missing")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, s.invalidRequest(err)
	}

	comp, err := s.timesync.Compute("", req.Timestamp, 0)
	if err != nil {
		return nil, err
	}

	record, vres, err := s.openShift(ctx, studentID, req.RotationID, comp.CorrectedTimestamp, req.Notes, req.Location, "clock_in")
	if err != nil {
		return nil, err
	}
	return s.openResult(record, vres), nil
}

// SyncClockIn is the synchronized clock-in variant: it requires an active
// sync session, corrects the timestamp from the client's pre-synced value,
// and queues the reconciliation write after the record commits.
func (s *ClockService) SyncClockIn(ctx context.Context, studentID string, req dto.SyncClockInRequest) (*dto.SyncClockInResult, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student identity missing")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, s.invalidRequest(err)
	}

	session, err := s.timesync.ResolveSession(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	var drift int64
	if req.DriftMs != nil {
		drift = *req.DriftMs
	}
	comp, err := s.timesync.Compute(req.SyncedTimestamp, req.Timestamp, drift)
	if err != nil {
		return nil, err
	}

	record, vres, err := s.openShift(ctx, studentID, req.RotationID, comp.CorrectedTimestamp, req.Notes, req.Location, "sync_clock_in")
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveSyncDrift(drift)
	if s.recon != nil {
		// Fire-and-forget: reconciliation failures never affect the
		// already-committed attendance record.
		s.recon.EnqueueClockInSync(record, session, *comp)
	}

	return &dto.SyncClockInResult{
		ClockResult: *s.openResult(record, vres),
		Sync: dto.SyncBlock{
			ClientID:           req.ClientID,
			ServerTime:         comp.ServerTime,
			CorrectedTimestamp: comp.CorrectedTimestamp,
			DriftMs:            comp.DriftMs,
			SyncAccuracy:       comp.Accuracy,
			SessionActive:      session.Active(),
		},
	}, nil
}

// ClockOut closes the student's open shift at the requested rotation and
// computes the total duration, rounded to two decimal hours.
func (s *ClockService) ClockOut(ctx context.Context, studentID string, req dto.ClockOutRequest) (*dto.ClockResult, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student identity missing")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, s.invalidRequest(err)
	}

	comp, err := s.timesync.Compute("", req.Timestamp, 0)
	if err != nil {
		return nil, err
	}
	clockOut := comp.CorrectedTimestamp

	unlock := s.locks.lock(studentID)
	defer unlock()

	open, err := s.findOpen(ctx, studentID)
	if err != nil {
		s.metrics.ObserveClockTransition("clock_out", "error")
		return nil, err
	}
	if open == nil {
		s.metrics.ObserveClockTransition("clock_out", "conflict")
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "not currently clocked in")
	}
	if open.RotationID != req.RotationID {
		s.metrics.ObserveClockTransition("clock_out", "conflict")
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "clocked in at a different rotation")
	}

	notes := req.Notes
	if notes == nil {
		notes = open.Notes
	}
	vres := s.rules.Evaluate(validation.Entry{
		UserID:   studentID,
		SiteID:   req.RotationID,
		ClockIn:  open.ClockIn,
		ClockOut: &clockOut,
		Notes:    notes,
	}, s.now().UTC())
	if !vres.IsValid {
		s.metrics.ObserveClockTransition("clock_out", "validation_failed")
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "clock-out rejected by validation rules"), vres.Errors)
	}

	hours := math.Round(clockOut.Sub(open.ClockIn).Hours()*100) / 100

	var stored *models.AttendanceRecord
	var alreadyClosed bool
	err = s.breakers.Execute(breakerAttendanceStorage, func() error {
		record, err := s.repo.Close(ctx, open.ID, clockOut, hours, req.Activities, req.Notes)
		if err != nil {
			// Losing a double-close race is a business conflict, not an
			// infrastructure failure.
			if errors.Is(err, sql.ErrNoRows) {
				alreadyClosed = true
				return nil
			}
			return err
		}
		stored = record
		return nil
	})
	if err != nil {
		s.metrics.ObserveClockTransition("clock_out", "error")
		return nil, s.storageError(err, "failed to close attendance record")
	}
	if alreadyClosed {
		s.metrics.ObserveClockTransition("clock_out", "conflict")
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "not currently clocked in")
	}

	s.invalidateStatus(ctx, studentID)
	s.metrics.ObserveClockTransition("clock_out", "success")
	s.logger.Info("student clocked out",
		zap.String("student_id", studentID),
		zap.String("rotation_id", req.RotationID),
		zap.String("record_id", stored.ID),
		zap.Float64("total_hours", hours))

	return &dto.ClockResult{
		ClockedIn:              false,
		ClockInTime:            stored.ClockIn,
		ClockOutTime:           stored.ClockOut,
		TotalHours:             fmt.Sprintf("%.2f", hours),
		RecordID:               stored.ID,
		CurrentDurationSeconds: int64(clockOut.Sub(stored.ClockIn).Seconds()),
		Warnings:               vres.Warnings,
		Info:                   vres.Info,
	}, nil
}

// cachedClockStatus is the cache representation. The elapsed duration is
// recomputed at read time so cached entries never serve a stale counter.
type cachedClockStatus struct {
	ClockedIn  bool      `json:"clocked_in"`
	RecordID   string    `json:"record_id,omitempty"`
	RotationID string    `json:"rotation_id,omitempty"`
	ClockIn    time.Time `json:"clock_in,omitempty"`
}

// GetClockStatus reports whether the student is clocked in. It is a pure
// read: it never mutates records and never goes through validation.
func (s *ClockService) GetClockStatus(ctx context.Context, studentID string) (*dto.ClockStatusResult, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student identity missing")
	}

	key := statusCacheKey(studentID)
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Debug("clock status cache read failed", zap.Error(err))
		} else if ok {
			var cached cachedClockStatus
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return s.statusResult(cached), nil
			}
		}
	}

	open, err := s.findOpen(ctx, studentID)
	if err != nil {
		return nil, err
	}

	var cached cachedClockStatus
	if open != nil {
		cached = cachedClockStatus{
			ClockedIn:  true,
			RecordID:   open.ID,
			RotationID: open.RotationID,
			ClockIn:    open.ClockIn,
		}
	}
	if s.cache != nil {
		if raw, err := json.Marshal(cached); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), s.cacheTTL); err != nil {
				s.logger.Debug("clock status cache write failed", zap.Error(err))
			}
		}
	}
	return s.statusResult(cached), nil
}

// openShift holds the shared clock-in path: validate, serialise per student,
// reject duplicates and overlaps, encrypt location, then insert under the
// storage breaker.
func (s *ClockService) openShift(ctx context.Context, studentID, rotationID string, clockIn time.Time, notes *string, location *dto.LocationPayload, operation string) (*models.AttendanceRecord, validation.Result, error) {
	vres := s.rules.Evaluate(validation.Entry{
		UserID:  studentID,
		SiteID:  rotationID,
		ClockIn: clockIn,
		Notes:   notes,
	}, s.now().UTC())
	if !vres.IsValid {
		s.metrics.ObserveClockTransition(operation, "validation_failed")
		return nil, vres, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "clock-in rejected by validation rules"), vres.Errors)
	}

	unlock := s.locks.lock(studentID)
	defer unlock()

	open, err := s.findOpen(ctx, studentID)
	if err != nil {
		s.metrics.ObserveClockTransition(operation, "error")
		return nil, vres, err
	}
	if open != nil {
		s.metrics.ObserveClockTransition(operation, "conflict")
		return nil, vres, appErrors.Clone(appErrors.ErrBusinessLogic, "already clocked in")
	}

	var latest *models.AttendanceRecord
	err = s.breakers.Execute(breakerAttendanceStorage, func() error {
		record, err := s.repo.LatestClosedByStudent(ctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		latest = record
		return nil
	})
	if err != nil {
		s.metrics.ObserveClockTransition(operation, "error")
		return nil, vres, s.storageError(err, "failed to look up previous shift")
	}
	if latest != nil && latest.ClockOut != nil && clockIn.Before(*latest.ClockOut) {
		s.metrics.ObserveClockTransition(operation, "conflict")
		return nil, vres, appErrors.Clone(appErrors.ErrBusinessLogic, "clock-in overlaps the previous shift")
	}

	record := &models.AttendanceRecord{
		StudentID:  studentID,
		RotationID: rotationID,
		ClockIn:    clockIn,
		Notes:      notes,
		Status:     models.RecordStatusPending,
	}
	if err := s.attachLocation(record, location); err != nil {
		s.metrics.ObserveClockTransition(operation, "error")
		return nil, vres, err
	}

	var stored *models.AttendanceRecord
	var duplicate bool
	err = s.breakers.Execute(breakerAttendanceStorage, func() error {
		created, err := s.repo.Insert(ctx, record)
		if err != nil {
			// A unique-index collision is a losing concurrent clock-in; it
			// must not count against the breaker.
			if errors.Is(err, repository.ErrOpenRecordExists) {
				duplicate = true
				return nil
			}
			return err
		}
		stored = created
		return nil
	})
	if err != nil {
		s.metrics.ObserveClockTransition(operation, "error")
		return nil, vres, s.storageError(err, "failed to create attendance record")
	}
	if duplicate {
		s.metrics.ObserveClockTransition(operation, "conflict")
		return nil, vres, appErrors.Clone(appErrors.ErrBusinessLogic, "already clocked in")
	}

	s.invalidateStatus(ctx, studentID)
	s.metrics.ObserveClockTransition(operation, "success")
	s.logger.Info("student clocked in",
		zap.String("student_id", studentID),
		zap.String("rotation_id", rotationID),
		zap.String("record_id", stored.ID))
	return stored, vres, nil
}

// findOpen returns the student's open record, nil when there is none.
// Infrastructure errors are translated; sql.ErrNoRows is not an error here
// and never counts against the breaker.
func (s *ClockService) findOpen(ctx context.Context, studentID string) (*models.AttendanceRecord, error) {
	var open *models.AttendanceRecord
	err := s.breakers.Execute(breakerAttendanceStorage, func() error {
		record, err := s.repo.FindOpenByStudent(ctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		open = record
		return nil
	})
	if err != nil {
		return nil, s.storageError(err, "failed to look up open attendance record")
	}
	return open, nil
}

func (s *ClockService) attachLocation(record *models.AttendanceRecord, location *dto.LocationPayload) error {
	if location == nil {
		return nil
	}
	if s.geo == nil {
		s.logger.Warn("location supplied but encryption is not configured, dropping payload",
			zap.String("student_id", record.StudentID))
		return nil
	}

	plain, err := json.Marshal(location)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode location")
	}
	envelope, err := s.geo.Encrypt(string(plain))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encrypt location")
	}

	version := envelope.Version
	record.LocationCiphertext = &envelope.Ciphertext
	record.LocationIV = &envelope.IV
	record.LocationAuthTag = &envelope.AuthTag
	record.LocationVersion = &version
	return nil
}

func (s *ClockService) openResult(record *models.AttendanceRecord, vres validation.Result) *dto.ClockResult {
	return &dto.ClockResult{
		ClockedIn:              true,
		ClockInTime:            record.ClockIn,
		TotalHours:             "0.00",
		RecordID:               record.ID,
		CurrentDurationSeconds: int64(s.now().UTC().Sub(record.ClockIn).Seconds()),
		Warnings:               vres.Warnings,
		Info:                   vres.Info,
	}
}

func (s *ClockService) statusResult(cached cachedClockStatus) *dto.ClockStatusResult {
	if !cached.ClockedIn {
		return &dto.ClockStatusResult{ClockedIn: false}
	}
	recordID := cached.RecordID
	rotationID := cached.RotationID
	clockIn := cached.ClockIn
	return &dto.ClockStatusResult{
		ClockedIn:              true,
		RecordID:               &recordID,
		RotationID:             &rotationID,
		ClockInTime:            &clockIn,
		CurrentDurationSeconds: int64(s.now().UTC().Sub(clockIn).Seconds()),
	}
}

// storageError translates breaker and database failures into the typed
// errors the transport layer renders. Circuit rejections advertise the next
// attempt time so clients can back off.
func (s *ClockService) storageError(err error, message string) *appErrors.Error {
	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		e := appErrors.Clone(appErrors.ErrCircuitOpen, "attendance storage temporarily unavailable")
		e.Details = []string{"next_attempt_at: " + openErr.NextAttempt.UTC().Format(time.RFC3339)}
		e.Err = err
		return e
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *ClockService) invalidRequest(err error) *appErrors.Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid request payload"), details)
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
}

func (s *ClockService) invalidateStatus(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statusCacheKey(studentID)); err != nil {
		s.logger.Debug("clock status cache invalidation failed",
			zap.String("student_id", studentID), zap.Error(err))
	}
}

func statusCacheKey(studentID string) string {
	return "clock_status:" + studentID
}
