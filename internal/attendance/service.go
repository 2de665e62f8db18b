package attendance

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendpay/internal/apperr"
	"attendpay/internal/calendar"
	"attendpay/internal/keylock"
	"attendpay/internal/metrics"
	"attendpay/internal/retry"
)

// Repository persists records and logs.
type Repository interface {
	LoadRecords(ctx context.Context) ([]Record, error)
	LoadLogs(ctx context.Context) ([]Log, error)
	// InsertEntry stores l, and rec first when it is non-nil, in one transaction. The
	// returned log carries the record id actually stored for the date.
	InsertEntry(ctx context.Context, rec *Record, l Log) (Log, error)
	UpdateLog(ctx context.Context, l Log) error
	// LogByKey reads the persisted log of studentID on d, if any.
	LogByKey(ctx context.Context, studentID string, d calendar.Date) (Log, bool, error)
}

// Service applies attendance writes: persist under the key lock, then commit to the store.
type Service struct {
	repo   Repository
	store  *Store
	clock  calendar.Clock
	retry  *retry.Policy
	logger *zap.Logger
	locks  *keylock.Locker
	// Record creation is serialized per date, apart from the per-student locks.
	recordLocks *keylock.Locker

	onChange []func(studentID string, d calendar.Date)
}

// NewService creates a service backed by a repository and an in-memory store.
func NewService(repo Repository, store *Store, clock calendar.Clock, policy *retry.Policy, logger *zap.Logger) *Service {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	if policy == nil {
		policy = retry.Once()
	}
	return &Service{
		repo:        repo,
		store:       store,
		clock:       clock,
		retry:       policy,
		logger:      logger,
		locks:       keylock.New(),
		recordLocks: keylock.New(),
	}
}

// Store exposes the in-memory index for readers.
func (s *Service) Store() *Store { return s.store }

// OnChange registers fn to run after a log write is committed. Register before serving.
func (s *Service) OnChange(fn func(studentID string, d calendar.Date)) {
	s.onChange = append(s.onChange, fn)
}

// FindLog looks up the log of studentID on d.
func (s *Service) FindLog(studentID string, d calendar.Date) (Log, bool) {
	return s.store.FindLog(studentID, d)
}

func validateKey(op, studentID string, d calendar.Date) error {
	if studentID == "" {
		return apperr.InvalidFormat(op, "student id required")
	}
	if !d.Valid() {
		return apperr.InvalidFormat(op, "date %s", d)
	}
	return nil
}

// UpsertExcused marks the day excused, creating the record and log when missing.
func (s *Service) UpsertExcused(ctx context.Context, studentID string, d calendar.Date) (Log, error) {
	if err := validateKey("attendance.UpsertExcused", studentID, d); err != nil {
		return Log{}, err
	}
	return s.save(ctx, "excused", studentID, d, func(Punches) (Punches, error) {
		return ExcusedPunches(), nil
	})
}

// UpdateTimes overwrites the punches of an existing log. It reports false, without
// error, when no log exists; it never creates one.
func (s *Service) UpdateTimes(ctx context.Context, studentID string, d calendar.Date, p Punches) (Log, bool, error) {
	if err := validateKey("attendance.UpdateTimes", studentID, d); err != nil {
		return Log{}, false, err
	}
	unlock := s.locks.Lock(KeyOf(studentID, d).String())
	defer unlock()

	existing, ok := s.store.FindLog(studentID, d)
	if !ok {
		return Log{}, false, nil
	}
	next := existing
	next.Punches = p
	if err := s.retry.Do(ctx, "attendance.UpdateLog", func(ctx context.Context) error {
		return s.repo.UpdateLog(ctx, next)
	}); err != nil {
		s.logger.Error("update attendance log failed", zap.String("key", KeyOf(studentID, d).String()), zap.Error(err))
		return Log{}, false, err
	}
	s.commit("update", next)
	return next, true, nil
}

// SaveTimes is the explicit create-or-update path for a day's punches.
func (s *Service) SaveTimes(ctx context.Context, studentID string, d calendar.Date, p Punches) (Log, error) {
	if err := validateKey("attendance.SaveTimes", studentID, d); err != nil {
		return Log{}, err
	}
	return s.save(ctx, "save", studentID, d, func(Punches) (Punches, error) { return p, nil })
}

// Punch stamps the current clock time into the next unset slot of today's log.
func (s *Service) Punch(ctx context.Context, studentID string) (Log, error) {
	now := s.clock.Now()
	d := calendar.DateOf(now)
	if err := validateKey("attendance.Punch", studentID, d); err != nil {
		return Log{}, err
	}
	code, err := ClockTime(now)
	if err != nil {
		return Log{}, err
	}
	return s.save(ctx, "punch", studentID, d, func(p Punches) (Punches, error) {
		if p.AllExcused() {
			return p, apperr.InvalidRange("attendance.Punch", "%s is excused on %s", studentID, d)
		}
		for _, slot := range p.Slots() {
			if slot.IsUnset() {
				*slot = code
				return p, nil
			}
		}
		return p, apperr.InvalidRange("attendance.Punch", "all punches recorded for %s on %s", studentID, d)
	})
}

// save runs apply on the current punches of the key and persists the result, inserting
// a new log (and record when the date has none) if the key is new.
func (s *Service) save(ctx context.Context, op, studentID string, d calendar.Date, apply func(Punches) (Punches, error)) (Log, error) {
	unlock := s.locks.Lock(KeyOf(studentID, d).String())
	defer unlock()

	if existing, ok := s.store.FindLog(studentID, d); ok {
		p, err := apply(existing.Punches)
		if err != nil {
			return Log{}, err
		}
		next := existing
		next.Punches = p
		if err := s.retry.Do(ctx, "attendance.UpdateLog", func(ctx context.Context) error {
			return s.repo.UpdateLog(ctx, next)
		}); err != nil {
			s.logger.Error("update attendance log failed", zap.String("key", KeyOf(studentID, d).String()), zap.Error(err))
			return Log{}, err
		}
		s.commit(op, next)
		return next, nil
	}

	p, err := apply(Punches{})
	if err != nil {
		return Log{}, err
	}

	unlockDate := s.recordLocks.Lock(d.String())
	defer unlockDate()

	var newRecord *Record
	rec, ok := s.store.FindRecord(d)
	if !ok {
		rec = Record{ID: uuid.NewString(), Date: d}
		newRecord = &rec
	}
	l := Log{ID: uuid.NewString(), Record: rec, StudentID: studentID, Punches: p}

	attempted := false
	if err := s.retry.Do(ctx, "attendance.InsertEntry", func(ctx context.Context) error {
		// A failed attempt may still have committed.
		if attempted {
			stored, ok, err := s.repo.LogByKey(ctx, studentID, d)
			if err != nil {
				return err
			}
			if ok && stored.ID == l.ID {
				l = stored
				return nil
			}
		}
		attempted = true
		stored, err := s.repo.InsertEntry(ctx, newRecord, l)
		if err == nil {
			l = stored
		}
		return err
	}); err != nil {
		s.logger.Error("insert attendance log failed", zap.String("key", KeyOf(studentID, d).String()), zap.Error(err))
		return Log{}, err
	}
	s.commit(op, l)
	s.logger.Debug("attendance log created",
		zap.String("student_id", studentID),
		zap.Stringer("date", d),
		zap.Bool("new_record", newRecord != nil))
	return l, nil
}

func (s *Service) commit(op string, l Log) {
	s.store.Commit(l)
	metrics.StoreWrites.WithLabelValues(op).Inc()
	for _, fn := range s.onChange {
		fn(l.StudentID, l.Date())
	}
}
