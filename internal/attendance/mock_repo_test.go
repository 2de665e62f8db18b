package attendance

import (
	"context"
	"errors"
	"sync"

	"attendpay/internal/apperr"
	"attendpay/internal/calendar"
)

// ── Mock Repository ──

type mockRepo struct {
	mu        sync.Mutex
	records   map[string]Record
	logs      map[string]Log
	inserts   int
	updates   int
	insertErr error
	updateErr error
	loadErr   error
	// lostReply is returned once by InsertEntry after the row is stored.
	lostReply error
	lookups   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]Record), logs: make(map[string]Log)}
}

func (m *mockRepo) LoadRecords(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []Record
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRepo) LoadLogs(_ context.Context) ([]Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []Log
	for _, l := range m.logs {
		out = append(out, l)
	}
	return out, nil
}

func (m *mockRepo) InsertEntry(_ context.Context, rec *Record, l Log) (Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return Log{}, m.insertErr
	}
	if rec != nil {
		m.records[rec.ID] = *rec
	}
	for _, existing := range m.logs {
		if existing.StudentID == l.StudentID && existing.Date() == l.Date() {
			return Log{}, errUniqueViolation
		}
	}
	m.inserts++
	m.logs[l.ID] = l
	if m.lostReply != nil {
		err := m.lostReply
		m.lostReply = nil
		return Log{}, err
	}
	return l, nil
}

func (m *mockRepo) LogByKey(_ context.Context, studentID string, d calendar.Date) (Log, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, l := range m.logs {
		if l.StudentID == studentID && l.Date() == d {
			return l, true, nil
		}
	}
	return Log{}, false, nil
}

func (m *mockRepo) UpdateLog(_ context.Context, l Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	m.logs[l.ID] = l
	return nil
}

var errUniqueViolation = apperr.Persistence("attendance.InsertEntry", errors.New("duplicate key value violates unique constraint"))

// gatedRepo holds LoadLogs open after its snapshot is read, until release is closed.
type gatedRepo struct {
	*mockRepo
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newGatedRepo() *gatedRepo {
	return &gatedRepo{mockRepo: newMockRepo(), read: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedRepo) LoadLogs(ctx context.Context) ([]Log, error) {
	logs, err := g.mockRepo.LoadLogs(ctx)
	g.once.Do(func() { close(g.read) })
	<-g.release
	return logs, err
}
