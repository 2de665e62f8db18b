package attendance

import (
	"sort"
	"sync"

	"attendpay/internal/calendar"
	"attendpay/internal/metrics"
)

// Store indexes records by date and logs by (student, date). It does no I/O; callers
// persist first and commit afterwards so memory never runs ahead of the database.
// Reads return copies, so a reader never sees a half-applied write.
//
// Every Commit is stamped with a sequence number. A bulk load takes a Mark before it
// reads the database and hands it back when applying, so entries committed while the
// snapshot was being read survive the load.
type Store struct {
	mu      sync.RWMutex
	records map[calendar.Date]Record
	logs    map[Key]Log

	seq       uint64
	recordSeq map[calendar.Date]uint64
	logSeq    map[Key]uint64
}

func NewStore() *Store {
	return &Store{
		records:   make(map[calendar.Date]Record),
		logs:      make(map[Key]Log),
		recordSeq: make(map[calendar.Date]uint64),
		logSeq:    make(map[Key]uint64),
	}
}

// FindLog looks up the log of studentID on d.
func (s *Store) FindLog(studentID string, d calendar.Date) (Log, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[KeyOf(studentID, d)]
	return l, ok
}

// FindRecord looks up the record of d.
func (s *Store) FindRecord(d calendar.Date) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[d]
	return r, ok
}

// Commit swaps in one log together with its record.
func (s *Store) Commit(l Log) {
	k := KeyOf(l.StudentID, l.Record.Date)
	s.mu.Lock()
	s.seq++
	s.records[l.Record.Date] = l.Record
	s.logs[k] = l
	s.recordSeq[l.Record.Date] = s.seq
	s.logSeq[k] = s.seq
	n := len(s.logs)
	s.mu.Unlock()
	metrics.StoreSize.Set(float64(n))
}

// Mark returns the sequence of the latest commit.
func (s *Store) Mark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Replace swaps the whole content in one step.
func (s *Store) Replace(records []Record, logs []Log) {
	s.ReplaceSince(s.Mark(), records, logs)
}

// ReplaceSince swaps in a snapshot read after mark. Entries committed after mark are
// kept over the snapshot's version.
func (s *Store) ReplaceSince(mark uint64, records []Record, logs []Log) {
	recIdx, logIdx := index(records, logs)
	s.mu.Lock()
	recSeq := make(map[calendar.Date]uint64)
	logSeq := make(map[Key]uint64)
	for d, n := range s.recordSeq {
		if n > mark {
			recIdx[d] = s.records[d]
			recSeq[d] = n
		}
	}
	for k, n := range s.logSeq {
		if n > mark {
			logIdx[k] = s.logs[k]
			logSeq[k] = n
		}
	}
	s.records, s.logs = recIdx, logIdx
	s.recordSeq, s.logSeq = recSeq, logSeq
	size := len(logIdx)
	s.mu.Unlock()
	metrics.StoreSize.Set(float64(size))
}

// Merge adds or overwrites the given entries in one step.
func (s *Store) Merge(records []Record, logs []Log) {
	s.MergeSince(s.Mark(), records, logs)
}

// MergeSince adds or overwrites entries from a snapshot read after mark, skipping keys
// committed after mark.
func (s *Store) MergeSince(mark uint64, records []Record, logs []Log) {
	recIdx, logIdx := index(records, logs)
	s.mu.Lock()
	for d, r := range recIdx {
		if s.recordSeq[d] <= mark {
			s.records[d] = r
		}
	}
	for k, l := range logIdx {
		if s.logSeq[k] <= mark {
			s.logs[k] = l
		}
	}
	n := len(s.logs)
	s.mu.Unlock()
	metrics.StoreSize.Set(float64(n))
}

func index(records []Record, logs []Log) (map[calendar.Date]Record, map[Key]Log) {
	recIdx := make(map[calendar.Date]Record, len(records))
	for _, r := range records {
		recIdx[r.Date] = r
	}
	logIdx := make(map[Key]Log, len(logs))
	for _, l := range logs {
		if _, ok := recIdx[l.Record.Date]; !ok {
			recIdx[l.Record.Date] = l.Record
		}
		logIdx[KeyOf(l.StudentID, l.Record.Date)] = l
	}
	return recIdx, logIdx
}

// Len returns the number of logs held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

func (s *Store) filter(keep func(Log) bool) []Log {
	s.mu.RLock()
	out := make([]Log, 0)
	for _, l := range s.logs {
		if keep(l) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Date(), out[j].Date()
		if a != b {
			return a.Before(b)
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

// FilterByYear returns logs whose record falls in the calendar year.
func (s *Store) FilterByYear(year int) []Log {
	return s.filter(func(l Log) bool { return l.Record.Date.Year == year })
}

// FilterByMonth returns logs whose record falls in month.
func (s *Store) FilterByMonth(month calendar.MonthKey) []Log {
	return s.filter(func(l Log) bool { return month.Contains(l.Record.Date) })
}

// FilterByStudent returns every log of studentID.
func (s *Store) FilterByStudent(studentID string) []Log {
	return s.filter(func(l Log) bool { return l.StudentID == studentID })
}

// StudentMonth returns the logs of studentID in month.
func (s *Store) StudentMonth(studentID string, month calendar.MonthKey) []Log {
	return s.filter(func(l Log) bool {
		return l.StudentID == studentID && month.Contains(l.Record.Date)
	})
}
