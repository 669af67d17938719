// Package client consumes a session's live notification stream and keeps an
// ordered, duplicate-free view of the session's files.
package client

import (
	"sort"
	"sync"

	"github.com/quickdrop-io/quickdrop/models"
)

// EventSink merges inbound file events into a visible list. The dedup key
// is the file id: redelivery of a seen id is a no-op, never an update. The
// list is kept sorted newest first after every insert.
type EventSink struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	files []models.FileRecord
}

func NewEventSink() *EventSink {
	return &EventSink{
		seen: make(map[string]struct{}),
	}
}

// Apply inserts the record and reports whether it was new.
func (s *EventSink) Apply(record models.FileRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[record.FileId]; ok {
		return false
	}
	s.seen[record.FileId] = struct{}{}

	s.files = append(s.files, record)
	sort.SliceStable(s.files, func(i, j int) bool {
		return s.files[i].CreatedAt.After(s.files[j].CreatedAt)
	})

	return true
}

// Seed loads an initial listing (e.g. from the files endpoint) through the
// same dedup path, so a record arriving both ways shows up once.
func (s *EventSink) Seed(records []models.FileRecord) {
	for _, r := range records {
		s.Apply(r)
	}
}

// Files returns a copy of the current view, newest first.
func (s *EventSink) Files() []models.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.FileRecord, len(s.files))
	copy(out, s.files)
	return out
}

func (s *EventSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
