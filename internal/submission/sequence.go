package submission

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
)

const idPrefix = "TST"

// Sequence mints TST-<year>-<nnn> identifiers. Counters are per year, seeded
// from the identifiers already in the store and incremented under a mutex, so
// identifiers never depend on a point-in-time size read.
type Sequence struct {
	mu   sync.Mutex
	last map[int]int
}

// NewSequence returns an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{last: make(map[int]int)}
}

// LoadSequence seeds a sequence from the stored test results.
func LoadSequence(ctx context.Context, store docstore.Store) (*Sequence, error) {
	docs, err := store.FindMany(ctx, docstore.TestResults, nil)
	if err != nil {
		return nil, fmt.Errorf("list test results: %w", err)
	}
	seq := NewSequence()
	for _, doc := range docs {
		seq.Observe(doc.String("test_result_id"))
	}
	return seq, nil
}

// Observe records an existing identifier so later identifiers never collide with it.
// Identifiers outside the TST-<year>-<n> scheme are ignored.
func (s *Sequence) Observe(id string) {
	year, n, ok := parseID(id)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.last[year] {
		s.last[year] = n
	}
}

// Next mints the next identifier for the year of now.
func (s *Sequence) Next(now time.Time) string {
	year := now.Year()
	s.mu.Lock()
	s.last[year]++
	n := s.last[year]
	s.mu.Unlock()
	return FormatID(year, n)
}

// FormatID renders an identifier, padding the counter to at least three digits.
func FormatID(year, n int) string {
	return fmt.Sprintf("%s-%d-%03d", idPrefix, year, n)
}

func parseID(id string) (year, n int, ok bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != idPrefix {
		return 0, 0, false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	n, err = strconv.Atoi(parts[2])
	if err != nil || n < 0 {
		return 0, 0, false
	}
	return year, n, true
}
