package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
	"github.com/andresaa/api-examen-conduccion/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deviceUser(userID, appointmentID string) map[string]any {
	return map[string]any{"user_id": userID, "appointment_id": appointmentID, "full_name": "Usuario " + userID}
}

// deviceFixture seeds two devices: USR-001 holds APT-2024-001 and USR-002 holds APT-2024-002.
func deviceFixture(t *testing.T) *docstore.Memory {
	t.Helper()
	store := docstore.NewMemory()
	require.NoError(t, store.Import(context.Background(), map[string][]docstore.Document{
		docstore.Appointments: {
			{"resource_mac": "A1B2C3D4E5F6", "appointment_date": "2024-03-01", "users": []any{deviceUser("USR-001", "APT-2024-001")}},
			{"resource_mac": "0A1B2C3D4E5F", "appointment_date": "2024-03-01", "users": []any{deviceUser("USR-002", "APT-2024-002")}},
		},
	}))
	return store
}

func centerFixture(t *testing.T) *docstore.Memory {
	t.Helper()
	store := docstore.NewMemory()
	require.NoError(t, store.Import(context.Background(), map[string][]docstore.Document{
		docstore.Appointments: {
			{"appointmentId": "APT-2024-001", "userId": "USR-001", "caleId": "CALE-BOG-001"},
			{"appointmentId": "APT-2024-002", "userId": "USR-002", "caleId": "CALE-BOG-001"},
		},
	}))
	return store
}

func newTestRecorder(t *testing.T, store *docstore.Memory, model DataModel, opts ...Option) *Recorder {
	t.Helper()
	dir, err := NewDirectory(model, store)
	require.NoError(t, err)
	seq, err := LoadSequence(context.Background(), store)
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return NewRecorder(store, dir, seq, discardLogger(), opts...)
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
}

// validA is a complete Variant A payload for USR-001 on APT-2024-001.
func validA(testType string) map[Field]any {
	return map[Field]any{
		FieldUserID:        "USR-001",
		FieldAppointmentID: "APT-2024-001",
		FieldTestType:      testType,
		FieldResult:        map[string]any{"score": 85, "passed": true},
	}
}

func mustNew(t *testing.T, v Variant, values map[Field]any) Submission {
	t.Helper()
	sub, err := New(v, values)
	require.NoError(t, err)
	return sub
}

func asRejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
	return rej
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

type stageCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newStageCounter() *stageCounter {
	return &stageCounter{counts: map[string]int{}}
}

func (s *stageCounter) ObserveSubmission(stage, code string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[fmt.Sprintf("%s/%s", stage, code)]++
}

func (s *stageCounter) get(stage Stage, code Code) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[fmt.Sprintf("%s/%s", stage, code)]
}

// brokenPersister accepts imports but fails every append.
type brokenPersister struct{}

func (brokenPersister) Load(context.Context) (map[string][]docstore.Document, error) { return nil, nil }
func (brokenPersister) Import(context.Context, map[string][]docstore.Document) error { return nil }
func (brokenPersister) Append(context.Context, string, docstore.Document) error {
	return errors.New("disk full")
}
func (brokenPersister) Close() error { return nil }
