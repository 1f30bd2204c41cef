package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendFindCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Append(ctx, TestResults, Document{"test_result_id": "TST-2024-001", "test_type": "TEORICO"}))
	require.NoError(t, store.Append(ctx, TestResults, Document{"test_result_id": "TST-2024-002", "test_type": "VIA_PUBLICA"}))

	n, err := store.Count(ctx, TestResults)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, ok, err := store.FindOne(ctx, TestResults, Where("test_type", "VIA_PUBLICA"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "TST-2024-002", doc.String("test_result_id"))

	_, ok, err = store.FindOne(ctx, TestResults, Where("test_type", "DESTREZA_INDIVIDUAL"))
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := store.FindMany(ctx, TestResults, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "TST-2024-001", all[0].String("test_result_id"))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Append(ctx, Appointments, Document{
		"resource_mac": "A1B2C3D4E5F6",
		"users":        []any{map[string]any{"user_id": "USR-001"}},
	}))

	doc, ok, err := store.FindOne(ctx, Appointments, nil)
	require.NoError(t, err)
	require.True(t, ok)
	doc["resource_mac"] = "mutated"
	doc["users"].([]any)[0].(map[string]any)["user_id"] = "mutated"

	again, _, err := store.FindOne(ctx, Appointments, nil)
	require.NoError(t, err)
	assert.Equal(t, "A1B2C3D4E5F6", again.String("resource_mac"))
	assert.Equal(t, "USR-001", again["users"].([]any)[0].(map[string]any)["user_id"])
}

func TestMemoryUnknownCollection(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	err := store.Append(ctx, "bookings", Document{"id": "1"})
	assert.True(t, errors.Is(err, ErrUnknownCollection))

	_, err = store.Count(ctx, "bookings")
	assert.True(t, errors.Is(err, ErrUnknownCollection))

	_, _, err = store.FindOne(ctx, "bookings", nil)
	assert.True(t, errors.Is(err, ErrUnknownCollection))
}

func TestMemoryAppendLeavesStateOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, &failingPersister{})
	require.NoError(t, err)

	err = store.Append(ctx, TestResults, Document{"test_result_id": "TST-2024-001"})
	require.Error(t, err)

	n, err := store.Count(ctx, TestResults)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryImportAndEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	assert.True(t, store.Empty())

	require.NoError(t, store.Import(ctx, map[string][]Document{
		Cales:    {{"cale_id": "CALE-BOG-001"}},
		"ignore": {{"x": "y"}},
	}))
	assert.False(t, store.Empty())

	n, err := store.Count(ctx, Cales)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemory()
	assert.ErrorIs(t, store.Append(ctx, Cales, Document{"cale_id": "x"}), context.Canceled)
}

func TestAllCombinesPredicates(t *testing.T) {
	doc := Document{"appointment_id": "APT-1", "test_type": "TEORICO"}
	assert.True(t, All(Where("appointment_id", "APT-1"), Where("test_type", "TEORICO"))(doc))
	assert.False(t, All(Where("appointment_id", "APT-1"), Where("test_type", "VIA_PUBLICA"))(doc))
	assert.True(t, All()(doc))
}

type failingPersister struct{}

func (failingPersister) Load(context.Context) (map[string][]Document, error) { return nil, nil }
func (failingPersister) Import(context.Context, map[string][]Document) error { return nil }
func (failingPersister) Append(context.Context, string, Document) error {
	return errors.New("disk full")
}
func (failingPersister) Close() error { return nil }
