package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
	"github.com/andresaa/api-examen-conduccion/internal/events"
	"github.com/andresaa/api-examen-conduccion/internal/model"
)

func TestSubmitRecordsThenRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := deviceFixture(t)
	pub := &capturePublisher{}
	stages := newStageCounter()
	rec := newTestRecorder(t, store, ModelDevice, WithPublisher(pub), WithObserver(stages))

	first, err := rec.Submit(ctx, mustNew(t, VariantA, validA("TEORICO")))
	require.NoError(t, err)
	assert.Equal(t, "TST-2024-001", first.TestResultID)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.StatusCompleted, first.Status)
	assert.Equal(t, "2024-03-01T10:30:00.000Z", first.CreatedAt)
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)
	assert.Equal(t, first.CreatedAt, first.PerformedAt)
	assert.Nil(t, first.Notes)
	assert.EqualValues(t, 85, first.Result["score"])

	_, err = rec.Submit(ctx, mustNew(t, VariantA, validA("TEORICO")))
	rej := asRejection(t, err)
	assert.Equal(t, CodeDuplicate, rej.Code)
	assert.Equal(t, "TST-2024-001", rej.Details["existing_test_id"])
	assert.Equal(t, first.CreatedAt, rej.Details["created_at"])

	second, err := rec.Submit(ctx, mustNew(t, VariantA, validA("VIA_PUBLICA")))
	require.NoError(t, err)
	assert.Equal(t, "TST-2024-002", second.TestResultID)

	stored, ok, err := store.FindOne(ctx, docstore.TestResults, docstore.Where("test_result_id", "TST-2024-001"))
	require.NoError(t, err)
	require.True(t, ok)
	var got model.TestResult
	require.NoError(t, stored.Decode(&got))
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "USR-001", got.UserID)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.TypeTestResultRecorded, pub.events[0].Type)
	assert.Equal(t, "TST-2024-001", pub.events[0].TestResult.TestResultID)

	assert.Equal(t, 2, stages.get(StagePersisted, ""))
	assert.Equal(t, 1, stages.get(StageRejected, CodeDuplicate))
}

func TestSubmitKeepsProvidedOptionalFields(t *testing.T) {
	store := centerFixture(t)
	rec := newTestRecorder(t, store, ModelCenter)

	sub, err := Decode(VariantB, []byte(`{
		"userId": "USR-002",
		"appointmentId": "APT-2024-002",
		"testType": "DESTREZA_INDIVIDUAL",
		"result": {"faults": 1},
		"notes": "leve",
		"performedAt": "2024-03-01T08:00:00.000Z",
		"startPcMac": "A1B2C3D4E5F6",
		"endPcMac": "001122334455"
	}`))
	require.NoError(t, err)

	ctx := context.Background()
	got, err := rec.Submit(ctx, sub)
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "leve", *got.Notes)
	assert.Equal(t, "2024-03-01T08:00:00.000Z", got.PerformedAt)
	assert.Equal(t, "2024-03-01T10:30:00.000Z", got.CreatedAt)

	stored, ok, err := store.FindOne(ctx, docstore.TestResults, docstore.Where("test_result_id", got.TestResultID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A1B2C3D4E5F6", stored.String("start_pc_mac"))
	assert.Equal(t, "001122334455", stored.String("end_pc_mac"))

	camel := got.Camel()
	require.NotNil(t, camel.EndPcMac)
	assert.Equal(t, "001122334455", *camel.EndPcMac)
}

func TestSubmitRejectionLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := deviceFixture(t)
	pub := &capturePublisher{}
	rec := newTestRecorder(t, store, ModelDevice, WithPublisher(pub))

	values := validA("TEORICO")
	values[FieldUserID] = "USR-002"
	_, err := rec.Submit(ctx, mustNew(t, VariantA, values))
	assert.Equal(t, CodeAppointmentMismatch, asRejection(t, err).Code)

	n, err := store.Count(ctx, docstore.TestResults)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.events)

	// a rejection does not consume an identifier
	got, err := rec.Submit(ctx, mustNew(t, VariantA, validA("TEORICO")))
	require.NoError(t, err)
	assert.Equal(t, "TST-2024-001", got.TestResultID)
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	store := deviceFixture(t)
	pub := &capturePublisher{err: errors.New("broker down")}
	rec := newTestRecorder(t, store, ModelDevice, WithPublisher(pub))

	got, err := rec.Submit(context.Background(), mustNew(t, VariantA, validA("TEORICO")))
	require.NoError(t, err)
	assert.Equal(t, "TST-2024-001", got.TestResultID)
	assert.Len(t, pub.events, 1)
}

func TestSubmitReportsPersistFailure(t *testing.T) {
	ctx := context.Background()
	store, err := docstore.Open(ctx, brokenPersister{})
	require.NoError(t, err)
	require.NoError(t, store.Import(ctx, map[string][]docstore.Document{
		docstore.Appointments: {{"resource_mac": "A1B2C3D4E5F6", "users": []any{deviceUser("USR-001", "APT-2024-001")}}},
	}))
	stages := newStageCounter()
	rec := newTestRecorder(t, store, ModelDevice, WithObserver(stages))

	_, err = rec.Submit(ctx, mustNew(t, VariantA, validA("TEORICO")))
	require.Error(t, err)
	var rej *Rejection
	assert.False(t, errors.As(err, &rej))
	assert.Equal(t, 1, stages.get(StageFailed, ""))

	n, err := store.Count(ctx, docstore.TestResults)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitConcurrentSameKeyStoresOnce(t *testing.T) {
	ctx := context.Background()
	store := deviceFixture(t)
	rec := newTestRecorder(t, store, ModelDevice)

	const workers = 32
	sub := mustNew(t, VariantA, validA("TEORICO"))
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Submit(ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			var rej *Rejection
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &rej) && rej.Code == CodeDuplicate:
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, duplicates)
	n, err := store.Count(ctx, docstore.TestResults)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, rec.locks.size())
}

func TestSubmitMintsUniqueIdentifiers(t *testing.T) {
	ctx := context.Background()
	const users = 334

	list := make([]any, 0, users)
	for i := 1; i <= users; i++ {
		list = append(list, deviceUser(fmt.Sprintf("USR-%03d", i), fmt.Sprintf("APT-%03d", i)))
	}
	store := docstore.NewMemory()
	require.NoError(t, store.Import(ctx, map[string][]docstore.Document{
		docstore.Appointments: {{"resource_mac": "A1B2C3D4E5F6", "users": list}},
	}))
	rec := newTestRecorder(t, store, ModelDevice)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]bool)
		doc = make(map[model.DocumentID]bool)
	)
	var subs []Submission
	for i := 1; i <= users; i++ {
		for _, tt := range model.TestTypes {
			subs = append(subs, mustNew(t, VariantA, map[Field]any{
				FieldUserID:        fmt.Sprintf("USR-%03d", i),
				FieldAppointmentID: fmt.Sprintf("APT-%03d", i),
				FieldTestType:      string(tt),
				FieldResult:        map[string]any{"score": i},
			}))
		}
	}
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Submission) {
			defer wg.Done()
			got, err := rec.Submit(ctx, sub)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, ids[got.TestResultID], "duplicate id %s", got.TestResultID)
			ids[got.TestResultID] = true
			doc[got.ID] = true
		}(sub)
	}
	wg.Wait()

	assert.Len(t, ids, users*len(model.TestTypes))
	assert.Len(t, doc, users*len(model.TestTypes))
	assert.True(t, ids[FormatID(2024, 1002)])
}
