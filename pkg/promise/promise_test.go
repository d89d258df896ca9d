package promise

import (
	"testing"

	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReactivator struct {
	reactivated []types.WorkerId
	err         error
}

func (f *fakeReactivator) Reactivate(id types.WorkerId) error {
	f.reactivated = append(f.reactivated, id)
	return f.err
}

func newTestPromiseId() types.PromiseId {
	return types.PromiseId{
		WorkerId:   types.WorkerId{TemplateId: types.TemplateId(uuid.New()), WorkerName: "w1"},
		OplogIndex: 5,
	}
}

func newStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAwaitPromiseSuspendsWhenPending(t *testing.T) {
	store := newStore(t)
	reactivator := &fakeReactivator{}
	svc := NewService(store, reactivator)
	id := newTestPromiseId()

	require.NoError(t, svc.Create(id))

	outcome, err := svc.AwaitPromise(id)
	require.NoError(t, err)
	assert.True(t, outcome.Suspended)
	assert.Nil(t, outcome.Value)
}

func TestAwaitPromiseReturnsValueWhenCompleted(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, &fakeReactivator{})
	id := newTestPromiseId()

	require.NoError(t, svc.Create(id))
	completed, err := svc.Complete(id, []byte("answer"))
	require.NoError(t, err)
	assert.True(t, completed)

	outcome, err := svc.AwaitPromise(id)
	require.NoError(t, err)
	assert.False(t, outcome.Suspended)
	assert.Equal(t, []byte("answer"), outcome.Value)
}

func TestCompleteReactivatesExactlyOnce(t *testing.T) {
	store := newStore(t)
	reactivator := &fakeReactivator{}
	svc := NewService(store, reactivator)
	id := newTestPromiseId()
	require.NoError(t, svc.Create(id))

	completed1, err := svc.Complete(id, []byte("first"))
	require.NoError(t, err)
	assert.True(t, completed1)

	completed2, err := svc.Complete(id, []byte("second"))
	require.NoError(t, err)
	assert.False(t, completed2, "double complete must not win the CAS")

	assert.Equal(t, []types.WorkerId{id.WorkerId}, reactivator.reactivated)
}

func TestValidateReactivationTargetRejectsTerminalStatus(t *testing.T) {
	assert.NoError(t, ValidateReactivationTarget(types.WorkerStatusSuspended))
	assert.NoError(t, ValidateReactivationTarget(types.WorkerStatusInterrupted))
	assert.Error(t, ValidateReactivationTarget(types.WorkerStatusExited))
	assert.Error(t, ValidateReactivationTarget(types.WorkerStatusFailed))
}
