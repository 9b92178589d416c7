package journal

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ledger-sdk/confirm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := &confirm.Attempt{
		TransactionID:    "abc",
		TargetTick:       100,
		Attempts:         4,
		LastObservedTick: 104,
		Status:           confirm.TimedOut,
		Amount:           50,
		UpdatedAt:        time.Unix(10, 0).UTC(),
	}

	require.NoError(t, s.Record(ctx, a))
	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	a.Status = confirm.Confirmed
	require.NoError(t, s.Record(ctx, a))
	got, err = s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, confirm.Confirmed, got.Status)

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, s.Record(ctx, &confirm.Attempt{}))
}

func TestUnsettledAndDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	statuses := map[string]confirm.Status{
		"a": confirm.Waiting,
		"b": confirm.Confirmed,
		"c": confirm.TimedOut,
		"d": confirm.Failed,
	}
	i := 0
	for id, st := range statuses {
		i++
		require.NoError(t, s.Record(ctx, &confirm.Attempt{
			TransactionID: id, Status: st, UpdatedAt: time.Unix(int64(i), 0),
		}))
	}

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	open, err := s.Unsettled()
	require.NoError(t, err)
	ids := []string{}
	for _, a := range open {
		ids = append(ids, a.TransactionID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	open, err = s.Unsettled()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

type nodeStub struct{}

func (nodeStub) TransactionByID(ctx context.Context, id string) (*confirm.ConfirmedTransaction, error) {
	return &confirm.ConfirmedTransaction{TransactionID: id, Tick: 77}, nil
}

func (nodeStub) CurrentTick(ctx context.Context) (*confirm.TickInfo, error) {
	return &confirm.TickInfo{Tick: 77}, nil
}

func TestWatcherRecordsIntoJournal(t *testing.T) {
	s := openStore(t)
	w := confirm.NewWatcher(nodeStub{}, nodeStub{}, confirm.WithRecorder(s))

	_, err := w.Wait(context.Background(), "tx", 70)
	require.NoError(t, err)

	got, err := s.Get("tx")
	require.NoError(t, err)
	assert.Equal(t, confirm.Confirmed, got.Status)
	assert.EqualValues(t, 77, got.ConfirmedTick)
	assert.False(t, got.UpdatedAt.IsZero())
}
