package confirm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ledger-sdk/identity"
	"github.com/pilacorp/go-ledger-sdk/signer/signertest"
	"github.com/pilacorp/go-ledger-sdk/transaction"
)

// fakeNode answers lookups from a script and reports a moving tick.
type fakeNode struct {
	mu        sync.Mutex
	confirmAt map[string]int // lookup number that succeeds, 0 = never
	lookups   map[string]int
	failWith  error
	tick      uint32
	tickStep  uint32
	tickErr   error
	broadcast []string
}

func newFakeNode(tick uint32) *fakeNode {
	return &fakeNode{confirmAt: map[string]int{}, lookups: map[string]int{}, tick: tick, tickStep: 1}
}

func (n *fakeNode) TransactionByID(ctx context.Context, id string) (*ConfirmedTransaction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lookups[id]++
	if n.failWith != nil {
		return nil, n.failWith
	}
	if at := n.confirmAt[id]; at > 0 && n.lookups[id] >= at {
		return &ConfirmedTransaction{TransactionID: id, Tick: n.tick}, nil
	}
	return nil, errors.Wrap(ErrNotFound, id)
}

func (n *fakeNode) CurrentTick(ctx context.Context) (*TickInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tickErr != nil {
		return nil, n.tickErr
	}
	n.tick += n.tickStep
	return &TickInfo{Tick: n.tick, Epoch: 1}, nil
}

func (n *fakeNode) Broadcast(ctx context.Context, encoded string) (*BroadcastResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, encoded)
	return &BroadcastResult{PeersBroadcasted: 3}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type memRecorder struct {
	mu     sync.Mutex
	states []Status
}

func (r *memRecorder) Record(ctx context.Context, a *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, a.Status)
	return nil
}

func TestWaitConfirmsOnThirdAttempt(t *testing.T) {
	node := newFakeNode(1000)
	node.confirmAt["tx"] = 3
	rec := &memRecorder{}
	w := NewWatcher(node, node, WithSleeper(noSleep), WithRecorder(rec))

	a, err := w.Wait(context.Background(), "tx", 1005)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, a.Status)
	assert.Equal(t, 3, a.Attempts)
	assert.EqualValues(t, 1002, a.ConfirmedTick)
	assert.EqualValues(t, 1001, a.InitialTick)
	assert.EqualValues(t, 1002, a.LastObservedTick)
	assert.Equal(t, []Status{Waiting, Waiting, Waiting, Confirmed}, rec.states)
}

func TestWaitTimesOut(t *testing.T) {
	node := newFakeNode(100)
	w := NewWatcher(node, node, WithSleeper(noSleep), WithMaxAttempts(4))

	a, err := w.Wait(context.Background(), "tx", 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, TimedOut, a.Status)
	assert.Equal(t, 4, a.Attempts)
	assert.EqualValues(t, 104, a.LastObservedTick)
	assert.True(t, w.CanRebroadcast(a))
}

func TestWaitFails(t *testing.T) {
	node := newFakeNode(100)
	node.failWith = errors.New("node returned 500")
	w := NewWatcher(node, node, WithSleeper(noSleep))

	a, err := w.Wait(context.Background(), "tx", 100)
	require.Error(t, err)

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "tx", fe.TransactionID)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, Failed, a.Status)
	assert.Equal(t, 1, a.Attempts)
	assert.Contains(t, a.Error, "500")
	assert.False(t, w.CanRebroadcast(a))
}

func TestWaitKeepsPollingWhenTickUnavailable(t *testing.T) {
	node := newFakeNode(100)
	node.tickErr = errors.New("tick endpoint down")
	node.confirmAt["tx"] = 2
	w := NewWatcher(node, node, WithSleeper(noSleep))

	a, err := w.Wait(context.Background(), "tx", 100)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, a.Status)
	assert.Zero(t, a.LastObservedTick)
}

func TestWaitCancelled(t *testing.T) {
	node := newFakeNode(100)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sleeper := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}
	w := NewWatcher(node, node, WithSleeper(sleeper))

	a, err := w.Wait(ctx, "tx", 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Waiting, a.Status)
	assert.Equal(t, 2, a.Attempts)
}

func TestWaitUsesInterval(t *testing.T) {
	node := newFakeNode(100)
	node.confirmAt["tx"] = 2
	w := NewWatcher(node, node, WithInterval(5*time.Millisecond))

	start := time.Now()
	_, err := w.Wait(context.Background(), "tx", 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestRebroadcastSafetyMargin(t *testing.T) {
	a := &Attempt{TargetTick: 100, Status: TimedOut}

	for _, last := range []uint32{0, 99, 100, 101, 102} {
		a.LastObservedTick = last
		assert.False(t, RebroadcastEligible(a, DefaultSafetyMargin), "last observed %d", last)
	}
	for _, last := range []uint32{103, 104, 500} {
		a.LastObservedTick = last
		assert.True(t, RebroadcastEligible(a, DefaultSafetyMargin), "last observed %d", last)
	}

	a.Status = Waiting
	assert.False(t, RebroadcastEligible(a, DefaultSafetyMargin))
	assert.False(t, RebroadcastEligible(nil, DefaultSafetyMargin))
}

func TestNextTargetTick(t *testing.T) {
	assert.EqualValues(t, 115, NextTargetTick(110, 104, 5))
	assert.EqualValues(t, 115, NextTargetTick(90, 110, 5))
}

func TestResume(t *testing.T) {
	node := newFakeNode(100)
	w := NewWatcher(node, node, WithSleeper(noSleep), WithMaxAttempts(2))

	a, err := w.Wait(context.Background(), "tx", 100)
	require.True(t, errors.Is(err, ErrTimeout))

	node.confirmAt["tx"] = 3
	a, err = w.Resume(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, a.Status)
	assert.Equal(t, 3, a.Attempts)
	assert.EqualValues(t, 101, a.InitialTick)

	_, err = w.Resume(context.Background(), a)
	assert.Error(t, err)
}

func TestWatchAll(t *testing.T) {
	node := newFakeNode(100)
	pending := make([]Pending, 6)
	for i := range pending {
		id := fmt.Sprintf("tx-%d", i)
		pending[i] = Pending{TransactionID: id, TargetTick: 100}
		if i%2 == 0 {
			node.confirmAt[id] = 2
		}
	}
	w := NewWatcher(node, node, WithSleeper(noSleep), WithMaxAttempts(3), WithConcurrency(2))

	out, err := w.WatchAll(context.Background(), pending)
	require.NoError(t, err)
	require.Len(t, out, len(pending))
	for i, a := range out {
		assert.Equal(t, pending[i].TransactionID, a.TransactionID)
		if i%2 == 0 {
			assert.Equal(t, Confirmed, a.Status)
		} else {
			assert.Equal(t, TimedOut, a.Status)
		}
	}
}

func TestStatusText(t *testing.T) {
	b, err := TimedOut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timed_out", string(b))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("confirmed")))
	assert.Equal(t, Confirmed, s)
	assert.Error(t, s.UnmarshalText([]byte("lost")))
}

var (
	testSeed     = strings.Repeat("b", 55)
	zeroIdentity = strings.Repeat("A", 56) + "FXIB"
)

func newSender(node *fakeNode, opts ...Option) (*Sender, *transaction.Builder) {
	fake := signertest.New()
	b := transaction.NewBuilder(identity.NewCodec(fake), fake)
	w := NewWatcher(node, node, append([]Option{WithSleeper(noSleep)}, opts...)...)
	return NewSender(b, node, w), b
}

func TestSendAndRebroadcast(t *testing.T) {
	node := newFakeNode(200)
	node.tickStep = 2
	s, b := newSender(node, WithMaxAttempts(3))
	req := transaction.TransferRequest{Seed: testSeed, Destination: zeroIdentity, Amount: 50, Tick: 201}

	res, err := s.Send(context.Background(), req)
	require.True(t, errors.Is(err, ErrTimeout))
	require.NotNil(t, res.Attempt)
	assert.Equal(t, TimedOut, res.Attempt.Status)
	assert.EqualValues(t, 206, res.Attempt.LastObservedTick)
	assert.Len(t, node.broadcast, 1)

	sent, err := b.DecodeBase64(node.broadcast[0])
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, sent.ID)

	r := NewRebroadcaster(s)
	offer, err := r.Offer(context.Background(), res.Attempt)
	require.NoError(t, err)
	assert.EqualValues(t, 208, offer.CurrentTick)
	assert.EqualValues(t, 213, offer.NewTargetTick)

	other := req
	other.Amount = 51
	_, err = r.Rebroadcast(context.Background(), offer, other)
	assert.True(t, errors.Is(err, ErrRebroadcastNotAllowed))

	other = req
	other.ExpectedSource = zeroIdentity
	_, err = r.Rebroadcast(context.Background(), offer, other)
	assert.True(t, errors.Is(err, ErrRebroadcastNotAllowed))
	assert.Len(t, node.broadcast, 1)

	req.Destination = strings.ToLower(zeroIdentity)
	res2, err := r.Rebroadcast(context.Background(), offer, req)
	require.True(t, errors.Is(err, ErrTimeout))
	assert.NotEqual(t, res.Transaction.ID, res2.Transaction.ID)
	assert.EqualValues(t, 213, res2.Transaction.Tick)
	assert.Equal(t, res.Transaction.ID, res2.Attempt.PreviousID)
	assert.Len(t, node.broadcast, 2)
}

func TestRebroadcastRefusedInsideMargin(t *testing.T) {
	node := newFakeNode(100)
	s, _ := newSender(node)
	r := NewRebroadcaster(s)

	_, err := r.Offer(context.Background(), &Attempt{TargetTick: 100, LastObservedTick: 102, Status: TimedOut})
	assert.True(t, errors.Is(err, ErrRebroadcastNotAllowed))

	_, err = r.Rebroadcast(context.Background(), nil, transaction.TransferRequest{})
	assert.True(t, errors.Is(err, ErrRebroadcastNotAllowed))
	assert.Empty(t, node.broadcast)
}

func TestSendValidationStopsBeforeBroadcast(t *testing.T) {
	node := newFakeNode(100)
	s, _ := newSender(node)

	res, err := s.Send(context.Background(), transaction.TransferRequest{Seed: testSeed, Destination: zeroIdentity, Amount: 0, Tick: 1})
	assert.True(t, errors.Is(err, transaction.ErrValidation))
	assert.Nil(t, res)
	assert.Empty(t, node.broadcast)
}
