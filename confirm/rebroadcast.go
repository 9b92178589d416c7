package confirm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pilacorp/go-ledger-sdk/transaction"
)

// BroadcastResult is the node's answer to a broadcast.
type BroadcastResult struct {
	TransactionID    string
	PeersBroadcasted int
}

// Broadcaster hands an encoded transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, encoded string) (*BroadcastResult, error)
}

// TransactionBuilder signs transfers. *transaction.Builder implements it.
type TransactionBuilder interface {
	Build(ctx context.Context, req transaction.TransferRequest) (*transaction.Transaction, error)
}

var _ TransactionBuilder = (*transaction.Builder)(nil)

// Result is the outcome of sending one transaction.
type Result struct {
	Transaction *transaction.Transaction
	Broadcast   *BroadcastResult
	Attempt     *Attempt
}

// Sender runs the single flow of building, broadcasting and waiting.
type Sender struct {
	builder     TransactionBuilder
	broadcaster Broadcaster
	watcher     *Watcher
}

// NewSender returns a Sender.
func NewSender(b TransactionBuilder, bc Broadcaster, w *Watcher) *Sender {
	return &Sender{builder: b, broadcaster: bc, watcher: w}
}

// Send builds req, broadcasts it and waits for confirmation. The Result is
// returned alongside Wait's error once the broadcast went out.
func (s *Sender) Send(ctx context.Context, req transaction.TransferRequest) (*Result, error) {
	return s.send(ctx, req, "")
}

func (s *Sender) send(ctx context.Context, req transaction.TransferRequest, previousID string) (*Result, error) {
	tx, err := s.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	br, err := s.broadcaster.Broadcast(ctx, tx.Encoded)
	if err != nil {
		return &Result{Transaction: tx}, errors.Wrapf(err, "broadcast %s", tx.ID)
	}
	if br != nil && br.TransactionID != "" && br.TransactionID != tx.ID {
		s.watcher.logger.Warn("node reported a different transaction id",
			zap.String("tx_id", tx.ID), zap.String("node_tx_id", br.TransactionID))
	}

	a := &Attempt{
		TransactionID: tx.ID,
		TargetTick:    tx.Tick,
		Source:        tx.Source,
		Destination:   tx.Destination,
		Amount:        tx.Amount,
		PreviousID:    previousID,
	}
	a, err = s.watcher.run(ctx, a)
	return &Result{Transaction: tx, Broadcast: br, Attempt: a}, err
}

// Offer is a rebroadcast the caller may accept.
type Offer struct {
	Previous      *Attempt
	CurrentTick   uint32
	NewTargetTick uint32
}

// Rebroadcaster re-signs a timed out transfer for a later tick. It only acts
// when asked.
type Rebroadcaster struct {
	sender *Sender
}

// NewRebroadcaster returns a Rebroadcaster that sends through s.
func NewRebroadcaster(s *Sender) *Rebroadcaster {
	return &Rebroadcaster{sender: s}
}

// Offer checks prev against the safety margin and computes the new target
// tick. It fails with ErrRebroadcastNotAllowed while the original could still
// land.
func (r *Rebroadcaster) Offer(ctx context.Context, prev *Attempt) (*Offer, error) {
	w := r.sender.watcher
	if !w.CanRebroadcast(prev) {
		if prev == nil {
			return nil, errors.Wrap(ErrRebroadcastNotAllowed, "no attempt")
		}
		return nil, errors.Wrapf(ErrRebroadcastNotAllowed,
			"%s is %s, last observed tick %d, target %d, margin %d",
			prev.TransactionID, prev.Status, prev.LastObservedTick, prev.TargetTick, w.safetyMargin)
	}

	current := prev.LastObservedTick
	info, err := w.ticks.CurrentTick(ctx)
	if err != nil {
		w.logger.Warn("failed to read current tick, using last observed",
			zap.String("tx_id", prev.TransactionID), zap.Error(err))
	} else if info != nil {
		current = info.Tick
	}

	return &Offer{
		Previous:      prev,
		CurrentTick:   current,
		NewTargetTick: NextTargetTick(current, prev.LastObservedTick, w.rebroadcastOffset),
	}, nil
}

// Rebroadcast signs req at the offer's tick, broadcasts it and waits on the
// new transaction id.
func (r *Rebroadcaster) Rebroadcast(ctx context.Context, offer *Offer, req transaction.TransferRequest) (*Result, error) {
	if offer == nil || !r.sender.watcher.CanRebroadcast(offer.Previous) {
		return nil, errors.Wrap(ErrRebroadcastNotAllowed, "no accepted offer")
	}
	prev := offer.Previous
	if !strings.EqualFold(strings.TrimSpace(req.Destination), prev.Destination) || req.Amount != prev.Amount {
		return nil, errors.Wrapf(ErrRebroadcastNotAllowed,
			"request does not repeat transfer %s", prev.TransactionID)
	}
	if req.ExpectedSource == "" {
		req.ExpectedSource = prev.Source
	} else if !strings.EqualFold(strings.TrimSpace(req.ExpectedSource), prev.Source) {
		return nil, errors.Wrapf(ErrRebroadcastNotAllowed,
			"sender differs from transfer %s", prev.TransactionID)
	}

	req.Tick = offer.NewTargetTick
	r.sender.watcher.logger.Info("rebroadcasting transfer",
		zap.String("previous_tx_id", offer.Previous.TransactionID),
		zap.Uint32("tick", req.Tick))

	return r.sender.send(ctx, req, offer.Previous.TransactionID)
}
