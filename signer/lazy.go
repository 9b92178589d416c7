package signer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// InitFunc performs the one-time load of the native module and returns the
// ready capability.
type InitFunc func(ctx context.Context) (Capability, error)

// Lazy memoizes a Capability behind a one-time asynchronous initialization.
//
// The first Ready call starts init in the background; every caller, including
// the first, waits for it or for its own context. The outcome, failure
// included, is kept for the lifetime of the Lazy.
type Lazy struct {
	init InitFunc
	once sync.Once
	done chan struct{}
	cap  Capability
	err  error
}

// NewLazy returns a Lazy that will run init on first use.
func NewLazy(init InitFunc) *Lazy {
	return &Lazy{init: init, done: make(chan struct{})}
}

// Ready returns the capability once init has completed.
func (l *Lazy) Ready(ctx context.Context) (Capability, error) {
	l.once.Do(func() {
		// init outlives the caller that happened to trigger it
		initCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(l.done)
			l.cap, l.err = l.init(initCtx)
			if l.err == nil && l.cap == nil {
				l.err = errors.New("signer init returned no capability")
			}
		}()
	})

	select {
	case <-l.done:
		if l.err != nil {
			return nil, errors.Wrap(l.err, "signing capability unavailable")
		}
		return l.cap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemoteInit returns an InitFunc that waits for the remote backend to report
// healthy and composes it with the K12 hasher.
func RemoteInit(backend *RemoteBackend) InitFunc {
	return func(ctx context.Context) (Capability, error) {
		if err := backend.Health(ctx); err != nil {
			return nil, err
		}
		return Compose(K12Hasher{}, backend), nil
	}
}

// LocalInit returns an InitFunc composing the K12 hasher with an in-process
// key backend.
func LocalInit(kb KeyBackend) InitFunc {
	return func(context.Context) (Capability, error) {
		return Compose(K12Hasher{}, kb), nil
	}
}
