package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"mediastream/internal/metrics"
)

// Synchronizer collapses concurrent calls for the same key into one
// execution. The entry for a key lives only while its call is running, so a
// call made after the previous one settled runs again.
//
// The shared function runs with a context detached from any single caller:
// a caller that gives up returns ctx.Err() without failing the others.
type Synchronizer[K comparable, R any] struct {
	group   singleflight.Group
	keyOf   func(K) string
	kind    string
	timeout time.Duration
}

// NewSynchronizer builds a Synchronizer. keyOf must map distinct keys to
// distinct strings; nil uses fmt.Sprint. timeout bounds the shared call
// (0 = unbounded).
func NewSynchronizer[K comparable, R any](kind string, keyOf func(K) string, timeout time.Duration) *Synchronizer[K, R] {
	if keyOf == nil {
		keyOf = func(k K) string { return fmt.Sprint(k) }
	}
	return &Synchronizer[K, R]{keyOf: keyOf, kind: kind, timeout: timeout}
}

func (s *Synchronizer[K, R]) PerformRequest(ctx context.Context, key K, fn func(context.Context) (R, error)) (R, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(s.keyOf(key), func() (v interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("synchronized %s call panicked: %v", s.kind, rec)
			}
		}()
		callCtx := detached
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(detached, s.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})

	var zero R
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.SingleFlightSharedTotal.WithLabelValues(s.kind).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(R)
		return v, nil
	}
}
