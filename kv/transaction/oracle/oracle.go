// Package oracle provides the timestamps transactions start and commit at.
package oracle

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Oracle hands out timestamps. Successive calls on one oracle, from any goroutine, return strictly increasing values,
// and every client sharing a store must draw from the same oracle or from oracles that preserve that order.
type Oracle interface {
	GetTimestamp(ctx context.Context) (uint64, error)
}

// LocalOracle derives timestamps from a clock in milliseconds. When the clock stalls or steps back it keeps counting
// up from the last timestamp it returned, so it never repeats one.
type LocalOracle struct {
	clock clockwork.Clock
	last  atomic.Uint64
}

func NewLocalOracle(clock clockwork.Clock) *LocalOracle {
	return &LocalOracle{clock: clock}
}

func (o *LocalOracle) GetTimestamp(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Trace(err)
	}
	now := ToTimestamp(o.clock.Now())
	for {
		last := o.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if o.last.CAS(last, next) {
			return next, nil
		}
	}
}

// ToTimestamp converts a wall clock time to the millisecond timestamp scale lock expiries are expressed in.
func ToTimestamp(t time.Time) uint64 {
	return uint64(t.UnixNano() / int64(time.Millisecond))
}

// FixedOracle returns the timestamps it was given, in order, then fails. Tests use it to pin start and commit
// timestamps.
type FixedOracle struct {
	ts   []uint64
	next atomic.Int64
}

func NewFixedOracle(ts ...uint64) *FixedOracle {
	return &FixedOracle{ts: ts}
}

func (o *FixedOracle) GetTimestamp(ctx context.Context) (uint64, error) {
	i := o.next.Inc() - 1
	if i >= int64(len(o.ts)) {
		return 0, errors.New("fixed oracle exhausted")
	}
	return o.ts[i], nil
}
