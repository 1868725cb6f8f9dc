// Package lockwaiter lets readers blocked on a live row lock sleep until the transaction owning the lock finishes
// in this process, instead of polling the store.
package lockwaiter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/ngaut/log"
)

type Manager struct {
	mu            sync.Mutex
	waitingQueues map[uint64]*queue
}

func NewManager() *Manager {
	return &Manager{
		waitingQueues: map[uint64]*queue{},
	}
}

// KeyHash hashes an encoded row key. Waiters and wake-ups identify rows by hash only.
func KeyHash(key []byte) uint64 {
	return farm.Fingerprint64(key)
}

type queue struct {
	waiters []*Waiter
}

// getReadyWaiters returns the waiters blocked on one of keyHashes and the number left in the queue.
// It should be used under map lock protection.
func (q *queue) getReadyWaiters(keyHashes []uint64) (readyWaiters []*Waiter, remainSize int) {
	remainedWaiters := q.waiters[:0]
	for _, w := range q.waiters {
		if w.inKeys(keyHashes) {
			readyWaiters = append(readyWaiters, w)
		} else {
			remainedWaiters = append(remainedWaiters, w)
		}
	}
	q.waiters = remainedWaiters
	return readyWaiters, len(remainedWaiters)
}

// removeWaiter removes w from the queue. It should be used under map lock protection.
func (q *queue) removeWaiter(w *Waiter) {
	for i, waiter := range q.waiters {
		if waiter == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
}

type Waiter struct {
	timeout time.Duration
	ch      chan WaitResult
	StartTS uint64
	LockTS  uint64
	KeyHash uint64
}

type Position int

// WaitResult tells a waiter how the blocking transaction ended. CommitTS is zero when it rolled back.
type WaitResult struct {
	Position Position
	CommitTS uint64
}

const (
	WaitTimeout  Position = -1
	WaitCanceled Position = -2
)

// Wait blocks until the waiter is woken, its timeout passes or ctx is done.
func (w *Waiter) Wait(ctx context.Context) WaitResult {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case result := <-w.ch:
		return result
	case <-timer.C:
		return WaitResult{Position: WaitTimeout}
	case <-ctx.Done():
		return WaitResult{Position: WaitCanceled}
	}
}

func (w *Waiter) inKeys(keyHashes []uint64) bool {
	idx := sort.Search(len(keyHashes), func(i int) bool {
		return keyHashes[i] >= w.KeyHash
	})
	return idx < len(keyHashes) && keyHashes[idx] == w.KeyHash
}

// NewWaiter registers a waiter of transaction startTS on the row keyHash locked by transaction lockTS. Callers must
// Wait and then CleanUp the waiter.
func (lw *Manager) NewWaiter(startTS, lockTS, keyHash uint64, timeout time.Duration) *Waiter {
	waiter := &Waiter{
		timeout: timeout,
		ch:      make(chan WaitResult, 1),
		StartTS: startTS,
		LockTS:  lockTS,
		KeyHash: keyHash,
	}
	lw.mu.Lock()
	if q, ok := lw.waitingQueues[lockTS]; ok {
		q.waiters = append(q.waiters, waiter)
	} else {
		lw.waitingQueues[lockTS] = &queue{waiters: []*Waiter{waiter}}
	}
	lw.mu.Unlock()
	return waiter
}

// WakeUp wakes up the waiters blocked on the rows keyHashes of transaction txn, which finished at commitTS (zero for a
// rollback).
func (lw *Manager) WakeUp(txn, commitTS uint64, keyHashes []uint64) {
	var waiters []*Waiter
	lw.mu.Lock()
	if q := lw.waitingQueues[txn]; q != nil {
		sort.Slice(keyHashes, func(i, j int) bool {
			return keyHashes[i] < keyHashes[j]
		})
		var remainSize int
		waiters, remainSize = q.getReadyWaiters(keyHashes)
		if remainSize == 0 {
			delete(lw.waitingQueues, txn)
		}
	}
	lw.mu.Unlock()

	for i, w := range waiters {
		w.ch <- WaitResult{Position: Position(i), CommitTS: commitTS}
	}
	if len(waiters) > 0 {
		log.Debugf("wakeup %d txns blocked by txn %d, commitTS %d", len(waiters), txn, commitTS)
	}
}

// CleanUp removes a waiter that stopped waiting without being woken.
func (lw *Manager) CleanUp(w *Waiter) {
	lw.mu.Lock()
	if q := lw.waitingQueues[w.LockTS]; q != nil {
		q.removeWaiter(w)
		if len(q.waiters) == 0 {
			delete(lw.waitingQueues, w.LockTS)
		}
	}
	lw.mu.Unlock()
}

// Len returns the number of registered waiters.
func (lw *Manager) Len() int {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n := 0
	for _, q := range lw.waitingQueues {
		n += len(q.waiters)
	}
	return n
}
