package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/haeinsa-go/haeinsa/kv/transaction/mvcc"
	"github.com/haeinsa-go/haeinsa/kv/util/worker"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
	"golang.org/x/time/rate"
)

// Sweeper walks the lock column family in the background and resolves expired locks nobody has run into yet, so
// rows written by crashed clients do not stay locked until their next reader.
type Sweeper struct {
	mgr      *Manager
	worker   *worker.Worker
	wg       *sync.WaitGroup
	limiter  *rate.Limiter
	interval time.Duration
	batch    int
	closeCh  chan struct{}

	// Where the next sweep resumes. Only touched by the sweeping goroutine.
	next []byte
}

type sweepTask struct{}

type sweepHandler struct {
	sweeper *Sweeper
}

func (h *sweepHandler) Handle(t worker.Task) {
	if _, ok := t.(sweepTask); !ok {
		log.Errorf("unexpected sweeper task %v", t)
		return
	}
	if _, err := h.sweeper.SweepOnce(context.Background()); err != nil {
		log.Warnf("sweep locks: %v", err)
	}
}

// NewSweeper creates a sweeper for the store of m, configured by sweep-interval, sweep-rate and sweep-batch.
func (m *Manager) NewSweeper() *Sweeper {
	wg := new(sync.WaitGroup)
	return &Sweeper{
		mgr:      m,
		worker:   worker.NewWorker("lock-sweeper", wg),
		wg:       wg,
		limiter:  rate.NewLimiter(rate.Limit(m.conf.SweepRate), 1),
		interval: m.conf.SweepInterval.Duration,
		batch:    m.conf.SweepBatch,
		closeCh:  make(chan struct{}),
	}
}

// Start runs a sweep every sweep-interval until Stop. It does nothing if the interval is zero.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		return
	}
	s.worker.Start(&sweepHandler{sweeper: s})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !s.worker.Schedule(sweepTask{}) {
					log.Debugf("lock sweeper is busy, skip a sweep")
				}
			case <-s.closeCh:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.interval <= 0 {
		return
	}
	close(s.closeCh)
	s.worker.Stop()
	s.wg.Wait()
}

// SweepOnce examines the next batch of locks and resolves the expired ones, returning how many it resolved. After
// the last lock it starts over from the beginning of the lock column family.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	reader, err := s.mgr.store.Reader(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	locks, next, err := mvcc.ScanLocks(&mvcc.RoTxn{Reader: reader}, s.next, s.batch)
	reader.Close()
	if err != nil {
		return 0, errors.Trace(err)
	}
	s.next = next

	resolved := 0
	for _, kl := range locks {
		sweepCounterScanned.Inc()
		if kl.Err != nil {
			sweepCounterFailed.Inc()
			log.Warnf("sweep: row %s: %v", kl.Key, kl.Err)
			continue
		}
		if !kl.Lock.IsExpired(s.mgr.now()) {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return resolved, errors.Trace(err)
		}
		// No transaction has timestamp zero, so no lock is mistaken for the sweeper's own.
		if err := s.mgr.recovery.Resolve(ctx, 0, kl.Key, kl.Lock); err != nil {
			sweepCounterFailed.Inc()
			log.Warnf("sweep: resolve %s: %v", kl.Key, err)
			continue
		}
		sweepCounterResolved.Inc()
		resolved++
	}
	if resolved > 0 {
		log.Infof("sweep: resolved %d expired locks", resolved)
	}
	return resolved, nil
}
