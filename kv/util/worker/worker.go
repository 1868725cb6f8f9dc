package worker

import (
	"sync"

	"github.com/ngaut/log"
)

type TaskStop struct{}

type Task interface{}

// Worker runs tasks one at a time on a goroutine of its own, in the order they were sent.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to run code on the worker goroutine before the first task.
type Starter interface {
	Start()
}

// Stopper is implemented by handlers that need to release resources once the worker stopped.
type Stopper interface {
	Stop()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for task := range w.receiver {
			if _, ok := task.(TaskStop); ok {
				break
			}
			handler.Handle(task)
		}
		if s, ok := handler.(Stopper); ok {
			s.Stop()
		}
		log.Debugf("worker %s stopped", w.name)
	}()
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Schedule queues t unless the worker is saturated, and reports whether it did. Periodic tasks use it so a slow
// handler coalesces ticks instead of blocking the ticker.
func (w *Worker) Schedule(t Task) bool {
	select {
	case w.sender <- t:
		return true
	default:
		return false
	}
}

// Stop asks the worker to exit after the tasks already queued. Wait on the WaitGroup given to NewWorker to know
// when it did.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	return newWorker(name, wg, defaultWorkerCapacity)
}

func newWorker(name string, wg *sync.WaitGroup, capacity int) *Worker {
	ch := make(chan Task, capacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
