// Package worker runs tasks sequentially on a background goroutine fed by a
// bounded queue.
package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type TaskStop struct{}

type Task interface{}

type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

// Start launches the loop. Tasks are handed to handler one at a time until
// Stop is called.
func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for task := range w.receiver {
			if _, ok := task.(TaskStop); ok {
				return
			}
			w.handle(handler, task)
		}
	}()
}

func (w *Worker) handle(handler TaskHandler, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", zap.String("worker", w.name), zap.Reflect("panic", r))
		}
	}()
	handler.Handle(task)
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Schedule enqueues t without blocking. It reports false and drops the task
// when the queue is full.
func (w *Worker) Schedule(t Task) bool {
	select {
	case w.sender <- t:
		return true
	default:
		log.Warn("task queue full, dropping task", zap.String("worker", w.name))
		return false
	}
}

// Stop asks the loop to exit after draining the tasks queued before it.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	return NewWorkerWithCapacity(name, defaultWorkerCapacity, wg)
}

func NewWorkerWithCapacity(name string, capacity int, wg *sync.WaitGroup) *Worker {
	if capacity <= 0 {
		capacity = defaultWorkerCapacity
	}
	ch := make(chan Task, capacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
