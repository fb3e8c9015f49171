// Package worker runs the channel-backed pool that drains Dispatcher and
// Sender tasks off the queue: parallel workers over a shared durable queue,
// one task at a time per worker, cooperative shutdown.
package worker

import (
	"context"
	"time"

	"github.com/arvancloud/sms-gateway/internal/queue"
	"go.uber.org/zap"
)

// DispatcherRunner executes one Dispatcher task.
type DispatcherRunner interface {
	Run(ctx context.Context, task queue.DispatchTask) error
}

// SenderRunner executes one Sender task.
type SenderRunner interface {
	Run(ctx context.Context, task queue.SendTask) error
}

// Pool drains dispatch and send tasks from the queue into two bounded
// channel-backed worker groups. When a group's channel is full the
// subscription handler blocks until a worker frees a slot, so incoming tasks
// wait in the queue client's pending buffer instead of being dropped.
type Pool struct {
	dispatcher DispatcherRunner
	sender     SenderRunner
	q          queue.TaskQueue
	log        *zap.Logger

	numDispatchWorkers int
	numSendWorkers     int
	taskTimeout        time.Duration

	dispatchCh chan queue.DispatchTask
	sendCh     chan queue.SendTask
}

// New builds a Pool. numDispatchWorkers/numSendWorkers size each group's
// goroutines; taskTimeout bounds how long a single task may run.
func New(dispatcher DispatcherRunner, sender SenderRunner, q queue.TaskQueue, numDispatchWorkers, numSendWorkers int, taskTimeout time.Duration, log *zap.Logger) *Pool {
	return &Pool{
		dispatcher:         dispatcher,
		sender:             sender,
		q:                  q,
		log:                log,
		numDispatchWorkers: numDispatchWorkers,
		numSendWorkers:     numSendWorkers,
		taskTimeout:        taskTimeout,
		dispatchCh:         make(chan queue.DispatchTask, 100),
		sendCh:             make(chan queue.SendTask, 100),
	}
}

// Start spins up the worker goroutines and subscribes to the queue.
func (p *Pool) Start() (func() error, error) {
	for i := 0; i < p.numDispatchWorkers; i++ {
		go p.runDispatchWorker(i)
	}
	for i := 0; i < p.numSendWorkers; i++ {
		go p.runSendWorker(i)
	}

	dispatchSub, err := p.q.SubscribeDispatch(func(task queue.DispatchTask) {
		p.dispatchCh <- task
	})
	if err != nil {
		return nil, err
	}

	sendSub, err := p.q.SubscribeSend(func(task queue.SendTask) {
		p.sendCh <- task
	})
	if err != nil {
		dispatchSub.Unsubscribe()
		return nil, err
	}

	unsubscribe := func() error {
		if err := dispatchSub.Unsubscribe(); err != nil {
			return err
		}
		return sendSub.Unsubscribe()
	}
	return unsubscribe, nil
}

// Shutdown closes both task channels and waits drainFor to let in-flight
// workers finish: stop pulling new work, drain in-flight, then exit.
func (p *Pool) Shutdown(drainFor time.Duration) {
	close(p.dispatchCh)
	close(p.sendCh)
	time.Sleep(drainFor)
}

func (p *Pool) runDispatchWorker(workerID int) {
	p.log.Info("dispatch worker started", zap.Int("worker_id", workerID))
	for task := range p.dispatchCh {
		ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
		if err := p.dispatcher.Run(ctx, task); err != nil {
			p.log.Error("dispatch worker failed to process task",
				zap.Int("worker_id", workerID),
				zap.String("message_id", task.MessageID),
				zap.Error(err))
		}
		cancel()
	}
	p.log.Info("dispatch worker stopped", zap.Int("worker_id", workerID))
}

func (p *Pool) runSendWorker(workerID int) {
	p.log.Info("send worker started", zap.Int("worker_id", workerID))
	for task := range p.sendCh {
		ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
		if err := p.sender.Run(ctx, task); err != nil {
			p.log.Error("send worker failed to process task",
				zap.Int("worker_id", workerID),
				zap.String("message_id", task.MessageID),
				zap.Error(err))
		}
		cancel()
	}
	p.log.Info("send worker stopped", zap.Int("worker_id", workerID))
}
