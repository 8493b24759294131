package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/objectstore"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/services"
)

// consumeErrorBackoff spaces out retries when the queue itself is failing,
// so a broken store does not turn the pool into a busy loop.
const consumeErrorBackoff = time.Second

// Converter turns one episode tree into committed dataset output.
// *pipeline.Pipeline satisfies it.
type Converter interface {
	Convert(ctx context.Context, root string, task *queue.ConversionTask) (pipeline.Summary, error)
}

// Pool owns the worker slots. Start launches them; Stop interrupts idle
// polling and waits for in-flight tasks to finish. Only cancellation of the
// context passed to Start interrupts a task mid-conversion.
type Pool struct {
	cfg     *config.Config
	tasks   *queue.TaskQueue
	convert Converter
	client  objectstore.Client
	log     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool wires a pool against the queue and converter. client may be nil
// when only local-source tasks are expected; remote tasks then fail with a
// configuration error instead of panicking.
func NewPool(cfg *config.Config, tasks *queue.TaskQueue, converter Converter, client objectstore.Client, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		tasks:   tasks,
		convert: converter,
		client:  client,
		log:     logging.NewComponentLogger(logger, "worker"),
	}
}

// Start launches the configured number of slots. The given context bounds
// the lifetime of in-flight tasks: cancel it to hard-interrupt conversions,
// call Stop to let them drain.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return services.Wrap(services.ErrConfiguration, "worker", "start", "pool already running", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	count := p.cfg.Worker.Count
	if count < 1 {
		count = 1
	}
	p.wg.Add(count)
	for slot := 1; slot <= count; slot++ {
		go p.run(ctx, loopCtx, slot)
	}
	p.log.Info("worker pool started", logging.Args(logging.Int("slots", count))...)
	return nil
}

// Stop halts polling and blocks until every slot has exited. Tasks already
// consumed keep running to completion unless the Start context dies first.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// run is one slot. loopCtx stops the polling loop on Stop; taskCtx only dies
// with the daemon, so a graceful stop lets the current task finish.
func (p *Pool) run(taskCtx, loopCtx context.Context, slot int) {
	defer p.wg.Done()
	log := p.log.With(logging.Int(logging.FieldWorkerID, slot))
	log.Debug("worker slot started")

	idle := 0
	for {
		select {
		case <-loopCtx.Done():
			log.Debug("worker slot stopped")
			return
		default:
		}

		task, err := p.tasks.Consume(loopCtx, p.cfg.ConsumeTimeout())
		if err != nil {
			if loopCtx.Err() != nil {
				return
			}
			log.Error("consume task", logging.Args(logging.Error(err))...)
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(consumeErrorBackoff):
			}
			continue
		}
		if task == nil {
			idle++
			if every := p.cfg.Worker.ConsumeIdleLogEvery; every > 0 && idle%every == 0 {
				log.Debug("queue idle", logging.Args(logging.Int("polls", idle))...)
			}
			continue
		}

		idle = 0
		if err := p.process(taskCtx, slot, task); err != nil {
			// Only shutdown interruptions propagate; the task has
			// already been requeued.
			return
		}
	}
}
