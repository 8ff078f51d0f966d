package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/queue"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/redis"
	"github.com/nimasrn/drone-dispatch/pkg/worker"
)

const (
	ProcessingTimeout = 5 * time.Second
	ReportInterval    = 30 * time.Second
	ShutdownTimeout   = 30 * time.Second
	highLagThreshold  = 10_000
)

// Processor handles one queue message.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type Config struct {
	Queue     queue.Config
	Consumers int
	Workers   int
	// ReportInterval of zero disables the periodic report and health check.
	ReportInterval time.Duration
}

// Service runs queue consumers that hand messages to a worker pool and wait
// for the outcome, so acks follow the processor's result.
type Service struct {
	adapter   redis.RedisAdapter
	config    Config
	processor Processor
	queues    []*queue.Queue
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewService(adapter redis.RedisAdapter, config Config, processor Processor) *Service {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(config.Workers*4, config.Workers, nil),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Metrics() *ServiceMetrics { return s.metrics }

func (s *Service) Start(ctx context.Context) error {
	if s.processor == nil {
		return errors.New("processor is not set")
	}
	logger.Info("starting processor service", "type", s.processor.GetType(), "consumers", s.config.Consumers, "workers", s.config.Workers)

	s.worker.SetWorker(s.handleJob)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil && !errors.Is(err, worker.ErrWorkersTerminated) {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	base := s.config.Queue.ConsumerName
	if base == "" {
		base = s.processor.GetType()
	}
	for i := 0; i < s.config.Consumers; i++ {
		cfg := s.config.Queue
		cfg.ConsumerName = fmt.Sprintf("%s-%d", base, i)

		q, err := queue.New(ctx, s.adapter, cfg)
		if err != nil {
			return fmt.Errorf("create consumer %d: %w", i, err)
		}
		if err := q.Consume(s.dispatch); err != nil {
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	if s.config.ReportInterval > 0 {
		s.wg.Add(1)
		go s.reporter()
	}
	return nil
}

type job struct {
	ctx    context.Context
	msg    *queue.Message
	result chan error
}

// dispatch blocks the consumer until a worker processed the message.
func (s *Service) dispatch(ctx context.Context, msg *queue.Message) error {
	jctx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	j := &job{ctx: jctx, msg: msg, result: make(chan error, 1)}
	if !s.worker.Enqueue(j) {
		return errors.New("worker pool stopped")
	}

	select {
	case err := <-j.result:
		if errors.Is(err, ErrUnprocessable) {
			logger.Warn("dropping unprocessable message", "id", msg.ID, "error", err)
			return nil
		}
		return err
	case <-jctx.Done():
		return fmt.Errorf("waiting for worker: %w", jctx.Err())
	}
}

func (s *Service) handleJob(workerIndex int, v interface{}) {
	j, ok := v.(*job)
	if !ok {
		logger.Error("invalid job type", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		j.result <- j.ctx.Err()
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.msg)
	switch {
	case err == nil:
		s.metrics.RecordDelivered(time.Since(start))
	case errors.Is(err, ErrUnprocessable):
		s.metrics.RecordSkipped()
	default:
		s.metrics.RecordFailure()
		logger.Warn("processing failed", "worker", workerIndex, "id", j.msg.ID, "error", err)
	}
	j.result <- err
}

func (s *Service) reporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.report()
			s.healthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) report() {
	m := s.metrics.Snapshot()
	logger.Info("processor metrics",
		"delivered", m.Delivered,
		"failed", m.Failed,
		"skipped", m.Skipped,
		"rate_per_second", m.RatePerSecond,
		"avg_duration_ms", m.AvgDuration.Milliseconds(),
		"backlog", s.worker.GetUnreadCount(),
		"uptime", m.Uptime.String())
}

func (s *Service) healthCheck() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("processor health check failed: redis unreachable", "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	stats, err := s.queues[0].Stats(ctx)
	if err != nil {
		logger.Warn("queue stats unavailable", "error", err)
		return
	}
	if stats.PendingMessages > highLagThreshold {
		logger.Warn("notification queue lagging", "pending", stats.PendingMessages, "dead_letters", stats.DeadLetters)
	}
}

// Stop drains the consumers first, then the worker pool.
func (s *Service) Stop() {
	logger.Info("shutting down processor service")
	s.cancel()

	var wg sync.WaitGroup
	for i, q := range s.queues {
		wg.Add(1)
		go func(index int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping consumer", "consumer", index, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.worker.Exit()
	s.wg.Wait()
	s.report()
	logger.Info("processor service stopped")
}
