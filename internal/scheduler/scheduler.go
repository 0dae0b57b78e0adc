// Package scheduler реализует надёжную очередь фоновых задач с как минимум
// однократной доставкой, расписанием повторных попыток и обработкой
// окончательного исчерпания лимита.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avasiliev/proposal-system/internal/metrics"
)

// Job описывает выданную воркеру задачу вместе с накопленными метаданными попыток.
type Job struct {
	ID         int64
	Kind       string
	ProposalID int64
	Attempts   int
	LastError  string
}

// Store описывает контракт долговременного хранилища очереди задач.
type Store interface {
	EnqueueJob(ctx context.Context, kind string, proposalID int64) (int64, error)
	DequeueDueJobs(ctx context.Context, limit int, lease time.Duration) ([]Job, error)
	MarkJobDone(ctx context.Context, jobID int64) error
	MarkJobRetry(ctx context.Context, jobID int64, reason string, runAt time.Time) error
	MarkJobExhausted(ctx context.Context, jobID int64, reason string) error
}

// Result — исход одного выполнения задачи: успех либо запрос повторной попытки.
type Result struct {
	retry  bool
	reason string
}

// Done сообщает планировщику, что задача выполнена и повторять её не нужно.
func Done() Result {
	return Result{}
}

// Retry сообщает планировщику, что выполнение не удалось и задачу нужно
// повторить позже; reason попадает в метаданные задачи и в итоговый текст
// ошибки при исчерпании лимита.
func Retry(reason string) Result {
	return Result{retry: true, reason: reason}
}

// NeedsRetry сообщает, требуется ли повторная попытка.
func (r Result) NeedsRetry() bool { return r.retry }

// Reason возвращает причину неудачи последней попытки.
func (r Result) Reason() string { return r.reason }

// Handler описывает обработчик задач одного вида.
type Handler interface {
	// Kind возвращает уникальное имя вида задач.
	Kind() string
	// MaxAttempts возвращает лимит попыток выполнения.
	MaxAttempts() int
	// BackoffSchedule возвращает расписание задержек между попытками;
	// последнее значение применяется ко всем последующим попыткам.
	BackoffSchedule() []time.Duration
	// Execute выполняет одну попытку обработки заявки.
	Execute(ctx context.Context, proposalID int64) Result
	// Exhausted вызывается планировщиком после исчерпания лимита попыток.
	// Это единственное место, из которого фиксируется окончательный провал.
	Exhausted(ctx context.Context, proposalID int64, lastReason string)
}

// Scheduler выдаёт созревшие задачи пулу воркеров и фиксирует их исход.
type Scheduler struct {
	store    Store
	logger   *zap.Logger
	handlers map[string]Handler

	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	batchSize    int
}

// Option настраивает планировщик.
type Option func(*Scheduler)

// WithConcurrency задаёт число воркеров.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPollInterval задаёт период опроса очереди воркером.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLease задаёт время удержания выданной задачи: по его истечении
// неподтверждённая задача выдаётся повторно.
func WithLease(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithBatchSize задаёт максимальное число задач, выбираемых за один опрос.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New создаёт планировщик поверх указанного хранилища очереди.
func New(store Store, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		logger:       logger,
		handlers:     make(map[string]Handler),
		concurrency:  4,
		pollInterval: time.Second,
		lease:        time.Minute,
		batchSize:    10,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register регистрирует обработчик вида задач. Вызывается до Run.
func (s *Scheduler) Register(h Handler) {
	s.handlers[h.Kind()] = h
}

// Enqueue ставит задачу указанного вида в очередь.
func (s *Scheduler) Enqueue(ctx context.Context, kind string, proposalID int64) error {
	if _, ok := s.handlers[kind]; !ok {
		return fmt.Errorf("unknown job kind: %s", kind)
	}
	if _, err := s.store.EnqueueJob(ctx, kind, proposalID); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// Run запускает пул воркеров и блокируется до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processBatch(ctx)
		}
	}
}

func (s *Scheduler) processBatch(ctx context.Context) {
	jobs, err := s.store.DequeueDueJobs(ctx, s.batchSize, s.lease)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("dequeue jobs", zap.Error(err))
		}
		return
	}

	for _, j := range jobs {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, j)
	}
}

// process выполняет одну попытку задачи и фиксирует её исход в хранилище.
func (s *Scheduler) process(ctx context.Context, j Job) {
	h, ok := s.handlers[j.Kind]
	if !ok {
		s.logger.Error("no handler registered for job kind, dropping job",
			zap.String("kind", j.Kind),
			zap.Int64("jobID", j.ID),
		)
		if err := s.store.MarkJobExhausted(ctx, j.ID, "no handler registered"); err != nil {
			s.logger.Error("mark job exhausted", zap.Int64("jobID", j.ID), zap.Error(err))
		}
		return
	}

	start := time.Now()
	res := s.execute(ctx, h, j)
	metrics.JobDuration.WithLabelValues(j.Kind).Observe(time.Since(start).Seconds())

	if !res.NeedsRetry() {
		metrics.JobsCompleted.WithLabelValues(j.Kind).Inc()
		if err := s.store.MarkJobDone(ctx, j.ID); err != nil {
			s.logger.Error("mark job done", zap.Int64("jobID", j.ID), zap.Error(err))
		}
		return
	}

	attempts := j.Attempts + 1
	if attempts >= h.MaxAttempts() {
		metrics.JobsExhausted.WithLabelValues(j.Kind).Inc()
		// Хук вызывается до пометки задачи: при сбое между этими шагами
		// задача будет выдана повторно, а повторный вызов хука безопасен,
		// так как запись терминального статуса идемпотентна.
		h.Exhausted(ctx, j.ProposalID, res.Reason())
		if err := s.store.MarkJobExhausted(ctx, j.ID, res.Reason()); err != nil {
			s.logger.Error("mark job exhausted", zap.Int64("jobID", j.ID), zap.Error(err))
		}
		return
	}

	metrics.JobRetries.WithLabelValues(j.Kind).Inc()
	delay := backoffDelay(h.BackoffSchedule(), attempts)
	if err := s.store.MarkJobRetry(ctx, j.ID, res.Reason(), time.Now().Add(delay)); err != nil {
		s.logger.Error("mark job retry", zap.Int64("jobID", j.ID), zap.Error(err))
		return
	}

	s.logger.Warn("job failed, retry scheduled",
		zap.String("kind", j.Kind),
		zap.Int64("jobID", j.ID),
		zap.Int64("proposalID", j.ProposalID),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
		zap.String("reason", res.Reason()),
	)
}

// execute изолирует панику обработчика: сбой одной заявки не должен
// останавливать воркер и влиять на другие заявки.
func (s *Scheduler) execute(ctx context.Context, h Handler, j Job) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("job handler panicked",
				zap.String("kind", j.Kind),
				zap.Int64("jobID", j.ID),
				zap.Any("panic", p),
			)
			res = Retry(fmt.Sprintf("panic: %v", p))
		}
	}()

	return h.Execute(ctx, j.ProposalID)
}

// backoffDelay возвращает задержку перед попыткой attempt (нумерация с единицы).
func backoffDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}

	return schedule[idx]
}
