package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc - функция задачи обслуживания.
type JobFunc func(ctx context.Context) error

// JobID - идентификатор задачи в планировщике.
type JobID = cron.EntryID

// OverlapPolicy определяет, что делать, если предыдущий запуск задачи ещё идёт.
type OverlapPolicy int

const (
	// SkipIfRunning пропускает запуск (по умолчанию: обслуживание не копится).
	SkipIfRunning OverlapPolicy = iota
	// DelayIfRunning ждет завершения предыдущего запуска.
	DelayIfRunning
	// AllowOverlap разрешает параллельные запуски.
	AllowOverlap
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	case DelayIfRunning:
		return "delay"
	case AllowOverlap:
		return "allow"
	default:
		return "unknown"
	}
}

// JobOptions содержит опции задачи.
type JobOptions struct {
	// Name - имя задачи для логов и хуков.
	Name string
	// Timeout - максимальное время выполнения (необязательно).
	Timeout time.Duration
	// OverlapPolicy - политика перекрывающихся запусков.
	OverlapPolicy OverlapPolicy
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

type job struct {
	fn      JobFunc
	options JobOptions
	running sync.Mutex
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// Scheduler запускает задачи обслуживания базы по cron-расписанию.
// Расписания - стандартные пятипольные выражения и дескрипторы (@daily, @every 1h).
type Scheduler struct {
	cron      *cron.Cron
	logger    *slog.Logger
	hooks     JobHooks
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает планировщик, жизненный цикл которого ограничен parent.
func New(parent context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger: logger})),
		logger: logger,
		hooks:  cfg.JobHooks,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob регистрирует задачу по расписанию schedule.
func (s *Scheduler) AddJob(schedule string, fn JobFunc, opts JobOptions) (JobID, error) {
	if opts.Name == "" {
		opts.Name = "unnamed"
	}
	j := &job{fn: fn, options: opts}

	id, err := s.cron.AddFunc(schedule, func() { s.run(j) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q for job %s: %w", schedule, opts.Name, err)
	}

	s.logger.Info("job scheduled",
		"name", opts.Name,
		"schedule", schedule,
		"overlap_policy", opts.OverlapPolicy.String(),
		"id", id)
	return id, nil
}

// RemoveJob удаляет задачу по ID.
func (s *Scheduler) RemoveJob(id JobID) {
	s.cron.Remove(id)
	s.logger.Info("job removed", "id", id)
}

// Next возвращает время следующего запуска задачи; нулевое время, если задачи нет
// или планировщик не запущен.
func (s *Scheduler) Next(id JobID) time.Time {
	return s.cron.Entry(id).Next
}

// Start запускает планировщик. Повторный вызов ничего не делает.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()

		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения запущенных задач.
func (s *Scheduler) Stop() {
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext останавливает планировщик, ожидая задачи не дольше дедлайна ctx.
// При истечении дедлайна контекст задач уже отменён, и остановка дожидается их выхода.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, waiting for running jobs")
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning возвращает true, пока планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	return s.ctx.Err() == nil
}

// RunNow выполняет задачу немедленно с теми же правилами, что и по расписанию.
func (s *Scheduler) RunNow(fn JobFunc, opts JobOptions) {
	if opts.Name == "" {
		opts.Name = "unnamed"
	}
	s.run(&job{fn: fn, options: opts})
}

func (s *Scheduler) run(j *job) {
	name := j.options.Name

	switch j.options.OverlapPolicy {
	case SkipIfRunning:
		if !j.running.TryLock() {
			s.logger.Debug("skipping job, previous run still in progress", "name", name)
			return
		}
		defer j.running.Unlock()
	case DelayIfRunning:
		j.running.Lock()
		defer j.running.Unlock()
	}

	if s.ctx.Err() != nil {
		return
	}
	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(name)
	}

	ctx := s.ctx
	if j.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.options.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.call(ctx, j)
	duration := time.Since(start)

	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(name, duration, err)
	}
	if err != nil {
		s.logger.Error("job failed", "name", name, "error", err, "duration", duration)
		return
	}
	s.logger.Debug("job completed", "name", name, "duration", duration)
}

// call превращает панику задачи в ошибку.
func (s *Scheduler) call(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "name", j.options.Name, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(ctx)
}
