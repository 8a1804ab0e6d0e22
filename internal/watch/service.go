// Package watch runs checker passes on cron schedules, serves the operator
// API, and hot-reloads the target registry when its file changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/api"
	"github.com/JakeFAU/restockwatch/internal/checker"
	"github.com/JakeFAU/restockwatch/internal/stock"
	"github.com/JakeFAU/restockwatch/internal/targets"
)

// DefaultHistorySize bounds the run summaries kept for the API.
const DefaultHistorySize = 50

// RunFunc executes one pass of a mode over targets.
type RunFunc func(ctx context.Context, targets []stock.Target) (checker.Summary, error)

// Schedule binds a mode to a cron expression. Descriptors such as
// "@every 5m" are accepted.
type Schedule struct {
	Mode checker.Mode
	Spec string
}

// Config controls the watch service.
type Config struct {
	Schedules   []Schedule
	TargetsPath string
	HistorySize int
	// Server is optional; when set it is started with the service and shut
	// down when the service stops.
	Server *http.Server
}

// Service owns the scheduler and the live target registry. Runs are
// serialized because the passes share state and queue files.
type Service struct {
	cfg    Config
	logger *zap.Logger
	runs   map[checker.Mode]RunFunc

	registry atomic.Pointer[targets.Registry]

	runMu   sync.Mutex
	mu      sync.Mutex
	running map[checker.Mode]bool
	history []checker.Summary

	baseCtx context.Context
	wg      sync.WaitGroup
	cron    *cron.Cron
}

// New validates schedules and returns a stopped Service.
func New(cfg Config, reg *targets.Registry, runs map[checker.Mode]RunFunc, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		return nil, errors.New("watch requires a target registry")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	s := &Service{
		cfg:     cfg,
		logger:  logger,
		runs:    runs,
		running: make(map[checker.Mode]bool),
		baseCtx: context.Background(),
		cron:    cron.New(cron.WithLogger(cronLogger{logger: logger.Named("cron")})),
	}
	s.registry.Store(reg)
	for _, sched := range cfg.Schedules {
		if _, ok := runs[sched.Mode]; !ok {
			return nil, fmt.Errorf("schedule for %s has no runner", sched.Mode)
		}
		mode := sched.Mode
		if _, err := s.cron.AddFunc(sched.Spec, func() { s.scheduled(mode) }); err != nil {
			return nil, fmt.Errorf("parse %s schedule %q: %w", mode, sched.Spec, err)
		}
	}
	return s, nil
}

// Targets returns the live target list.
func (s *Service) Targets() []stock.Target {
	return s.registry.Load().All()
}

// Ready reports whether the service has a usable registry.
func (s *Service) Ready(context.Context) error {
	if s.registry.Load().Len() == 0 {
		return errors.New("no targets loaded")
	}
	return nil
}

// History returns completed run summaries, newest last.
func (s *Service) History() []checker.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]checker.Summary, len(s.history))
	copy(out, s.history)
	return out
}

// Trigger starts a run of mode in the background.
func (s *Service) Trigger(mode checker.Mode) error {
	run, ok := s.runs[mode]
	if !ok {
		return fmt.Errorf("%s: %w", mode, api.ErrModeUnavailable)
	}
	if !s.claim(mode) {
		return fmt.Errorf("%s: %w", mode, api.ErrRunInProgress)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.runContext(), mode, run)
	}()
	return nil
}

// RunOnce executes mode synchronously against the current registry.
func (s *Service) RunOnce(ctx context.Context, mode checker.Mode) (checker.Summary, error) {
	run, ok := s.runs[mode]
	if !ok {
		return checker.Summary{}, fmt.Errorf("%s: %w", mode, api.ErrModeUnavailable)
	}
	if !s.claim(mode) {
		return checker.Summary{}, fmt.Errorf("%s: %w", mode, api.ErrRunInProgress)
	}
	return s.execute(ctx, mode, run)
}

// Run starts the scheduler, the registry watcher and the optional HTTP
// server, then blocks until ctx is canceled and in-flight runs finish.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.cfg.TargetsPath != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchTargets(ctx)
		}()
	}

	serverErr := make(chan error, 1)
	if s.cfg.Server != nil {
		go func() {
			s.logger.Info("http server started", zap.String("addr", s.cfg.Server.Addr))
			if err := s.cfg.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
				cancel()
			}
		}()
	}

	s.cron.Start()
	s.logger.Info("watch started", zap.Int("schedules", len(s.cfg.Schedules)), zap.Int("targets", s.registry.Load().Len()))

	<-ctx.Done()
	s.logger.Info("shutdown initiated")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if s.cfg.Server != nil {
		if err := s.cfg.Server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("shutdown complete")

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (s *Service) scheduled(mode checker.Mode) {
	if err := s.Trigger(mode); err != nil {
		s.logger.Warn("scheduled run skipped", zap.String("mode", string(mode)), zap.Error(err))
	}
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Service) claim(mode checker.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[mode] {
		return false
	}
	s.running[mode] = true
	return true
}

func (s *Service) execute(ctx context.Context, mode checker.Mode, run RunFunc) (checker.Summary, error) {
	defer func() {
		s.mu.Lock()
		delete(s.running, mode)
		s.mu.Unlock()
	}()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if err := ctx.Err(); err != nil {
		return checker.Summary{}, fmt.Errorf("%s run canceled: %w", mode, err)
	}

	summary, err := run(ctx, s.Targets())
	if summary.Mode == "" {
		summary.Mode = mode
	}
	s.mu.Lock()
	s.history = append(s.history, summary)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]checker.Summary(nil), s.history[over:]...)
	}
	s.mu.Unlock()
	if err != nil {
		return summary, fmt.Errorf("%s run: %w", mode, err)
	}
	return summary, nil
}

type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
