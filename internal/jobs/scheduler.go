package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires named maintenance tasks on cron specs. A task still
// running when its next tick arrives is skipped, and a panicking task
// is logged instead of taking the server down.
type Scheduler struct {
	cron  *cron.Cron
	log   *zap.Logger
	tasks map[string]cron.EntryID
}

// cronLog routes the cron library's own messages to zap.
type cronLog struct {
	sugar *zap.SugaredLogger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

func NewScheduler(log *zap.Logger) *Scheduler {
	l := cronLog{log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		log:   log,
		tasks: map[string]cron.EntryID{},
	}
}

// Add registers fn under name. Names are unique.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %q is already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return err
	}
	s.tasks[name] = id
	return nil
}

// Tasks lists the registered task names.
func (s *Scheduler) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// Next is the next run of the named task. It is zero until Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.tasks[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for name := range s.tasks {
		next, _ := s.Next(name)
		s.log.Info("task scheduled", zap.String("task", name), zap.Time("next_run", next))
	}
}

// Stop halts the ticks and waits up to grace for running tasks.
func (s *Scheduler) Stop(grace time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(grace):
		s.log.Warn("scheduled tasks still running at shutdown")
	}
}
