package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "pewdash/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("scheduler: unknown job")
	ErrBusy       = errors.New("scheduler: job already running")
)

const defaultTimeout = 30 * time.Second

type Config struct {
	Timezone string // IANA TZ for cron specs; empty means local
}

// Job is one registered unit of work.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error

	// RunAtStart triggers one run as soon as the scheduler starts.
	RunAtStart bool
}

// JobStatus is a point-in-time view of a job.
type JobStatus struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Running  bool      `json:"running"`
	Runs     uint64    `json:"runs"`
	Skipped  uint64    `json:"skipped"`
	Failures uint64    `json:"failures"`
	LastRun  time.Time `json:"lastRun,omitempty"`
	LastErr  string    `json:"lastError,omitempty"`
	Next     time.Time `json:"next,omitempty"`
}

type jobDef struct {
	Job
	spec    string
	entryID cron.EntryID

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*jobDef

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	return &Service{
		log: log,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*jobDef{},
	}
}

// Add registers j, replacing any job with the same name.
func (s *Service) Add(j Job) error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("name required")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s: run func required", j.Name)
	}
	ps, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	spec := ps.CronSpec()
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: invalid cron %q: %w", j.Name, spec, err)
	}
	if j.Timeout <= 0 {
		j.Timeout = defaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[j.Name]; ok && s.c != nil && old.entryID != 0 {
		s.c.Remove(old.entryID)
	}
	d := &jobDef{Job: j, spec: spec}
	s.defs[j.Name] = d
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return err
		}
	}
	s.log.Debug("job registered", logx.String("name", j.Name), logx.String("spec", spec), logx.Duration("timeout", j.Timeout))
	return nil
}

// Start begins triggering and fires RunAtStart jobs. Jobs stop when ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			return err
		}
	}
	s.c.Start()
	for _, d := range s.defs {
		if d.RunAtStart {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = s.run(d)
			}()
		}
	}
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
	return nil
}

// Stop halts triggering, cancels in-flight runs and waits for them until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunNow runs the named job synchronously with the caller's ctx bounding it.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runWith(ctx, d)
}

// RunAll runs every job concurrently and returns per-job errors keyed by name.
// Jobs already in flight report ErrBusy.
func (s *Service) RunAll(ctx context.Context) map[string]error {
	s.mu.Lock()
	defs := make([]*jobDef, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	s.mu.Unlock()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]error, len(defs))
	)
	for _, d := range defs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.runWith(ctx, d)
			mu.Lock()
			out[d.Name] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (s *Service) Snapshot() []JobStatus {
	s.mu.Lock()
	c := s.c
	out := make([]JobStatus, 0, len(s.defs))
	for _, d := range s.defs {
		d.mu.Lock()
		st := JobStatus{
			Name:     d.Name,
			Spec:     d.spec,
			Running:  d.running.Load(),
			Runs:     d.runs.Load(),
			Skipped:  d.skipped.Load(),
			Failures: d.failures.Load(),
			LastRun:  d.lastRun,
			LastErr:  d.lastErr,
		}
		d.mu.Unlock()
		if c != nil && d.entryID != 0 {
			st.Next = c.Entry(d.entryID).Next
		}
		out = append(out, st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) registerLocked(d *jobDef) error {
	id, err := s.c.AddFunc(d.spec, func() { _ = s.run(d) })
	if err != nil {
		return fmt.Errorf("job %s: %w", d.Name, err)
	}
	d.entryID = id
	return nil
}

// run is the cron trigger path, bound to the scheduler's lifetime.
func (s *Service) run(d *jobDef) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.runWith(ctx, d)
}

func (s *Service) runWith(parent context.Context, d *jobDef) (err error) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("job skipped; previous run still in flight", logx.String("name", d.Name))
		return ErrBusy
	}
	defer d.running.Store(false)

	ctx, cancel := context.WithTimeout(parent, d.Timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", d.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		d.runs.Add(1)
		d.mu.Lock()
		d.lastRun = start
		d.lastErr = ""
		if err != nil {
			d.lastErr = err.Error()
		}
		d.mu.Unlock()
		if err != nil {
			d.failures.Add(1)
			s.log.Warn("job failed", logx.String("name", d.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Trace("job done", logx.String("name", d.Name), logx.Duration("took", time.Since(start)))
	}()
	return d.Run(ctx)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
