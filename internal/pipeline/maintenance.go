package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/pkg/icron"
	"github.com/MimeLyc/vidsub/pkg/log"
)

// Purger drops stale entries from a cache. translator.Gateway implements it.
type Purger interface {
	PurgeStale(ctx context.Context) (int64, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context) (int64, error)

func (f PurgerFunc) PurgeStale(ctx context.Context) (int64, error) {
	return f(ctx)
}

type RunReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Purged     int64     `json:"purged"`
	Error      string    `json:"error,omitempty"`
}

type MaintenanceStatus struct {
	Trigger *icron.TriggerInfo `json:"trigger"`
	LastRun *RunReport         `json:"last_run,omitempty"`
}

// Maintenance runs the stale translation purge on a cron schedule. Runs never
// overlap; a manual run while a scheduled one is active joins it.
type Maintenance struct {
	purgers []Purger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	expr    string
	lastRun *RunReport

	flight singleflight.Group
}

func NewMaintenance(cronExpr string, purgers ...Purger) (*Maintenance, error) {
	m := &Maintenance{
		purgers: purgers,
		timeout: 5 * time.Minute,
		now:     time.Now,
		cron:    cron.New(),
	}
	if err := m.Reschedule(cronExpr); err != nil {
		return nil, err
	}
	return m, nil
}

// Reschedule replaces the active schedule. The old entry is kept when expr is invalid.
func (m *Maintenance) Reschedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return apperr.Wrap(err, apperr.ErrConfig, "invalid maintenance schedule").WithContext("cron", expr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if expr == m.expr && m.entry != 0 {
		return nil
	}
	id, err := m.cron.AddFunc(expr, m.scheduledRun)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfig, "schedule maintenance")
	}
	if m.entry != 0 {
		m.cron.Remove(m.entry)
	}
	m.entry = id
	m.expr = expr
	log.Info("Maintenance scheduled with %q", expr)
	return nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.RunNow(ctx); err != nil {
		log.Error("Scheduled maintenance failed: %v", err)
	}
}

// RunNow purges every cache once and records the outcome.
func (m *Maintenance) RunNow(ctx context.Context) (RunReport, error) {
	v, err, _ := m.flight.Do("purge", func() (any, error) {
		report := RunReport{StartedAt: m.now().UTC()}
		var errs []error
		for _, p := range m.purgers {
			n, err := p.PurgeStale(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			report.Purged += n
		}
		report.FinishedAt = m.now().UTC()
		joined := errors.Join(errs...)
		if joined != nil {
			report.Error = joined.Error()
		}

		m.mu.Lock()
		stored := report
		m.lastRun = &stored
		m.mu.Unlock()

		log.Info("Maintenance purged %d entries in %s", report.Purged, report.FinishedAt.Sub(report.StartedAt))
		return report, joined
	})
	report, _ := v.(RunReport)
	return report, err
}

func (m *Maintenance) Status() (MaintenanceStatus, error) {
	m.mu.Lock()
	expr := m.expr
	var last *RunReport
	if m.lastRun != nil {
		copied := *m.lastRun
		last = &copied
	}
	m.mu.Unlock()

	info, err := icron.GetTriggerInfo(expr, m.now())
	if err != nil {
		return MaintenanceStatus{}, apperr.Wrap(err, apperr.ErrConfig, "resolve maintenance schedule")
	}
	return MaintenanceStatus{Trigger: info, LastRun: last}, nil
}
