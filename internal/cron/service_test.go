package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
)

type fakeLock struct {
	held     map[string]bool
	acquired []string
}

type fakeJobLock struct {
	owner *fakeLock
	name  string
	mine  bool
}

func newFakeLocker() *fakeLock { return &fakeLock{held: map[string]bool{}} }

func (f *fakeLock) Lock(job string) Lock { return &fakeJobLock{owner: f, name: job} }

func (l *fakeJobLock) Acquire(context.Context) (bool, error) {
	if l.owner.held[l.name] {
		return false, nil
	}
	l.owner.held[l.name] = true
	l.owner.acquired = append(l.owner.acquired, l.name)
	l.mine = true
	return true, nil
}

func (l *fakeJobLock) Release(context.Context) error {
	if l.mine {
		delete(l.owner.held, l.name)
	}
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, registry *Registry, locker Locker, c *clock, m *metrics.CronJobMetrics) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Locker:   locker,
		Metrics:  m,
		Now:      c.Now,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	registry := NewRegistry(Entry{Job: success, Every: time.Hour}, Entry{Job: failure, Every: time.Hour})
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	service := newTestService(t, registry, newFakeLocker(), &clock{now: time.Now()}, m)

	err := service.runDue(context.Background())
	if err == nil || !strings.Contains(err.Error(), "fail: boom") {
		t.Fatalf("expected combined failure, got %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job once, got success=%d fail=%d", success.runs, failure.runs)
	}
	if got := counterValue(t, reg, "settlement_job_failure_total", "fail"); got != 1 {
		t.Fatalf("expected failure=1 for fail, got %f", got)
	}
	if got := counterValue(t, reg, "settlement_job_success_total", "success"); got != 1 {
		t.Fatalf("expected success=1 for success, got %f", got)
	}
}

func TestServiceHonoursPerJobInterval(t *testing.T) {
	hourly := &testJob{name: ReconcileJobName}
	daily := &testJob{name: ReportExportJobName}
	registry := NewRegistry(Entry{Job: hourly, Every: time.Hour}, Entry{Job: daily, Every: 24 * time.Hour})
	c := &clock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	service := newTestService(t, registry, newFakeLocker(), c, nil)
	ctx := context.Background()

	if err := service.runDue(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	c.now = c.now.Add(30 * time.Minute)
	if err := service.runDue(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if hourly.runs != 1 || daily.runs != 1 {
		t.Fatalf("nothing should be due after 30m, got hourly=%d daily=%d", hourly.runs, daily.runs)
	}

	c.now = c.now.Add(31 * time.Minute)
	if err := service.runDue(ctx); err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if hourly.runs != 2 || daily.runs != 1 {
		t.Fatalf("expected only the hourly job to rerun, got hourly=%d daily=%d", hourly.runs, daily.runs)
	}
}

func TestServiceSkipsJobHeldElsewhere(t *testing.T) {
	job := &testJob{name: OutboxRetentionJobName}
	locker := newFakeLocker()
	locker.held[OutboxRetentionJobName] = true
	service := newTestService(t, NewRegistry(Entry{Job: job, Every: time.Hour}), locker, &clock{now: time.Now()}, nil)

	if err := service.runDue(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
	if !locker.held[OutboxRetentionJobName] {
		t.Fatalf("lock owned by another worker must not be released")
	}
}

func TestServiceReleasesLockAfterRun(t *testing.T) {
	job := &testJob{name: ReconcileJobName}
	locker := newFakeLocker()
	service := newTestService(t, NewRegistry(Entry{Job: job, Every: time.Hour}), locker, &clock{now: time.Now()}, nil)

	if err := service.runDue(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(locker.acquired) != 1 || locker.acquired[0] != ReconcileJobName {
		t.Fatalf("unexpected locks %v", locker.acquired)
	}
	if locker.held[ReconcileJobName] {
		t.Fatalf("expected lock to be released")
	}
}

func TestNewServiceRequiresLocker(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test"})}); err == nil {
		t.Fatalf("expected error without locker")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
