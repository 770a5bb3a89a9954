package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/cache"
	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/faults"
	"github.com/dropDatabas3/crmbridge/internal/health"
	"github.com/dropDatabas3/crmbridge/internal/memory"
	"github.com/dropDatabas3/crmbridge/internal/merge"
	"github.com/dropDatabas3/crmbridge/internal/rate"
	storemem "github.com/dropDatabas3/crmbridge/internal/store/memory"
	"github.com/dropDatabas3/crmbridge/internal/syncer"
	"github.com/dropDatabas3/crmbridge/internal/webhook"
)

type fakeCRM struct {
	mu       sync.Mutex
	pages    []repository.Page
	failures []error
	ping     time.Duration
	pingErr  error
}

func (f *fakeCRM) FetchPage(ctx context.Context, in repository.FetchPageInput) (repository.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return repository.Page{}, err
		}
	}
	idx := 0
	if in.Cursor != "" {
		fmt.Sscanf(in.Cursor, "p%d", &idx)
	}
	if idx >= len(f.pages) {
		return repository.Page{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeCRM) FetchRecord(ctx context.Context, entityType, remoteID string) (repository.Record, error) {
	return repository.Record{}, repository.ErrNotFound
}

func (f *fakeCRM) Ping(ctx context.Context) (time.Duration, error) {
	if f.ping > 0 || f.pingErr != nil {
		return f.ping, f.pingErr
	}
	return 5 * time.Millisecond, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeNotifier) NotifyOperator(ctx context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

func onePage(entityType string, n int) []repository.Page {
	p := repository.Page{Meta: repository.HTTPMeta{Status: 200, RateLimitLimit: -1, RateLimitRemaining: -1}}
	for i := 0; i < n; i++ {
		p.Records = append(p.Records, repository.Record{
			RemoteID:   fmt.Sprintf("%s-%d", entityType, i),
			EntityType: entityType,
			UpdatedAt:  time.Now().UTC(),
		})
	}
	return []repository.Page{p}
}

type runnerEnv struct {
	crm      *fakeCRM
	store    *storemem.Store
	notifier *fakeNotifier
	runner   *Runner
	probe    *health.Probe
}

func newRunnerEnv(t *testing.T, crm *fakeCRM, cfg Config) *runnerEnv {
	t.Helper()
	c, err := cache.New(cache.Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	counters := cache.Counters(c)

	st := storemem.New()
	limiter := rate.NewLimiter(counters, rate.Config{})
	breaker := faults.NewBreaker(counters, faults.BreakerConfig{Threshold: 50})
	classifier := faults.NewClassifier(breaker)
	governor := memory.NewGovernor(memory.Config{LimitBytes: 1 << 40})
	probe := health.NewProbe(crm, health.Config{})
	driver := syncer.NewDriver(crm, st.Records(), limiter, classifier, governor, probe, syncer.Config{})
	processor := webhook.NewProcessor(driver, st.Records(), crm, limiter, classifier,
		merge.NewMigrator(st.Links()), webhook.Config{})
	notifier := &fakeNotifier{}

	return &runnerEnv{
		crm:      crm,
		store:    st,
		notifier: notifier,
		probe:    probe,
		runner:   NewRunner(driver, processor, classifier, notifier, cfg),
	}
}

// waitFor espera a que cond se cumpla o revienta el test.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condición no alcanzada a tiempo")
}

func TestRunSyncInline(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{pages: onePage("contacts", 7)}, Config{})

	res := env.runner.RunSyncInline(context.Background(), syncer.Options{EntityType: "contacts"})

	if res.Err != nil || res.Synced != 7 {
		t.Fatalf("got %+v", res)
	}
}

func TestApplyWebhookInline(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{}, Config{})

	res := env.runner.ApplyWebhookInline(context.Background(), webhook.Event{
		ID: "ev-1", Type: "added", EntityType: "contacts", EntityID: "c-1",
		OccurredAt: time.Now().UTC(),
	})
	if res.Err != nil || res.Synced != 1 {
		t.Fatalf("got %+v", res)
	}
}

func TestEnqueueSync_ProcessedByPool(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{pages: onePage("contacts", 3)}, Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = env.runner.Start(ctx)
		close(done)
	}()

	id, err := env.runner.EnqueueSync(syncer.Options{EntityType: "contacts"})
	if err != nil || id == "" {
		t.Fatalf("enqueue: id=%q err=%v", id, err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := env.store.Records().Get(context.Background(), "contacts", "contacts-2")
		return err == nil
	})

	cancel()
	<-done
}

func TestEnqueueWebhook_ProcessedByPool(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{}, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.runner.Start(ctx) }()

	if _, err := env.runner.EnqueueWebhook(webhook.Event{
		ID: "ev-1", Type: "added", EntityType: "deals", EntityID: "d-1",
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := env.store.Records().Get(context.Background(), "deals", "d-1")
		return err == nil
	})
}

func TestEnqueue_QueueFull(t *testing.T) {
	// Sin workers corriendo, la cola de 1 se llena con el primer job.
	env := newRunnerEnv(t, &fakeCRM{}, Config{QueueSize: 1})

	if _, err := env.runner.EnqueueSync(syncer.Options{EntityType: "contacts"}); err != nil {
		t.Fatalf("primer enqueue: %v", err)
	}
	_, err := env.runner.EnqueueSync(syncer.Options{EntityType: "contacts"})
	if err == nil || err.Error() != "worker: queue full" {
		t.Fatalf("err=%v", err)
	}
}

func TestEnqueue_AfterClose(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{}, Config{})
	env.runner.Close()

	if _, err := env.runner.EnqueueSync(syncer.Options{EntityType: "contacts"}); err == nil {
		t.Fatal("la cola cerrada rechaza jobs")
	}
	// Close repetido no debe panicar.
	env.runner.Close()
}

func TestOperatorErrorsSurfaceAlert(t *testing.T) {
	crm := &fakeCRM{
		pages:    onePage("contacts", 1),
		failures: []error{&faults.HTTPError{Status: 401}},
	}
	env := newRunnerEnv(t, crm, Config{})

	res := env.runner.RunSyncInline(context.Background(), syncer.Options{EntityType: "contacts"})

	if res.Err == nil {
		t.Fatal("el run debía fallar con auth")
	}
	if env.notifier.count() != 1 {
		t.Fatalf("alertas=%d, want 1", env.notifier.count())
	}
}

func TestScheduler_EnqueuesPeriodicSyncs(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{pages: onePage("contacts", 2)}, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.runner.Start(ctx) }()

	sched := NewScheduler(env.runner, env.probe, 10*time.Millisecond, []string{"contacts"})
	go sched.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		_, err := env.store.Records().Get(context.Background(), "contacts", "contacts-1")
		return err == nil
	})
}

func TestScheduler_RunsWhileDegraded(t *testing.T) {
	// Latencia alta: el veredicto queda en degraded, que es solo advisory
	// y no debe frenar los syncs programados.
	crm := &fakeCRM{pages: onePage("contacts", 2), ping: 5 * time.Second}
	env := newRunnerEnv(t, crm, Config{Workers: 1})

	if st := env.probe.Status(context.Background()); st != health.StatusDegraded {
		t.Fatalf("status=%s, want degraded", st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.runner.Start(ctx) }()

	sched := NewScheduler(env.runner, env.probe, 10*time.Millisecond, []string{"contacts"})
	go sched.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		_, err := env.store.Records().Get(context.Background(), "contacts", "contacts-1")
		return err == nil
	})
}

func TestScheduler_SkipsWhileUnhealthy(t *testing.T) {
	env := newRunnerEnv(t, &fakeCRM{pages: onePage("contacts", 2)}, Config{Workers: 1})

	down := health.NewProbe(&fakeCRM{pingErr: errors.New("down")}, health.Config{FailureThreshold: 1})
	if st := down.Status(context.Background()); st != health.StatusUnhealthy {
		t.Fatalf("status=%s, want unhealthy", st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.runner.Start(ctx) }()

	sched := NewScheduler(env.runner, down, 10*time.Millisecond, []string{"contacts"})
	go sched.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if _, err := env.store.Records().Get(context.Background(), "contacts", "contacts-0"); err == nil {
		t.Fatal("con el upstream unhealthy no se encolan syncs")
	}
}
