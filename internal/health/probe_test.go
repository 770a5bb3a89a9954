package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// fakeCRM simula el upstream con latencia y error programables.
type fakeCRM struct {
	latency time.Duration
	err     error
	pings   atomic.Int64
}

func (f *fakeCRM) FetchPage(ctx context.Context, in repository.FetchPageInput) (repository.Page, error) {
	return repository.Page{}, nil
}

func (f *fakeCRM) FetchRecord(ctx context.Context, entityType, remoteID string) (repository.Record, error) {
	return repository.Record{}, repository.ErrNotFound
}

func (f *fakeCRM) Ping(ctx context.Context) (time.Duration, error) {
	f.pings.Add(1)
	return f.latency, f.err
}

func TestProbe_HealthyByDefault(t *testing.T) {
	crm := &fakeCRM{latency: 50 * time.Millisecond}
	p := NewProbe(crm, Config{})

	if st := p.Status(context.Background()); st != StatusHealthy {
		t.Fatalf("status=%s", st)
	}
}

func TestProbe_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	crm := &fakeCRM{err: errors.New("down")}
	p := NewProbe(crm, Config{FailureThreshold: 3})
	ctx := context.Background()

	p.Check(ctx)
	p.Check(ctx)
	if st := p.Status(ctx); st != StatusUnhealthy {
		// Status corre un tercer check por el veredicto invalidado.
		t.Fatalf("con 3 fallas consecutivas: status=%s", st)
	}
}

func TestProbe_RecoversOnSuccess(t *testing.T) {
	crm := &fakeCRM{err: errors.New("down")}
	p := NewProbe(crm, Config{FailureThreshold: 2})
	ctx := context.Background()

	p.Check(ctx)
	p.Check(ctx)
	if st := p.compute(); st != StatusUnhealthy {
		t.Fatalf("status=%s", st)
	}

	// Un solo éxito con buena latencia corta la racha.
	crm.err = nil
	crm.latency = 100 * time.Millisecond
	p.Check(ctx)
	if st := p.compute(); st != StatusHealthy {
		t.Fatalf("tras recuperar: status=%s", st)
	}
}

func TestProbe_DegradedOnHighLatency(t *testing.T) {
	crm := &fakeCRM{latency: 5 * time.Second}
	p := NewProbe(crm, Config{DegradationThresholdMs: 2000})
	ctx := context.Background()

	p.Check(ctx)
	p.Check(ctx)
	if st := p.compute(); st != StatusDegraded {
		t.Fatalf("latencia promedio 5000ms: status=%s", st)
	}
}

func TestProbe_VerdictIsCached(t *testing.T) {
	crm := &fakeCRM{latency: 10 * time.Millisecond}
	p := NewProbe(crm, Config{TTL: time.Minute})
	ctx := context.Background()

	p.Status(ctx)
	before := crm.pings.Load()
	for i := 0; i < 10; i++ {
		p.Status(ctx)
	}
	if got := crm.pings.Load(); got != before {
		t.Fatalf("el veredicto cacheado no debe pegarle al upstream: pings %d → %d", before, got)
	}
}

func TestProbe_RingBufferBounded(t *testing.T) {
	crm := &fakeCRM{latency: time.Millisecond}
	p := NewProbe(crm, Config{BufferSize: 5})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		p.Check(ctx)
	}
	if n := len(p.Recent()); n != 5 {
		t.Fatalf("buffer=%d, want 5", n)
	}
}

func TestProbe_Reset(t *testing.T) {
	crm := &fakeCRM{err: errors.New("down")}
	p := NewProbe(crm, Config{FailureThreshold: 1})
	ctx := context.Background()

	p.Check(ctx)
	if st := p.compute(); st != StatusUnhealthy {
		t.Fatalf("status=%s", st)
	}

	p.Reset()
	if n := len(p.Recent()); n != 0 {
		t.Fatalf("buffer=%d tras reset", n)
	}
	if st := p.compute(); st != StatusHealthy {
		t.Fatalf("tras reset: status=%s", st)
	}
}

func TestProbe_Snapshot(t *testing.T) {
	crm := &fakeCRM{latency: 30 * time.Millisecond}
	p := NewProbe(crm, Config{})

	snap := p.Snapshot(context.Background())
	if snap.Status != string(StatusHealthy) {
		t.Fatalf("status=%s", snap.Status)
	}
	if snap.CheckedAt.IsZero() {
		t.Fatal("checked_at vacío")
	}
	if snap.LatencyMs != 30 {
		t.Fatalf("latency=%d", snap.LatencyMs)
	}
}
