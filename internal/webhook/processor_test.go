package webhook

import (
	"context"
	"errors"
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
)

// fakeCRM responde FetchRecord desde un map en memoria.
type fakeCRM struct {
	records map[string]repository.Record // entityType/remoteID
	fetched int
}

func (f *fakeCRM) FetchPage(ctx context.Context, in repository.FetchPageInput) (repository.Page, error) {
	return repository.Page{}, nil
}

func (f *fakeCRM) FetchRecord(ctx context.Context, entityType, remoteID string) (repository.Record, error) {
	f.fetched++
	rec, ok := f.records[entityType+"/"+remoteID]
	if !ok {
		return repository.Record{}, repository.ErrNotFound
	}
	return rec, nil
}

func (f *fakeCRM) Ping(ctx context.Context) (time.Duration, error) {
	return 5 * time.Millisecond, nil
}

type procEnv struct {
	crm       *fakeCRM
	store     *storemem.Store
	limiter   *rate.Limiter
	breaker   *faults.Breaker
	processor *Processor
}

func newProcEnv(t *testing.T, rateCfg rate.Config, cfg Config) *procEnv {
	t.Helper()
	c, err := cache.New(cache.Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	counters := cache.Counters(c)

	crm := &fakeCRM{records: map[string]repository.Record{}}
	st := storemem.New()
	limiter := rate.NewLimiter(counters, rateCfg)
	breaker := faults.NewBreaker(counters, faults.BreakerConfig{Threshold: 5})
	classifier := faults.NewClassifier(breaker)
	governor := memory.NewGovernor(memory.Config{LimitBytes: 1 << 40})
	probe := health.NewProbe(crm, health.Config{})

	driver := syncer.NewDriver(crm, st.Records(), limiter, classifier, governor, probe, syncer.Config{})
	migrator := merge.NewMigrator(st.Links())

	return &procEnv{
		crm:       crm,
		store:     st,
		limiter:   limiter,
		breaker:   breaker,
		processor: NewProcessor(driver, st.Records(), crm, limiter, classifier, migrator, cfg),
	}
}

func TestApply_AddedUpsertsRecord(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})

	res := env.processor.Apply(context.Background(), Event{
		ID: "ev-1", Type: "added", EntityType: "contacts", EntityID: "c-1",
		OccurredAt: time.Now().UTC(),
		Record:     map[string]any{"name": "Ada"},
	})

	if res.Err != nil || res.Synced != 1 {
		t.Fatalf("got %+v", res)
	}
	rec, err := env.store.Records().Get(context.Background(), "contacts", "c-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Fields["name"] != "Ada" {
		t.Fatalf("fields: %+v", rec.Fields)
	}
}

func TestApply_StaleUpdateSkipped(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})
	ctx := context.Background()

	now := time.Now().UTC()
	_, _ = env.store.Records().Upsert(ctx, repository.Record{
		RemoteID: "c-1", EntityType: "contacts", UpdatedAt: now,
	})

	res := env.processor.Apply(ctx, Event{
		ID: "ev-1", Type: "updated", EntityType: "contacts", EntityID: "c-1",
		OccurredAt: now.Add(-time.Hour),
	})

	if res.Err != nil || res.Skipped != 1 {
		t.Fatalf("un update viejo se skipea: %+v", res)
	}
}

func TestApply_DeleteExisting(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})
	ctx := context.Background()

	_, _ = env.store.Records().Upsert(ctx, repository.Record{
		RemoteID: "c-1", EntityType: "contacts", UpdatedAt: time.Now().UTC(),
	})

	res := env.processor.Apply(ctx, Event{
		ID: "ev-1", Type: "deleted", EntityType: "contacts", EntityID: "c-1",
	})
	if res.Err != nil || res.Synced != 1 {
		t.Fatalf("got %+v", res)
	}
	if _, err := env.store.Records().Get(ctx, "contacts", "c-1"); !repository.IsNotFound(err) {
		t.Fatalf("el record debía borrarse: %v", err)
	}
}

func TestApply_DeleteMissingIsIdempotent(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})

	res := env.processor.Apply(context.Background(), Event{
		ID: "ev-1", Type: "deleted", EntityType: "contacts", EntityID: "ghost",
	})
	if res.Err != nil || res.Errors != 0 || res.Skipped != 1 {
		t.Fatalf("borrar lo inexistente es no-op: %+v", res)
	}
}

func TestApply_UnknownTypeRejected(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})

	res := env.processor.Apply(context.Background(), Event{
		ID: "ev-1", Type: "contact.propertyChange", EntityType: "contacts", EntityID: "c-1",
		Record: map[string]any{"name": "Ada"},
	})

	if res.Err == nil {
		t.Fatal("evento desconocido debe rechazarse")
	}
	var ce *faults.ClassifiedError
	if !errors.As(res.Err, &ce) || ce.Kind != faults.KindValidation {
		t.Fatalf("err=%v", res.Err)
	}
	if _, err := env.store.Records().Get(context.Background(), "contacts", "c-1"); !repository.IsNotFound(err) {
		t.Fatal("nada debió persistirse")
	}
}

func TestApply_UnknownTypeLegacyMode(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{AllowUnknownAsUpdate: true})

	res := env.processor.Apply(context.Background(), Event{
		ID: "ev-1", Type: "contact.propertyChange", EntityType: "contacts", EntityID: "c-1",
		Record: map[string]any{"name": "Ada"},
	})

	if res.Err != nil || res.Synced != 1 {
		t.Fatalf("modo legacy trata desconocidos como update: %+v", res)
	}
}

func TestApply_MergedRequiresIDs(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})

	res := env.processor.Apply(context.Background(), Event{
		ID: "ev-1", Type: "merged", EntityType: "contacts", EntityID: "c-1",
	})
	var ce *faults.ClassifiedError
	if !errors.As(res.Err, &ce) || ce.Kind != faults.KindValidation {
		t.Fatalf("err=%v", res.Err)
	}
}

func TestApply_MergedMigratesAndRefreshes(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})
	ctx := context.Background()

	env.store.PutLink(repository.EntityLink{
		ID: "l1", LinkableType: "ticket", LinkableID: "t-1",
		EntityType: "contacts", EntityID: "c-old",
	})
	env.crm.records["contacts/c-new"] = repository.Record{
		RemoteID: "c-new", EntityType: "contacts", UpdatedAt: time.Now().UTC(),
		Fields: map[string]any{"name": "Ada (merged)"},
	}

	res := env.processor.Apply(ctx, Event{
		ID: "ev-1", Type: "merged", EntityType: "contacts", EntityID: "c-new",
		MergedID: "c-old", SurvivingID: "c-new",
	})

	if res.Err != nil || res.Errors != 0 {
		t.Fatalf("got %+v", res)
	}
	link, _ := env.store.Link("l1")
	if link.EntityID != "c-new" || link.MigratedFrom != "c-old" {
		t.Fatalf("link: %+v", link)
	}
	// El sobreviviente se refrescó desde el CRM.
	if env.crm.fetched != 1 {
		t.Fatalf("fetched=%d", env.crm.fetched)
	}
	rec, err := env.store.Records().Get(ctx, "contacts", "c-new")
	if err != nil || rec.Fields["name"] != "Ada (merged)" {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
}

func TestApply_MergedWithPayloadSkipsFetch(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})

	res := env.processor.Apply(context.Background(), Event{
		ID: "ev-1", Type: "merged", EntityType: "contacts", EntityID: "c-new",
		MergedID: "c-old", SurvivingID: "c-new",
		Record: map[string]any{"name": "Ada"},
	})

	if res.Err != nil {
		t.Fatalf("got %+v", res)
	}
	if env.crm.fetched != 0 {
		t.Fatalf("con payload no se fetchea: fetched=%d", env.crm.fetched)
	}
}

func TestApply_MergedDefersRefreshWithoutBudget(t *testing.T) {
	env := newProcEnv(t, rate.Config{Limits: map[string]int64{"crm:read": 1}}, Config{})
	ctx := context.Background()

	env.store.PutLink(repository.EntityLink{
		ID: "l1", LinkableType: "ticket", LinkableID: "t-1",
		EntityType: "contacts", EntityID: "c-old",
	})
	// Agotar el presupuesto antes del evento.
	_ = env.limiter.Consume(ctx, "crm:read", 1)

	res := env.processor.Apply(ctx, Event{
		ID: "ev-1", Type: "merged", EntityType: "contacts", EntityID: "c-new",
		MergedID: "c-old", SurvivingID: "c-new",
	})

	if !res.Deferred {
		t.Fatalf("el refresh debe diferirse: %+v", res)
	}
	// La migración de links quedó hecha igual.
	link, _ := env.store.Link("l1")
	if link.EntityID != "c-new" {
		t.Fatalf("link: %+v", link)
	}
}

func TestApply_HeuristicMergeFromPattern(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{HeuristicMerge: true})
	ctx := context.Background()

	env.store.PutLink(repository.EntityLink{
		ID: "l1", LinkableType: "ticket", LinkableID: "t-1",
		EntityType: "contacts", EntityID: "c-a",
	})
	env.crm.records["contacts/c-b"] = repository.Record{
		RemoteID: "c-b", EntityType: "contacts", UpdatedAt: time.Now().UTC(),
	}

	apply := func(typ, id string) repository.SyncResult {
		return env.processor.Apply(ctx, Event{
			ID: "ev-" + id, Type: typ, EntityType: "contacts", EntityID: id,
			CorrelationID: "corr-1", OccurredAt: time.Now().UTC(),
		})
	}

	apply("updated", "c-a")
	apply("updated", "c-b")
	res := apply("deleted", "c-a")

	if res.Err != nil || res.Errors != 0 {
		t.Fatalf("got %+v", res)
	}
	// El delete cerró el patrón: en lugar de borrar, migró el link.
	link, _ := env.store.Link("l1")
	if link.EntityID != "c-b" || link.MigratedFrom != "c-a" {
		t.Fatalf("link: %+v", link)
	}
}

func TestApply_CircuitOpenRejects(t *testing.T) {
	env := newProcEnv(t, rate.Config{}, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.breaker.RecordFailure(ctx, faults.OpWebhook)
	}

	res := env.processor.Apply(ctx, Event{
		ID: "ev-1", Type: "updated", EntityType: "contacts", EntityID: "c-1",
	})
	if res.Err == nil {
		t.Fatal("con el circuito abierto el evento se rechaza")
	}
}
