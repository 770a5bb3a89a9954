// Package http expone la superficie REST del servicio: ingreso de webhooks,
// triggers de sync, status de los componentes de resiliencia y resets admin.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/faults"
	"github.com/dropDatabas3/crmbridge/internal/health"
	"github.com/dropDatabas3/crmbridge/internal/memory"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
	"github.com/dropDatabas3/crmbridge/internal/rate"
	"github.com/dropDatabas3/crmbridge/internal/syncer"
	"github.com/dropDatabas3/crmbridge/internal/webhook"
	"github.com/dropDatabas3/crmbridge/internal/worker"
)

// API agrupa las dependencias de los handlers. Se arma una sola vez en el
// wiring de cmd/service.
type API struct {
	Runner   *worker.Runner
	Limiter  *rate.Limiter
	Breaker  *faults.Breaker
	Governor *memory.Governor
	Probe    *health.Probe
	Records  repository.RecordStore
	Cache    interface {
		Ping(ctx context.Context) error
	}

	// Classes de endpoint con presupuesto configurado, para el status.
	Classes []string
}

// ops con circuito propio; mismo orden en todas las respuestas.
var circuitOps = []string{faults.OpSync, faults.OpPush, faults.OpWebhook}

// ───── Webhook ingress ─────

type webhookAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleWebhook recibe el evento crudo del CRM. Por default se encola y se
// responde 202; con ?wait=true se procesa inline y se devuelve el resultado.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "no se pudo leer el body")
		return
	}
	ev, err := webhook.Parse(body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		res := a.Runner.ApplyWebhookInline(r.Context(), ev)
		WriteJSON(w, statusFor(res), res)
		return
	}

	id, err := a.Runner.EnqueueWebhook(ev)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, webhookAccepted{JobID: id, Status: "queued"})
}

// ───── Sync trigger ─────

type syncRequest struct {
	Mode     string `json:"mode"`
	PageSize int    `json:"page_size"`
	MaxPages int    `json:"max_pages"`
	Cursor   string `json:"cursor"`
	Force    bool   `json:"force"`
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	opts := syncer.Options{EntityType: chi.URLParam(r, "entityType")}

	if r.ContentLength > 0 {
		var req syncRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		opts.Mode = syncer.Mode(req.Mode)
		opts.PageSize = req.PageSize
		opts.MaxPages = req.MaxPages
		opts.Cursor = req.Cursor
		opts.Force = req.Force
	}

	if r.URL.Query().Get("wait") == "true" {
		res := a.Runner.RunSyncInline(r.Context(), opts)
		WriteJSON(w, statusFor(res), res)
		return
	}

	id, err := a.Runner.EnqueueSync(opts)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) || errors.Is(err, repository.ErrUnknownEntityType) {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		WriteError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, webhookAccepted{JobID: id, Status: "queued"})
}

// statusFor mapea el resultado de un run inline a un código HTTP.
func statusFor(res repository.SyncResult) int {
	switch {
	case res.Err != nil && errors.Is(res.Err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case res.Err != nil && errors.Is(res.Err, repository.ErrUnknownEntityType):
		return http.StatusBadRequest
	case res.Err != nil:
		return http.StatusBadGateway
	case res.Deferred:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

// ───── Readiness ─────

type readyResponse struct {
	Store    string `json:"store"`
	Cache    string `json:"cache"`
	Upstream string `json:"upstream"`
}

// handleReadyz: el store local y el counter store son requisito duro; el
// veredicto del upstream se informa pero no baja el readiness (es advisory).
func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	out := readyResponse{Store: "ok", Cache: "ok", Upstream: string(a.Probe.Status(r.Context()))}
	down := false
	if err := a.Records.Ping(r.Context()); err != nil {
		out.Store = "down"
		down = true
	}
	if a.Cache != nil {
		if err := a.Cache.Ping(r.Context()); err != nil {
			out.Cache = "down"
			down = true
		}
	}
	if down {
		WriteJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// ───── Status ─────

func (a *API) handleStatusRate(w http.ResponseWriter, r *http.Request) {
	classes := append([]string(nil), a.Classes...)
	sort.Strings(classes)

	out := make([]rate.Budget, 0, len(classes))
	for _, class := range classes {
		b, err := a.Limiter.Status(r.Context(), class)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "status_error", err.Error())
			return
		}
		out = append(out, b)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"budgets": out})
}

func (a *API) handleStatusCircuit(w http.ResponseWriter, r *http.Request) {
	out := make([]faults.CircuitState, 0, len(circuitOps))
	for _, op := range circuitOps {
		st, err := a.Breaker.State(r.Context(), op)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "status_error", err.Error())
			return
		}
		out = append(out, st)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"circuits": out})
}

func (a *API) handleStatusMemory(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.Governor.Sample())
}

func (a *API) handleStatusHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"verdict": a.Probe.Snapshot(r.Context()),
		"recent":  a.Probe.Recent(),
	})
}

// ───── Admin resets ─────

// handleAdminReset fuerza el estado limpio de un componente. Pensado para
// operación manual tras resolver un incidente upstream.
func (a *API) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	log := logger.FromWithFields(r.Context(), logger.Component(component))

	switch component {
	case "rate":
		class := r.URL.Query().Get("class")
		if class == "" {
			WriteError(w, http.StatusBadRequest, "missing_class", "query param class requerido")
			return
		}
		if err := a.Limiter.Reset(r.Context(), class); err != nil {
			WriteError(w, http.StatusInternalServerError, "reset_error", err.Error())
			return
		}
		log.Info("rate budget reset", logger.EndpointClass(class))

	case "circuit":
		op := r.URL.Query().Get("op")
		ops := circuitOps
		if op != "" {
			ops = []string{op}
		}
		for _, o := range ops {
			if err := a.Breaker.Reset(r.Context(), o); err != nil {
				WriteError(w, http.StatusInternalServerError, "reset_error", err.Error())
				return
			}
		}
		log.Info("circuit reset", logger.Op(op))

	case "health":
		a.Probe.Reset()
		log.Info("health probe reset")

	default:
		WriteError(w, http.StatusNotFound, "unknown_component", "componentes: rate, circuit, health")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset", "component": component})
}
