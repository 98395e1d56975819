// Package adapter is a thin HTTP+JSON shim that translates external
// requests into model.Message sends on the Manager's inbound channel
// and fills a typed response from the reply. It holds only a send-side
// handle to that channel; it never touches the Manager's VM map
// directly.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/vmworker/internal/history"
	"github.com/seantiz/vmworker/internal/model"
)

// Adapter binds the Manager's command channel to HTTP routes. history
// and broker are optional: when nil, the corresponding boot-log routes
// answer 501 rather than panicking.
type Adapter struct {
	inbox   chan<- model.Message
	logger  *slog.Logger
	router  *chi.Mux
	history *history.Store
	broker  *history.LogBroker
}

// New builds an Adapter with its full route set mounted. store and
// broker may both be nil, in which case the boot-log history/stream
// routes are mounted but answer 501 Not Implemented.
func New(inbox chan<- model.Message, logger *slog.Logger, store *history.Store, broker *history.LogBroker) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{inbox: inbox, logger: logger, history: store, broker: broker}
	a.router = chi.NewRouter()
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.loggingMiddleware)
	a.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	a.routes()
	return a
}

func (a *Adapter) Router() http.Handler {
	return a.router
}

func (a *Adapter) routes() {
	a.router.Get("/healthz", a.handleHealthz)
	a.router.Handle("/metrics", promhttp.Handler())
	a.router.Route("/v1/vms", func(r chi.Router) {
		r.Post("/", a.handleCreate)
		r.Get("/", a.handleList)
		r.Delete("/{id}", a.handleDelete)
		r.Get("/{id}/log/history", a.handleLogHistory)
		r.Get("/{id}/log/stream", a.handleLogStream)
	})
	a.router.Get("/v1/worker", a.handleWorkerStatus)
}

func (a *Adapter) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createVmRequest = model.VmSpec

type createVmResponse struct {
	Id string `json:"id"`
}

func (a *Adapter) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec createVmRequest
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidSpec", err.Error())
		return
	}

	reply, err := a.send(r.Context(), model.CreateCommand{Spec: &spec})
	if err != nil {
		writeVmError(w, err)
		return
	}
	resp := reply.(model.VmIdResponse)
	writeJSON(w, http.StatusCreated, createVmResponse{Id: string(resp.Id)})
}

func (a *Adapter) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := a.send(r.Context(), model.DeleteCommand{Id: model.VmId(id)})
	if err != nil {
		writeVmError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listVmsResponse struct {
	Vms []model.VmInfo `json:"vms"`
}

func (a *Adapter) handleList(w http.ResponseWriter, r *http.Request) {
	reply, err := a.send(r.Context(), model.ListCommand{})
	if err != nil {
		writeVmError(w, err)
		return
	}
	resp := reply.(model.VmListResponse)
	writeJSON(w, http.StatusOK, listVmsResponse{Vms: resp.Vms})
}

func (a *Adapter) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	reply, err := a.send(r.Context(), model.GetWorkerStatusCommand{})
	if err != nil {
		writeVmError(w, err)
		return
	}
	resp := reply.(model.WorkerInfoResponse)
	writeJSON(w, http.StatusOK, resp.Info)
}

type logHistoryResponse struct {
	TotalSteps []int `json:"totalSteps"`
}

// handleLogHistory returns every archived boot-log summary's step count
// for the named VM, most recent first. Archiving only happens if the
// backend was built with boot-log capture and a history store enabled,
// so an empty list is a normal outcome, not an error.
func (a *Adapter) handleLogHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotImplemented, "Internal", "history store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	totals, err := a.history.ListBySubject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logHistoryResponse{TotalSteps: totals})
}

// handleLogStream streams the named VM's boot-log lines as server-sent
// events: the broker replays the retained console tail first, then live
// lines until the process exits or the client disconnects.
func (a *Adapter) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeError(w, http.StatusNotImplemented, "Internal", "log broker not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", "streaming unsupported")
		return
	}

	id := chi.URLParam(r, "id")
	lines, unsubscribe := a.broker.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// send builds a one-shot reply channel, submits the command, and awaits
// either the reply or the request context being cancelled. A cancelled
// request abandons the reply channel; the Manager still completes the
// command and its non-blocking send simply finds nobody listening.
func (a *Adapter) send(ctx context.Context, payload model.CommandPayload) (model.CommandResponse, *model.VmError) {
	msg := model.NewMessage(payload)

	select {
	case a.inbox <- msg:
	case <-ctx.Done():
		return nil, model.NewInternal("request cancelled before dispatch", ctx.Err())
	}

	select {
	case r := <-msg.Reply:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, model.NewInternal("request cancelled awaiting reply", ctx.Err())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Kind: kind, Message: message})
}

// vmErrorStatus maps a VmError's Kind to an HTTP status: AlreadyExists
// ->409, NotFound->404, Internal->500, ProcessFailed->502,
// Hypervisor->502, InvalidSpec->400.
func vmErrorStatus(kind model.ErrorKind) int {
	switch kind {
	case model.KindAlreadyExists:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidSpec:
		return http.StatusBadRequest
	case model.KindProcessFailed, model.KindHypervisor:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeVmError(w http.ResponseWriter, err *model.VmError) {
	writeError(w, vmErrorStatus(err.Kind), err.Kind.String(), err.Message)
}
