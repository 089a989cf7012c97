// Package statusserver exposes the observer's /ready and /status HTTP
// endpoints. It is deliberately read-only operational tooling, not the
// query surface itself: every handler renders a point-in-time snapshot
// for a human, not a stable machine API. Modelled on the teacher's
// cmd/tempo-federated-querier/handler status handlers.
package statusserver

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/grafana/dskit/services"
	"github.com/grafana/kafka-cartographer/clusterobserver"
)

// Handler serves the status endpoints for a fixed set of named
// observers, keyed by cluster name.
type Handler struct {
	logger    log.Logger
	router    *mux.Router
	observers map[string]*clusterobserver.Observer
}

// New builds a Handler and registers its routes on router.
func New(logger log.Logger, router *mux.Router, observers map[string]*clusterobserver.Observer) *Handler {
	h := &Handler{logger: logger, router: router, observers: observers}
	router.HandleFunc("/ready", h.ReadyHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/status/{cluster}", h.ClusterStatusHandler).Methods(http.MethodGet)
	return h
}

// ReadyHandler reports readiness: every registered observer must be in
// the Running state.
func (h *Handler) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	for name, o := range h.observers {
		if state := o.State(); state != services.Running {
			http.Error(w, fmt.Sprintf("cluster %s not running: %s", name, state), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ready")
}

// StatusHandler lists every configured cluster and a one-line summary
// of each.
func (h *Handler) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(h.observers))
	for name := range h.observers {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain")
	x := table.NewWriter()
	x.SetOutputMirror(w)
	x.AppendHeader(table.Row{"cluster", "state"})
	for _, name := range names {
		x.AppendRows([]table.Row{{name, fmt.Sprintf("%s", h.observers[name].State())}})
	}
	x.Render()
}

// ClusterStatusHandler renders the topics and consumer groups known to
// one cluster's observer.
func (h *Handler) ClusterStatusHandler(w http.ResponseWriter, r *http.Request) {
	cluster := mux.Vars(r)["cluster"]
	o, ok := h.observers[cluster]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown cluster %q", cluster), http.StatusNotFound)
		return
	}

	topicsResp, _ := o.Handle(r.Context(), clusterobserver.GetTopics{}).(clusterobserver.GetTopicsResponse)
	consumersResp, _ := o.Handle(r.Context(), clusterobserver.GetConsumers{}).(clusterobserver.GetConsumersResponse)

	w.Header().Set("Content-Type", "text/plain")

	topicsTable := table.NewWriter()
	topicsTable.SetOutputMirror(w)
	topicsTable.SetTitle(fmt.Sprintf("%s: topics (%d)", cluster, len(topicsResp.Topics)))
	topicsTable.AppendHeader(table.Row{"topic"})
	for _, t := range topicsResp.Topics {
		topicsTable.AppendRows([]table.Row{{t}})
	}
	topicsTable.Render()

	consumersTable := table.NewWriter()
	consumersTable.SetOutputMirror(w)
	consumersTable.SetTitle(fmt.Sprintf("%s: consumer groups (%d)", cluster, len(consumersResp.Groups)))
	consumersTable.AppendHeader(table.Row{"group"})
	for _, g := range consumersResp.Groups {
		consumersTable.AppendRows([]table.Row{{g}})
	}
	consumersTable.Render()

	level.Debug(h.logger).Log("msg", "served cluster status", "cluster", cluster)
}
