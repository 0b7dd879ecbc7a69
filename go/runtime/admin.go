package runtime

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/paynet/fep/go/manager"
	"github.com/paynet/fep/go/network"
	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/sched"
	"github.com/paynet/fep/go/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// AdminServer is the operator surface: connection control, transaction
// inquiry, and scheduled-transfer management, as JSON over HTTP.
type AdminServer struct {
	gateway  *Gateway
	listener net.Listener
	server   *http.Server
}

// NewAdminServer returns an AdminServer listening on |addr|.
func NewAdminServer(g *Gateway, addr string) (*AdminServer, error) {
	var listener, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	var s = &AdminServer{gateway: g, listener: listener}
	s.server = &http.Server{Handler: s.buildMux()}
	return s, nil
}

// Addr returns the bound listener address.
func (s *AdminServer) Addr() string { return s.listener.Addr().String() }

// QueueTasks queues the HTTP serving loop.
func (s *AdminServer) QueueTasks(tasks *task.Group) {
	tasks.Queue("admin.serve", func() error {
		if err := s.server.Serve(s.listener); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("admin.close", func() error {
		<-tasks.Context().Done()
		return s.server.Close()
	})
}

func (s *AdminServer) buildMux() *http.ServeMux {
	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/connections", s.handleConnections)
	mux.HandleFunc("POST /v1/connections/{id}", s.handleAddConnection)
	mux.HandleFunc("DELETE /v1/connections/{id}", s.handleRemoveConnection)
	mux.HandleFunc("POST /v1/connections/{id}/reconnect", s.handleReconnect)
	mux.HandleFunc("GET /v1/transactions/{id}", s.handleTransaction)
	mux.HandleFunc("GET /v1/transactions", s.handleTransactions)
	mux.HandleFunc("POST /v1/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /v1/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /v1/schedules/{id}/{action}", s.handleScheduleAction)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("err", err).Warn("failed to encode admin response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Clients          map[string]string `json:"clients"`
	Servers          map[string]string `json:"servers"`
	ServerPeers      map[string]int    `json:"serverPeers"`
	SignedOn         int               `json:"signedOn"`
	TrackedDeadlines int               `json:"trackedDeadlines"`
	DedupEntries     int               `json:"dedupEntries"`
	Channels         []string          `json:"channels"`
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var g = s.gateway
	var out = StatusResponse{
		Clients:          make(map[string]string),
		Servers:          make(map[string]string),
		ServerPeers:      g.Manager.ServerPeerCounts(),
		SignedOn:         g.Manager.SignedOnCount(),
		TrackedDeadlines: g.Timeouts.ActiveCount(),
		DedupEntries:     g.Dedup.Size(),
		Channels:         g.Registry.ChannelIDs(),
	}
	for id, st := range g.Manager.ClientStates() {
		out.Clients[id] = st.String()
	}
	for id, st := range g.Manager.ServerStates() {
		out.Servers[id] = st.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// ConnectionInfo describes one managed connection.
type ConnectionInfo struct {
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	State   string `json:"state"`
	Peers   int    `json:"peers,omitempty"`
}

func (s *AdminServer) handleConnections(w http.ResponseWriter, _ *http.Request) {
	var g = s.gateway
	var out []ConnectionInfo
	for id, st := range g.Manager.ClientStates() {
		out = append(out, ConnectionInfo{Channel: id, Kind: "client", State: st.String()})
	}
	var peers = g.Manager.ServerPeerCounts()
	for id, st := range g.Manager.ServerStates() {
		out = append(out, ConnectionInfo{Channel: id, Kind: "server", State: st.String(), Peers: peers[id]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var err = s.gateway.Manager.AddConnection(r.Context(), r.PathValue("id"))
	if errors.Is(err, manager.ErrChannelNotConfigured) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *AdminServer) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	if !s.gateway.Manager.RemoveConnection(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, manager.ErrChannelNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *AdminServer) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var err = s.gateway.Manager.Reconnect(r.Context(), r.PathValue("id"))
	if errors.Is(err, network.ErrServerMode) {
		writeError(w, http.StatusConflict, err)
		return
	} else if errors.Is(err, manager.ErrChannelNotConfigured) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconnected"})
}

func (s *AdminServer) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var rec, err = s.gateway.Repo.FindByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *AdminServer) handleTransactions(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var recs []*store.Record
	var err error

	if rrn := q.Get("rrn"); rrn != "" {
		recs, err = s.gateway.Repo.FindByRRN(r.Context(), rrn)
	} else if status := q.Get("status"); status != "" {
		var limit, _ = strconv.Atoi(q.Get("limit"))
		recs, err = s.gateway.Repo.FindByStatus(r.Context(), pf.TransactionStatus(status), limit)
	} else {
		writeError(w, http.StatusBadRequest, errors.New("rrn or status query parameter is required"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *AdminServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req sched.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var st, err = s.gateway.Scheduler.Create(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *AdminServer) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var customer = r.URL.Query().Get("customer")
	if customer == "" {
		writeError(w, http.StatusBadRequest, errors.New("customer query parameter is required"))
		return
	}
	var scheds, err = s.gateway.Scheduler.ByCustomer(r.Context(), customer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, scheds)
}

func (s *AdminServer) handleScheduleAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID string `json:"customerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var id = r.PathValue("id")
	var err error
	switch r.PathValue("action") {
	case "suspend":
		err = s.gateway.Scheduler.Suspend(r.Context(), id, body.CustomerID)
	case "resume":
		err = s.gateway.Scheduler.Resume(r.Context(), id, body.CustomerID)
	case "cancel":
		err = s.gateway.Scheduler.Cancel(r.Context(), id, body.CustomerID)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown action"))
		return
	}

	switch {
	case errors.Is(err, sched.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, sched.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, sched.ErrBadState):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
