package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
)

type Dependencies struct {
	Logger    zerolog.Logger
	Addr      string
	Registry  *service.DeviceRegistry
	Provision *service.ProvisionService
	Sync      *service.SyncService
	Health    *service.HealthMonitor
	Events    store.AccessEventStore
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	mux        *http.ServeMux

	registry  *service.DeviceRegistry
	provision *service.ProvisionService
	sync      *service.SyncService
	health    *service.HealthMonitor
	events    store.AccessEventStore
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		registry:  d.Registry,
		provision: d.Provision,
		sync:      d.Sync,
		health:    d.Health,
		events:    d.Events,
	}

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /v1/devices", s.handleListDevices)
	mux.HandleFunc("GET /v1/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("GET /v1/devices/{id}/health", s.handleTestConnection)

	mux.HandleFunc("GET /v1/devices/{id}/users/{employeeNo}", s.handleGetUser)
	mux.HandleFunc("PUT /v1/devices/{id}/users/{employeeNo}", s.handleUpsertUser)
	mux.HandleFunc("DELETE /v1/devices/{id}/users/{employeeNo}", s.handleDeleteUser)

	mux.HandleFunc("GET /v1/devices/{id}/cards", s.handleSearchCards)
	mux.HandleFunc("POST /v1/devices/{id}/cards", s.handleAddCard)
	mux.HandleFunc("DELETE /v1/devices/{id}/cards/{cardNo}", s.handleDeleteCard)

	mux.HandleFunc("GET /v1/devices/{id}/fingerprints", s.handleSearchFingerprints)

	mux.HandleFunc("POST /v1/devices/{id}/sync", s.handleSync)
	mux.HandleFunc("GET /v1/devices/{id}/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/events", s.handleListEvents)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"ok": true, "devices": len(s.registry.IDs())})
}

// ── Devices ──────────────────────────────────────────────────────────────────

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.Devices(r.Context())
	if err != nil {
		s.internalError(w, "list devices", err)
		return
	}

	if devices == nil {
		devices = []store.DeviceRecord{}
	}

	respond(w, r, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Device(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, "get device", err)
		return
	}

	respond(w, r, http.StatusOK, rec)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	st, err := s.health.CheckDevice(r.Context(), r.PathValue("id"))

	switch {
	case errors.Is(err, service.ErrUnknownDevice), errors.Is(err, service.ErrInvalidDeviceID):
		s.serviceError(w, "test connection", err)
		return
	case err != nil:
		// The probe ran; only persisting the outcome failed.
		s.logger.Error().Err(err).Str("device_id", r.PathValue("id")).Msg("record device health")
	}

	respond(w, r, http.StatusOK, st)
}

// ── Users ────────────────────────────────────────────────────────────────────

type upsertUserBody struct {
	Name string `json:"name"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.provision.GetUser(r.Context(), r.PathValue("id"), r.PathValue("employeeNo"))
	if err != nil {
		s.serviceError(w, "get user", err)
		return
	}

	code := http.StatusOK
	if res.Error != "" {
		code = statusForKind(res.Kind)
	}

	respond(w, r, code, res)
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var body upsertUserBody
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	res, err := s.provision.UpsertUser(r.Context(), r.PathValue("id"), r.PathValue("employeeNo"), body.Name)
	if err != nil {
		s.serviceError(w, "upsert user", err)
		return
	}

	respond(w, r, resultStatus(res.Success, res.Kind), res)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.provision.DeleteUser(r.Context(), r.PathValue("id"), r.PathValue("employeeNo"))
	if err != nil {
		s.serviceError(w, "delete user", err)
		return
	}

	respond(w, r, resultStatus(res.Success, res.Kind), res)
}

// ── Cards and fingerprints ───────────────────────────────────────────────────

type addCardBody struct {
	EmployeeNo string `json:"employeeNo"`
	CardNo     string `json:"cardNo"`
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var body addCardBody
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	res, err := s.provision.AddCard(r.Context(), r.PathValue("id"), body.EmployeeNo, body.CardNo)
	if err != nil {
		s.serviceError(w, "add card", err)
		return
	}

	respond(w, r, resultStatus(res.Success, res.Kind), res)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	res, err := s.provision.DeleteCard(r.Context(), r.PathValue("id"), r.PathValue("cardNo"))
	if err != nil {
		s.serviceError(w, "delete card", err)
		return
	}

	respond(w, r, resultStatus(res.Success, res.Kind), res)
}

func (s *Server) handleSearchCards(w http.ResponseWriter, r *http.Request) {
	maxResults, ok := intQuery(w, r, "max")
	if !ok {
		return
	}

	res, err := s.provision.SearchCards(r.Context(), r.PathValue("id"), maxResults)
	if err != nil {
		s.serviceError(w, "search cards", err)
		return
	}

	respond(w, r, resultStatus(res.Success, ""), res)
}

func (s *Server) handleSearchFingerprints(w http.ResponseWriter, r *http.Request) {
	maxResults, ok := intQuery(w, r, "max")
	if !ok {
		return
	}

	res, err := s.provision.SearchFingerprints(r.Context(), r.PathValue("id"), maxResults)
	if err != nil {
		s.serviceError(w, "search fingerprints", err)
		return
	}

	respond(w, r, resultStatus(res.Success, ""), res)
}

// ── Events ───────────────────────────────────────────────────────────────────

type syncBody struct {
	Since string `json:"since"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body syncBody
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	var since *time.Time

	if strings.TrimSpace(body.Since) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(body.Since))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be RFC 3339")
			return
		}

		since = &t
	}

	rep, err := s.sync.SyncDevice(r.Context(), r.PathValue("id"), since)
	if err != nil {
		if rep.RunID == "" {
			s.serviceError(w, "sync", err)
			return
		}

		respond(w, r, statusForKind(rep.Kind), rep)

		return
	}

	respond(w, r, http.StatusOK, rep)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := store.EventQuery{DeviceID: r.PathValue("id")}

	if q.DeviceID != "" {
		if _, err := s.registry.Client(q.DeviceID); err != nil {
			s.serviceError(w, "list events", err)
			return
		}
	}

	var ok bool

	if q.Since, ok = timeQuery(w, r, "since"); !ok {
		return
	}

	if q.Until, ok = timeQuery(w, r, "until"); !ok {
		return
	}

	if q.Limit, ok = intQuery(w, r, "limit"); !ok {
		return
	}

	events, err := s.events.ListEvents(r.Context(), q)
	if err != nil {
		s.internalError(w, "list events", err)
		return
	}

	if events == nil {
		events = []store.AccessEventRecord{}
	}

	respond(w, r, http.StatusOK, map[string]any{"events": events})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a non-negative integer")
		return 0, false
	}

	return n, true
}

func timeQuery(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, true
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be RFC 3339")
		return time.Time{}, false
	}

	return t, true
}
