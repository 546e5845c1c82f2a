// Package controlplane serves the Guardian HTTP API used by the decision
// authority and the CLI.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fentz26/guardian/internal/adaptation"
	"github.com/fentz26/guardian/internal/auth"
	"github.com/fentz26/guardian/internal/cleanup"
	"github.com/fentz26/guardian/internal/guardian"
	"github.com/fentz26/guardian/internal/health"
	"github.com/fentz26/guardian/internal/integrity"
	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/models"
)

// Version is reported by /health.
var Version = "0.1.0"

const maxBodyBytes = 1 << 20

// Store is the slice of persistent storage the API reads directly.
type Store interface {
	Ping(ctx context.Context) error
	ListPDR(subjectID string, limit int) ([]models.PDREntry, error)
}

// Deps are the services behind the API. All are required.
type Deps struct {
	Guardian   *guardian.Guardian
	Health     *health.Monitor
	Integrity  *integrity.Checker
	Adaptation *adaptation.Engine
	Store      Store
}

// Options tunes the server.
type Options struct {
	Addr string
	// Issuer verifies approver tokens. Nil trusts the approver named in the
	// request body.
	Issuer *auth.Issuer
	// HeartbeatRPS and HeartbeatBurst bound heartbeat traffic. Zero RPS
	// disables the limit.
	HeartbeatRPS   float64
	HeartbeatBurst int
	Logger         *zap.Logger
}

// Server provides the HTTP API for Guardian.
type Server struct {
	deps    Deps
	addr    string
	issuer  *auth.Issuer
	limiter *rate.Limiter
	logger  *zap.Logger
	hub     *Hub
	handler http.Handler
	server  *http.Server
}

// NewServer creates the server and subscribes its threat stream to the
// guardian.
func NewServer(deps Deps, opts Options) (*Server, error) {
	if deps.Guardian == nil || deps.Health == nil || deps.Integrity == nil || deps.Adaptation == nil || deps.Store == nil {
		return nil, errors.New("controlplane: all dependencies are required")
	}
	logger := logging.OrNop(opts.Logger).Named("api")
	s := &Server{
		deps:   deps,
		addr:   opts.Addr,
		issuer: opts.Issuer,
		logger: logger,
		hub:    NewHub(logger),
	}
	if opts.HeartbeatRPS > 0 {
		burst := opts.HeartbeatBurst
		if burst <= 0 {
			burst = int(opts.HeartbeatRPS)
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.HeartbeatRPS), max(burst, 1))
	}
	deps.Guardian.OnThreat(s.hub)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}

	handle("GET /health", s.handleHealth)
	handle("GET /status", s.handleStatus)
	handle("POST /check", s.handleCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	handle("GET /components", s.listComponents)
	handle("POST /components", s.registerComponent)
	handle("GET /components/{id}", s.getComponent)
	handle("DELETE /components/{id}", s.unregisterComponent)
	handle("POST /components/{id}/heartbeat", s.heartbeat)

	handle("GET /threats", s.listThreats)
	handle("GET /threats/{id}", s.getThreat)
	handle("POST /threats/{id}/resolve", s.resolveThreat)
	// Hijacked connections bypass instrumentation.
	mux.Handle("GET /ws/threats", s.hub)

	handle("GET /proposals", s.listProposals)
	handle("POST /proposals", s.propose)
	handle("GET /proposals/{id}", s.getProposal)
	handle("POST /proposals/{id}/approve", s.approve)
	handle("POST /proposals/{id}/reject", s.reject)
	handle("POST /proposals/{id}/apply", s.apply)
	handle("POST /proposals/{id}/rollback", s.rollback)
	handle("GET /history", s.history)
	handle("GET /audit", s.audit)

	handle("POST /integrity/baseline", s.integrityBaseline)
	handle("POST /integrity/scan", s.integrityScan)
	handle("POST /integrity/quick", s.integrityQuick)
	handle("POST /integrity/verify", s.integrityVerify)

	handle("GET /cleanup/scan", s.cleanupScan)
	handle("POST /cleanup/run", s.cleanupRun)
	handle("POST /cleanup/emergency", s.cleanupEmergency)
	return mux
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the threat stream.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	s.logger.Info("control plane listening", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects threat subscribers and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(rec, r)

		elapsed := time.Since(start)
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("request",
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

// decode reads an optional JSON body into v. An empty body leaves v unchanged.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
	}
	return n, nil
}

// identity returns who is acting. With an issuer configured only a verified
// bearer token counts; otherwise the name from the body is trusted.
func (s *Server) identity(r *http.Request, claimed string) (string, error) {
	if s.issuer == nil {
		if claimed == "" {
			return "", fmt.Errorf("%w: approver is required", ErrBadRequest)
		}
		return claimed, nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("%w: bearer token required", ErrUnauthorized)
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Approver, nil
}

// --- System ---

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Guardian.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type rootsRequest struct {
	Roots []string `json:"roots,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req rootsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Guardian.FullCheck(r.Context(), req.Roots)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Components ---

// RegisterRequest is the body of POST /components.
type RegisterRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Critical bool   `json:"critical"`
}

// HeartbeatRequest is the body of POST /components/{id}/heartbeat.
type HeartbeatRequest struct {
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func (s *Server) listComponents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Status().Components)
}

func (s *Server) registerComponent(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		writeError(w, fmt.Errorf("%w: id is required", ErrBadRequest))
		return
	}
	s.deps.Health.Register(req.ID, health.Options{Type: req.Type, Critical: req.Critical})
	c, _ := s.deps.Health.Component(req.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := s.deps.Health.Component(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", ErrComponentNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) unregisterComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Health.Unregister(id) {
		writeError(w, fmt.Errorf("%w: %s", ErrComponentNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, ErrRateLimited)
		return
	}
	var req HeartbeatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if !s.deps.Health.Heartbeat(id, req.Metrics) {
		writeError(w, fmt.Errorf("%w: %s", ErrComponentNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Threats ---

// ResolveRequest is the body of POST /threats/{id}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) listThreats(w http.ResponseWriter, r *http.Request) {
	status := models.ThreatStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ThreatPending, models.ThreatResolved:
	default:
		writeError(w, fmt.Errorf("%w: unknown status %q", ErrBadRequest, status))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Guardian.Threats(status))
}

func (s *Server) getThreat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := s.deps.Guardian.Threat(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", guardian.ErrThreatNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) resolveThreat(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Resolution == "" {
		req.Resolution = "acknowledged"
	}
	t, err := s.deps.Guardian.ResolveThreat(r.PathValue("id"), req.Resolution)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Proposals ---

// ApproveRequest is the body of POST /proposals/{id}/approve.
type ApproveRequest struct {
	Approver string `json:"approver,omitempty"`
}

// RejectRequest is the body of POST /proposals/{id}/reject.
type RejectRequest struct {
	Reason   string `json:"reason"`
	Rejector string `json:"rejector,omitempty"`
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var list []models.Proposal
	if risk := q.Get("risk"); risk != "" {
		list = s.deps.Adaptation.ByRisk(models.Risk(risk))
	} else {
		list = s.deps.Adaptation.List()
	}
	if status := q.Get("status"); status != "" {
		kept := list[:0]
		for _, p := range list {
			if string(p.Status) == status {
				kept = append(kept, p)
			}
		}
		list = kept
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) propose(w http.ResponseWriter, r *http.Request) {
	var change adaptation.Change
	if err := decode(r, &change); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.deps.Adaptation.Propose(r.Context(), change)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.deps.Adaptation.Proposal(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", adaptation.ErrProposalNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	approver, err := s.identity(r, req.Approver)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.deps.Adaptation.Approve(r.Context(), r.PathValue("id"), approver)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rejector, err := s.identity(r, req.Rejector)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.deps.Adaptation.Reject(r.Context(), r.PathValue("id"), req.Reason, rejector)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Guardian.ApplyProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Guardian.RollbackProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Adaptation.History(limit))
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.deps.Store.ListPDR(r.URL.Query().Get("subject"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Integrity ---

// VerifyRequest is the body of POST /integrity/verify.
type VerifyRequest struct {
	Path string `json:"path"`
}

// BaselineResponse is the result of POST /integrity/baseline.
type BaselineResponse struct {
	Files int `json:"files"`
}

func (s *Server) integrityBaseline(w http.ResponseWriter, r *http.Request) {
	var req rootsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, err := s.deps.Guardian.Baseline(r.Context(), req.Roots)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BaselineResponse{Files: n})
}

func (s *Server) integrityScan(w http.ResponseWriter, r *http.Request) {
	var req rootsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Guardian.ScanIntegrity(r.Context(), req.Roots)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) integrityQuick(w http.ResponseWriter, r *http.Request) {
	var req rootsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Guardian.RunIntegrityCheck(r.Context(), req.Roots)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) integrityVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, fmt.Errorf("%w: path is required", ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Integrity.VerifyFile(req.Path))
}

// --- Cleanup ---

func (s *Server) cleanupScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Guardian.RunCleanupScan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cleanupRun(w http.ResponseWriter, r *http.Request) {
	var opts cleanup.CleanOptions
	if err := decode(r, &opts); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Guardian.ExecuteCleanup(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cleanupEmergency(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Guardian.EmergencyCleanup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
