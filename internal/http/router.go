// Package httpx wires the panel's HTTP surface to its services.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
	"github.com/loickadjiwanou/hostedhost/internal/service/archive"
	"github.com/loickadjiwanou/hostedhost/internal/service/auth"
	"github.com/loickadjiwanou/hostedhost/internal/service/deploy"
	"github.com/loickadjiwanou/hostedhost/internal/service/project"
	"github.com/loickadjiwanou/hostedhost/internal/service/structure"
	"github.com/loickadjiwanou/hostedhost/internal/service/supervisor"
	"github.com/loickadjiwanou/hostedhost/internal/ws"
)

const (
	rateWindowDefault = time.Minute
	rateLimitSignup   = 5
	rateLimitLogin    = 12
	rateLimitDeploy   = 10
	rateLimitRead     = 120
	rateLimitControl  = 60

	healthCheckTimeout = 2 * time.Second
	maxMultipartMemory = 32 << 20
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	project  project.Service
	deploy   *deploy.Service
	events   *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	deployResults      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies. dbHealth may be nil when the
// panel runs without a database.
func NewRouter(logger *slog.Logger, authSvc auth.Service, projectSvc project.Service, deploySvc *deploy.Service,
	events *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		project: projectSvc,
		deploy:  deploySvc,
		events:  events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.instrument("signup", r.withRateLimit(rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.instrument("login", r.withRateLimit(rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/deploy/dynamic", r.instrument("deploy_dynamic", r.handlerAuthRate(rateLimitDeploy, rateWindowDefault, r.handleDeployDynamic)))
	r.mux.HandleFunc("/stop/", r.instrument("stop", r.handlerAuthRate(rateLimitControl, rateWindowDefault, r.handleStop)))
	r.mux.HandleFunc("/restart/", r.instrument("restart", r.handlerAuthRate(rateLimitControl, rateWindowDefault, r.handleRestart)))
	r.mux.HandleFunc("/processes", r.instrument("processes", r.handlerAuthRate(rateLimitRead, rateWindowDefault, r.handleProcesses)))
	r.mux.HandleFunc("/projects", r.instrument("projects", r.handlerAuthRate(rateLimitRead, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/ws/events", r.requireAuth(r.handleEvents))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload, ok := decodeCredentials(w, req)
	if !ok {
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":  map[string]any{"id": user.ID, "email": user.Email},
		"token": token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload, ok := decodeCredentials(w, req)
	if !ok {
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  map[string]any{"id": user.ID, "email": user.Email},
		"token": token,
	})
}

func (r *Router) handleDeployDynamic(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.callerInfo(w, req)
	if !ok {
		return
	}
	if err := req.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		if req.MultipartForm != nil {
			_ = req.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := req.FormFile("archive")
	if err != nil {
		writeError(w, http.StatusBadRequest, "archive file is required")
		return
	}
	defer file.Close()

	result, err := r.deploy.Deploy(req.Context(), deploy.Input{
		OwnerID:     info.UserID,
		Name:        req.FormValue("name"),
		Description: req.FormValue("description"),
		Filename:    header.Filename,
		MediaType:   header.Header.Get("Content-Type"),
		Size:        header.Size,
		Archive:     file,
	})
	if err != nil {
		r.recordDeployResult("failure")
		r.writeDeployError(w, err)
		return
	}
	r.recordDeployResult("success")
	writeJSON(w, http.StatusCreated, map[string]any{
		"project": projectView(result.Project),
		"port":    result.Port,
		"notes":   result.Notes,
	})
}

// writeDeployError maps the orchestrator's error taxonomy to status codes.
func (r *Router) writeDeployError(w http.ResponseWriter, err error) {
	var validationErr *archive.ValidationError
	var structureErr *structure.StructureError
	var manifestErr *structure.ManifestError
	var stageErr *deploy.StageError

	switch {
	case errors.Is(err, deploy.ErrNameRequired),
		errors.Is(err, deploy.ErrInvalidName),
		errors.Is(err, deploy.ErrArchiveRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deploy.ErrNameTaken):
		writeError(w, http.StatusConflict, "project name already used")
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &structureErr), errors.As(err, &manifestErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &stageErr):
		writeError(w, http.StatusInternalServerError, stageErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "deployment failed")
	}
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.callerInfo(w, req)
	if !ok {
		return
	}
	name := pathSuffix(req.URL.Path, "/stop/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "project name required")
		return
	}
	if err := r.deploy.Stop(req.Context(), info.UserID, name); err != nil {
		if errors.Is(err, deploy.ErrNoProcess) {
			writeError(w, http.StatusNotFound, "no running process for project")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"project": name, "status": string(domain.StatusStopped)})
}

func (r *Router) handleRestart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.callerInfo(w, req)
	if !ok {
		return
	}
	name := pathSuffix(req.URL.Path, "/restart/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "project name required")
		return
	}
	proj, err := r.deploy.Restart(req.Context(), info.UserID, name)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, deploy.ErrNotRestartable):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": projectView(*proj)})
}

func (r *Router) handleProcesses(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.callerInfo(w, req)
	if !ok {
		return
	}
	processes := r.deploy.Processes(info.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"processes": processes})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.callerInfo(w, req)
	if !ok {
		return
	}
	projects, err := r.project.ListByOwner(req.Context(), info.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	views := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		views = append(views, projectView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": views})
}

// handleEvents upgrades to a websocket and streams deployment stage events for
// one of the caller's projects.
func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	info, ok := r.callerInfo(w, req)
	if !ok {
		return
	}
	name := strings.TrimSpace(req.URL.Query().Get("project"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "project query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	key := supervisor.Key(info.UserID, name)
	r.events.Register(key, client)
	defer r.events.Unregister(key, client)

	// Block until the peer goes away; events flow through the hub.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) callerInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, req *http.Request) (credentials, bool) {
	var payload credentials
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return credentials{}, false
	}
	return payload, true
}

func pathSuffix(path, prefix string) string {
	name := strings.TrimPrefix(path, prefix)
	name = strings.Trim(name, "/")
	if strings.ContainsRune(name, '/') {
		return ""
	}
	return name
}

func projectView(p domain.Project) map[string]any {
	return map[string]any{
		"name":          p.Name,
		"description":   p.Description,
		"kind":          p.Kind,
		"status":        p.Status,
		"port":          p.Port,
		"size_bytes":    p.SizeBytes,
		"frontend_deps": p.FrontendDeps,
		"backend_deps":  p.BackendDeps,
		"uses_database": p.UsesDatabase,
		"created_at":    p.CreatedAt,
		"updated_at":    p.UpdatedAt,
	}
}
