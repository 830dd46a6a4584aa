package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/auth"
	"github.com/loykin/agentvisor/internal/health"
	"github.com/loykin/agentvisor/internal/metrics"
	"github.com/loykin/agentvisor/internal/supervisor"
)

// Router provides embeddable HTTP handlers exposing the supervisor.
// Endpoints:
//
//	GET  {basePath}/health                 liveness of the supervisor itself
//	GET  {basePath}/agents                 state of every agent
//	GET  {basePath}/agents/:name           state of one agent
//	POST {basePath}/agents/:name/restart   force a restart
//	GET  {basePath}/metrics                Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup       *supervisor.Supervisor
	resources *metrics.ResourceCollector
	basePath  string
	auth      *auth.Authenticator
}

// NewRouter constructs a new Router with configurable basePath. resources may be nil.
func NewRouter(sup *supervisor.Supervisor, resources *metrics.ResourceCollector, basePath string) *Router {
	return &Router{sup: sup, resources: resources, basePath: sanitizeBase(basePath)}
}

// WithAuth requires credentials on every endpoint except /health.
func (r *Router) WithAuth(a *auth.Authenticator) *Router {
	r.auth = a
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET(r.basePath+"/health", r.handleHealth)
	group := g.Group(r.basePath, r.auth.GinAuth())
	group.GET("/agents", r.handleAgents)
	group.GET("/agents/:name", r.handleAgent)
	group.POST("/agents/:name/restart", r.handleRestart)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// Options configures NewServer.
type Options struct {
	Addr     string
	BasePath string
	// TLS, when non-nil, serves HTTPS.
	TLS  *tls.Config
	Auth *auth.Authenticator
}

// NewServer binds o.Addr and serves the router in the background. Bind errors
// are returned; later serve errors are logged.
func NewServer(o Options, sup *supervisor.Supervisor, resources *metrics.ResourceCollector) (*http.Server, error) {
	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return nil, err
	}
	tlsCfg := o.TLS
	r := NewRouter(sup, resources, o.BasePath).WithAuth(o.Auth)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status API stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type agentResp struct {
	Name            string         `json:"name"`
	WorkUnit        string         `json:"work_unit"`
	State           health.State   `json:"state"`
	PID             int            `json:"pid,omitempty"`
	LastTick        *time.Time     `json:"last_tick,omitempty"`
	HeartbeatStatus string         `json:"heartbeat_status,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	Usage           *metrics.Usage `json:"usage,omitempty"`
}

type restartResp struct {
	OK  bool `json:"ok"`
	PID int  `json:"pid"`
}

func (r *Router) toResp(o health.Observation) agentResp {
	out := agentResp{
		Name:            o.Agent,
		WorkUnit:        string(o.WorkUnit),
		State:           o.State,
		PID:             o.PID,
		HeartbeatStatus: string(o.HBStatus),
	}
	if !o.LastTick.IsZero() {
		t := o.LastTick.UTC()
		out.LastTick = &t
	}
	if !o.StartedAt.IsZero() {
		t := o.StartedAt.UTC()
		out.StartedAt = &t
	}
	if r.resources != nil && o.State == health.Running {
		if u, ok := r.resources.Latest(o.Agent); ok && u.PID == o.PID {
			out.Usage = &u
		}
	}
	return out
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "checked_agents": len(r.sup.Last())})
}

func (r *Router) handleAgents(c *gin.Context) {
	obs, err := r.sup.Inspector.ObserveAll(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]agentResp, 0, len(obs))
	for _, o := range obs {
		out = append(out, r.toResp(o))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) lookup(c *gin.Context) (agent.Definition, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid agent name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return agent.Definition{}, false
	}
	def, err := r.sup.Inspector.Agents.Get(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return agent.Definition{}, false
	}
	return def, true
}

func (r *Router) handleAgent(c *gin.Context) {
	def, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.toResp(r.sup.Inspector.Observe(c.Request.Context(), def)))
}

func (r *Router) handleRestart(c *gin.Context) {
	def, ok := r.lookup(c)
	if !ok {
		return
	}
	// the restart must finish even if the client goes away
	pid, err := r.sup.Restart(context.WithoutCancel(c.Request.Context()), def.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, restartResp{OK: true, PID: pid})
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, agent.ErrNotFound) {
		code = http.StatusNotFound
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}
