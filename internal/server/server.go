// Package server assembles the daemon: the UCI store and its backend, the
// RPC bus with every object, authentication, the web handlers and the
// background loops that keep sessions, metrics and revisions current.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"grimm.is/luci/internal/audit"
	"grimm.is/luci/internal/auth"
	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/config"
	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/form"
	lfs "grimm.is/luci/internal/fs"
	"grimm.is/luci/internal/health"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/poll"
	"grimm.is/luci/internal/ratelimit"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/state"
	"grimm.is/luci/internal/status"
	"grimm.is/luci/internal/uci"
	"grimm.is/luci/internal/ui/web"
	"grimm.is/luci/internal/views"
)

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns the limits used by Run. There is no write
// timeout: websocket connections keep the deadline of the upgrade request.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      4 << 20,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Login attempts allowed per client address and minute.
const loginLimit = 5

// Options holds the dependencies of a Server. Only Config is required.
type Options struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Clock   clock.Clock
	// Backend overrides the backend selected by Config.Backend.
	Backend uci.Backend
	// Views overrides loading Config.ViewsDir.
	Views *views.Registry
}

// Server is the assembled daemon.
type Server struct {
	cfg     *config.Config
	http    ServerConfig
	logger  *logging.Logger
	metrics *metrics.Registry
	clock   clock.Clock

	store    *uci.Store
	state    *state.SQLiteStore
	hub      *events.Hub
	bus      *rpc.Bus
	views    *views.Registry
	files    *lfs.Helper
	users    *auth.Store
	acl      *auth.ACL
	mw       *auth.Middleware
	sessions *form.Sessions
	health   *health.Checker
	limiter  *ratelimit.Limiter
	bridge   *rpc.Bridge
	audit    *audit.Store
	// stops the audit recorder
	stopAudit func()

	mux *http.ServeMux
}

// New builds a server from configuration. The sqlite backend is opened
// and seeded from the config directory here; Close releases it.
func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ApplyDefaults()
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Default()
	}

	s := &Server{
		cfg:     cfg,
		http:    DefaultServerConfig(),
		logger:  opts.Logger.WithComponent("server"),
		metrics: opts.Metrics,
		clock:   opts.Clock,
		hub:     events.NewHubWithClock(opts.Clock),
		bus:     rpc.NewBus(),
		limiter: ratelimit.NewLimiter(opts.Clock),
		mux:     http.NewServeMux(),
	}
	s.bus.SetMetrics(s.metrics)
	s.bridge = rpc.NewBridge(s.bus)

	if err := s.initStore(ctx, opts.Backend); err != nil {
		return nil, err
	}
	if err := s.initViews(opts.Views); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initAuth(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initAudit(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.registerObjects(); err != nil {
		s.Close()
		return nil, err
	}
	s.initHealth()
	s.initRoutes()
	return s, nil
}

func (s *Server) initStore(ctx context.Context, backend uci.Backend) error {
	files := uci.NewFileBackend(s.cfg.ConfigDir)
	if backend == nil {
		switch s.cfg.Backend {
		case "sqlite":
			opts := state.DefaultOptions(s.cfg.StatePath)
			opts.Clock = s.clock
			st, err := state.NewSQLiteStore(opts)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			n, err := st.Seed(ctx, files)
			if err != nil {
				st.Close()
				return fmt.Errorf("seed state: %w", err)
			}
			if n > 0 {
				s.logger.Info("imported packages", "count", n, "dir", s.cfg.ConfigDir)
			}
			s.state = st
			backend = st
		default:
			backend = files
		}
	} else if st, ok := backend.(*state.SQLiteStore); ok {
		s.state = st
	}

	s.store = uci.NewStore(backend)
	s.store.OnCommit(events.CommitHook(s.hub))
	s.store.OnCommit(func(pkg string, _ []uci.Change) {
		s.metrics.RecordCommit(pkg)
	})
	if s.state != nil && s.cfg.ConfigDir != "" {
		s.store.OnCommit(s.exportTo(files))
	}
	return nil
}

// exportTo writes committed packages to the config directory so that
// services reading /etc/config see what the revision store holds.
func (s *Server) exportTo(files *uci.FileBackend) uci.CommitHook {
	return func(pkg string, _ []uci.Change) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := s.store.Committed(ctx, pkg)
		if err == nil {
			err = files.Save(ctx, p)
		}
		if err != nil {
			s.logger.Warn("export failed", "package", pkg, "error", err)
		}
	}
}

func (s *Server) initViews(r *views.Registry) error {
	if r == nil {
		var err error
		if r, err = LoadViews(s.cfg.ViewsDir); err != nil {
			return err
		}
	}
	s.views = r
	s.logger.Info("views loaded", "count", r.Len())
	return nil
}

// LoadViews reads the view files in dir and adds the built-in samples that
// dir does not override. A missing dir yields the samples alone.
func LoadViews(dir string) (*views.Registry, error) {
	r, err := views.LoadDir(dir)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		r = views.NewRegistry()
	default:
		return nil, fmt.Errorf("load views: %w", err)
	}
	samples, err := views.Samples()
	if err != nil {
		return nil, err
	}
	r.Merge(samples)
	return r, nil
}

func (s *Server) initAuth() error {
	users, err := auth.NewStore(auth.Options{
		Path:       s.cfg.Auth.UsersFile,
		SessionTTL: s.cfg.SessionTTL(),
		Clock:      s.clock,
		Hub:        s.hub,
		Metrics:    s.metrics,
	})
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, u := range s.cfg.Users {
		role := auth.RoleAdmin
		if u.Role != "" {
			if role, err = auth.ParseRole(u.Role); err != nil {
				return fmt.Errorf("user %s: %w", u.Name, err)
			}
		}
		if err := users.AddUser(u.Name, u.Hash, role); err != nil {
			return fmt.Errorf("user %s: %w", u.Name, err)
		}
	}
	if s.cfg.RequireAuth() && !users.HasUsers() {
		s.logger.Warn("authentication required but no users exist; run passwd")
	}

	s.users = users
	s.acl = auth.NewACL(users, s.cfg.RequireAuth())
	s.mw = auth.NewMiddleware(s.acl)
	s.bus.SetAuthorizer(s.acl)
	s.sessions = form.NewSessions(s.cfg.SessionTTL(), s.clock)
	return nil
}

// initAudit opens the audit trail and starts recording commits and
// logins. Without Config.AuditPath there is no trail.
func (s *Server) initAudit() error {
	if s.cfg.AuditPath == "" {
		return nil
	}
	st, err := audit.NewStore(audit.Options{Path: s.cfg.AuditPath, Clock: s.clock})
	if err != nil {
		return err
	}
	s.audit = st
	s.stopAudit = audit.Record(s.hub, st, s.logger.WithComponent("audit"))
	return nil
}

func (s *Server) registerObjects() error {
	s.files = lfs.New(lfs.Config{
		Allow:   s.cfg.FS.Allow,
		Exec:    s.cfg.FS.Exec,
		MaxRead: s.cfg.FS.MaxRead,
	})

	objs := map[string]rpc.Object{
		"session": s.acl.Object(),
		"uci":     s.store.Object(),
		"file":    s.files.Object(),
	}
	if s.state != nil {
		objs["luci.history"] = s.state.Object(s.store)
	}
	if s.audit != nil {
		objs["luci.audit"] = s.audit.Object()
	}
	for name, obj := range objs {
		if err := s.bus.Register(name, obj); err != nil {
			return err
		}
	}
	return status.Register(s.bus, status.Options{
		LogViews: s.logView,
		LogDirs:  []string{brand.GetLogDir(), "/var/log"},
	})
}

// logView resolves a log view for luci.log.
func (s *Server) logView(name string) (logging.Source, logging.TailOptions, bool) {
	v, ok := s.views.Get(name)
	if !ok || v.Log == nil {
		return logging.Source{}, logging.TailOptions{}, false
	}
	return v.Log.LogSource(), v.Log.TailOptions(), true
}

func (s *Server) initHealth() {
	s.health = health.NewChecker(s.clock)
	s.health.Register("store", health.StoreCheck(s.store))
	s.health.Register("bus", health.BusCheck(s.bus, "session", "uci", "file"))
	if s.state != nil {
		s.health.Register("state", health.BackendCheck(s.state))
	}
	if s.audit != nil {
		s.health.Register("audit", func(ctx context.Context) health.Check {
			n, err := s.audit.Count(ctx)
			return health.Result(err, health.StatusDegraded, "%d entries", n)
		})
	}
	if s.cfg.ConfigDir != "" {
		s.health.Register("disk", health.DiskCheck(s.files, s.cfg.ConfigDir, 5))
	}
}

func (s *Server) initRoutes() {
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.Handle("GET /healthz", s.health.Handler())
	s.mux.Handle("GET /livez", health.LivenessHandler())
	s.mux.Handle("POST /api/auth/login",
		s.limiter.Middleware("login", loginLimit, time.Minute, http.HandlerFunc(s.mw.LoginHandler)))
	s.mux.HandleFunc("POST /api/auth/logout", s.mw.LogoutHandler)
	s.mux.Handle("POST /ubus", rpc.NewHTTPHandler(s.bus))

	web.NewHandler(web.Options{
		Views:    s.views,
		Store:    s.store,
		Bus:      s.bus,
		Hub:      s.hub,
		Sessions: s.sessions,
		Logger:   s.logger.WithComponent("web"),
		Metrics:  s.metrics,
		Guard:    s.guard,
	}).RegisterRoutes(s.mux)
}

// guard requires a role for action. Pages send anonymous browsers to the
// login form instead of answering 401.
func (s *Server) guard(action string, next http.Handler) http.Handler {
	protected := s.mw.RequireRole(action, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && (r.URL.Path == "/" || strings.HasPrefix(r.URL.Path, "/ui/")) {
			if _, err := s.acl.Resolve(auth.SessionID(r)); err != nil {
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}
		}
		protected.ServeHTTP(w, r)
	})
}

// Handler returns the root handler with logging, body limits and
// language selection applied.
func (s *Server) Handler() http.Handler {
	return s.accessLog(maxBody(s.http.MaxBodyBytes, i18n.Middleware(s.mux)))
}

// Bus returns the RPC bus.
func (s *Server) Bus() *rpc.Bus { return s.bus }

// Store returns the UCI store.
func (s *Server) Store() *uci.Store { return s.store }

// Views returns the view registry.
func (s *Server) Views() *views.Registry { return s.views }

// Hub returns the event hub.
func (s *Server) Hub() *events.Hub { return s.hub }

// Users returns the user store.
func (s *Server) Users() *auth.Store { return s.users }

// Run serves HTTP on Config.Listen and the bus on Config.SocketPath until
// ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.startBackground(ctx)

	if s.cfg.SocketPath != "" {
		if sl, err := rpc.Listen(s.cfg.SocketPath); err != nil {
			s.logger.Warn("bus socket disabled", "error", err)
		} else {
			go func() {
				if err := s.bridge.Serve(ctx, sl); err != nil {
					s.logger.Error("bus socket failed", "error", err)
				}
			}()
		}
	}

	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.http.ReadHeaderTimeout,
		ReadTimeout:       s.http.ReadTimeout,
		IdleTimeout:       s.http.IdleTimeout,
		MaxHeaderBytes:    s.http.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), s.http.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// startBackground starts the loops that live as long as ctx: session
// reaping, metrics collection, limiter cleanup and revision events.
func (s *Server) startBackground(ctx context.Context) {
	housekeeping := poll.New(ctx, poll.Options{
		Clock:   s.clock,
		Metrics: s.metrics,
		Logger:  s.logger,
	})
	housekeeping.Add("auth-sessions", time.Minute, func(context.Context) (any, error) {
		return s.users.Reap(), nil
	})
	housekeeping.Add("form-sessions", time.Minute, func(context.Context) (any, error) {
		return s.sessions.Reap(), nil
	})
	if s.audit != nil {
		housekeeping.Add("audit-prune", time.Hour, func(ctx context.Context) (any, error) {
			return s.audit.Prune(ctx)
		})
	}

	collector := metrics.NewCollector(s.metrics, 15*time.Second)
	collector.Sample = status.Sample
	collector.EventStats = s.hub.Stats
	go collector.Run(ctx)

	go s.limiter.Run(ctx, 10*time.Minute, time.Hour)

	if s.state != nil {
		events.WatchRevisions(ctx, s.hub, s.state)
	}
}

// Close releases the bus socket and the revision database.
func (s *Server) Close() error {
	var errs []error
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.stopAudit != nil {
		s.stopAudit()
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	if s.state != nil {
		errs = append(errs, s.state.Close())
	}
	return errors.Join(errs...)
}
