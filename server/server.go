package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/pipeline"
	"github.com/janelia-flyem/NeuroProof-sub000/ragio"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"
)

// WebAPIPath is the prefix of all HTTP endpoints.
const WebAPIPath = "/api/"

const WebHelp = `
NeuroProof agglomeration server %s

GET  /api/about
	Returns JSON with the engine and interchange versions and the available cores.

GET  /api/help
	Returns this help.

POST /api/agglomerate[?query-string]
	Agglomerates the posted interchange graph document and returns JSON:

	{ "report": {...}, "graph": {...}, "mapping": [[removed, kept], ...] }

	Query-string options override the server defaults:

	algorithm        prob, queue, flat or mrf
	threshold        merge edges with probability at or below this value
	mito             mitochondrion merge threshold, 0 disables the pass
	usemito          "true" vetoes merges that involve mitochondria
	inclusions       "true" removes regions enclosed by a single region
	refine           "true" re-estimates remaining edge weights
	workers          number of refinement workers
	subset           refinement neighbor subset size
	maxiter          bound on the iterations of a merge loop
`

// Server answers agglomeration requests over HTTP.
type Server struct {
	config Config
	users  map[string]string
	jobs   chan struct{}
	mux    *web.Mux
}

// New returns a server with its routes installed.
func New(cfg Config) (*Server, error) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultWebAddress
	}
	if cfg.Server.MaxBodyMB <= 0 {
		cfg.Server.MaxBodyMB = DefaultMaxBodyMB
	}
	if cfg.Server.MaxJobs <= 0 {
		cfg.Server.MaxJobs = DefaultMaxJobs
	}
	s := &Server{
		config: cfg,
		jobs:   make(chan struct{}, cfg.Server.MaxJobs),
	}
	if cfg.Auth.enabled() {
		users, err := loadAuthFile(cfg.Auth.AuthFile)
		if err != nil {
			return nil, err
		}
		s.users = users
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(logRequests)
	mux.Use(recoverPanics)
	if s.config.Auth.enabled() {
		mux.Use(s.isAuthorized)
	}
	mux.Get(WebAPIPath+"about", s.aboutHandler)
	mux.Get(WebAPIPath+"help", s.helpHandler)
	mux.Post(WebAPIPath+"agglomerate", s.agglomerateHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "no endpoint %s %s, see %shelp", r.Method, r.URL.Path, WebAPIPath)
	})
	s.mux = mux
}

// Handler returns the HTTP handler of the server, wrapped for CORS when
// domains are configured.
func (s *Server) Handler() http.Handler {
	if len(s.config.Server.CorsDomains) == 0 {
		return s.mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.CorsDomains,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.mux)
}

// ListenAndServe serves HTTP until ctx is done, then waits up to the
// configured shutdown delay for requests in flight.
func (s *Server) ListenAndServe(ctx context.Context) error {
	src := &http.Server{
		Addr:        s.config.Server.Address,
		Handler:     s.Handler(),
		ReadTimeout: 1 * time.Hour,
	}
	np.Infof("Web server listening at %s ...\n", src.Addr)

	errc := make(chan error, 1)
	go func() {
		errc <- src.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	delay := time.Duration(s.config.Server.ShutdownDelay) * time.Second
	sctx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	np.Infof("Shutting down web server, waiting up to %s for requests\n", delay)
	if err := src.Shutdown(sctx); err != nil {
		return fmt.Errorf("web server shutdown: %v", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// About describes the running engine.
type About struct {
	Version     string `json:"neuroproof"`
	Interchange string `json:"interchange"`
	GoVersion   string `json:"go"`
	Cores       int    `json:"cores"`
	MaxJobs     int    `json:"max_jobs"`
}

func (s *Server) aboutHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, About{
		Version:     np.Version,
		Interchange: np.InterchangeVersion,
		GoVersion:   runtime.Version(),
		Cores:       runtime.NumCPU(),
		MaxJobs:     s.config.Server.MaxJobs,
	})
}

func (s *Server) helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, WebHelp, np.Version)
}

// AgglomerateResponse is the body returned by /api/agglomerate.
type AgglomerateResponse struct {
	Report  *pipeline.Report `json:"report"`
	Graph   *ragio.Document  `json:"graph"`
	Mapping [][2]uint64      `json:"mapping"`
}

// requestConfig applies query-string overrides to the server defaults.
func (s *Server) requestConfig(r *http.Request) (pipeline.AgglomerationConfig, pipeline.RefineConfig, error) {
	acfg := s.config.Agglomeration
	rcfg := s.config.Refine
	query := r.URL.Query()

	var err error
	parseFloat := func(key string, dst *float64) {
		if v := query.Get(key); v != "" && err == nil {
			if *dst, err = strconv.ParseFloat(v, 64); err != nil {
				err = fmt.Errorf("bad %q value %q", key, v)
			}
		}
	}
	parseBool := func(key string, dst *bool) {
		if v := query.Get(key); v != "" && err == nil {
			if *dst, err = strconv.ParseBool(v); err != nil {
				err = fmt.Errorf("bad %q value %q", key, v)
			}
		}
	}
	parseInt := func(key string, dst *int) {
		if v := query.Get(key); v != "" && err == nil {
			if *dst, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("bad %q value %q", key, v)
			}
		}
	}
	if v := query.Get("algorithm"); v != "" {
		acfg.Algorithm = v
	}
	parseFloat("threshold", &acfg.Threshold)
	parseFloat("mito", &acfg.MitoThreshold)
	parseBool("usemito", &acfg.UseMito)
	parseBool("inclusions", &acfg.RemoveInclusions)
	parseInt("maxiter", &acfg.MaxIterations)
	parseBool("refine", &rcfg.Enabled)
	parseInt("workers", &rcfg.Workers)
	parseInt("subset", &rcfg.SubsetSize)
	if err != nil {
		return acfg, rcfg, err
	}

	if math.IsNaN(acfg.Threshold) || acfg.Threshold < 0 || acfg.Threshold > 1 {
		return acfg, rcfg, fmt.Errorf("threshold %g is outside [0,1]", acfg.Threshold)
	}
	if math.IsNaN(acfg.MitoThreshold) {
		return acfg, rcfg, fmt.Errorf("mito threshold is not a number")
	}
	switch acfg.Algorithm {
	case "", pipeline.AlgorithmProb, pipeline.AlgorithmQueue, pipeline.AlgorithmFlat, pipeline.AlgorithmMRF:
	default:
		return acfg, rcfg, fmt.Errorf("unknown algorithm %q", acfg.Algorithm)
	}
	return acfg, rcfg, nil
}

func (s *Server) agglomerateHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	acfg, rcfg, err := s.requestConfig(r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}

	select {
	case s.jobs <- struct{}{}:
		defer func() { <-s.jobs }()
	default:
		Unavailable(w, r, "all %d agglomeration slots are busy, retry later", cap(s.jobs))
		return
	}

	limit := int64(s.config.Server.MaxBodyMB) << 20
	g, meta, err := ragio.Import(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}

	ctx := r.Context()
	if timeout := s.config.Server.timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	mapping, report, err := pipeline.Process(ctx, g, nil, acfg, rcfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			Unavailable(w, r, "%v", err)
		} else {
			ServerError(w, r, "%v", err)
		}
		return
	}
	np.Infof("Request %s agglomerated graph %q for user %v\n",
		middleware.GetReqID(c), meta.RunID, c.Env["user"])

	writeJSON(w, r, AgglomerateResponse{
		Report:  report,
		Graph:   ragio.NewDocument(g, ragio.Meta{RunID: report.RunID}),
		Mapping: mapping.Pairs(),
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		np.Errorf("unable to write JSON response to %s: %v\n", r.URL.Path, err)
	}
}
