package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/flash"
	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/version"
)

// Engine is the part of the flash controller exposed over HTTP.
type Engine interface {
	Enumerate(ctx context.Context) ([]block.DriveInfo, error)
	Probe() tools.Availability
	Start(ctx context.Context, req flash.Request) (<-chan job.Event, error)
	Current() (job.Snapshot, bool)
}

// StartRequest is the body of POST /api/v1/jobs. The device must be one of
// the currently enumerated drives.
type StartRequest struct {
	ImagePath  string `json:"imagePath"`
	DevicePath string `json:"devicePath"`
	Kind       string `json:"kind"`
}

type drivesResponse struct {
	Drives []block.DriveInfo `json:"drives"`
	Error  string            `json:"error,omitempty"`
}

type errorResponse struct {
	Error *job.Error `json:"error"`
}

// Server serves the flasher API. Jobs started through it are bound to ctx,
// not to the HTTP request.
type Server struct {
	ctx      context.Context
	engine   Engine
	registry prometheus.Gatherer
	origins  []string
}

func New(ctx context.Context, engine Engine, registry prometheus.Gatherer, allowedOrigins []string) *Server {
	return &Server{
		ctx:      ctx,
		engine:   engine,
		registry: registry,
		origins:  allowedOrigins,
	}
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/drives", s.drivesHandler).Methods(http.MethodGet)
	api.HandleFunc("/tools", s.toolsHandler).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.startHandler).Methods(http.MethodPost)
	api.HandleFunc("/jobs/current", s.currentHandler).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}

	errs := make(chan error, 1)
	go func() {
		logrus.Infof("Starting API server at %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.UserAgent(),
	})
}

func (s *Server) drivesHandler(w http.ResponseWriter, r *http.Request) {
	drives, err := s.engine.Enumerate(r.Context())
	if err != nil {
		if job.IsKind(err, job.JobAlreadyRunning) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, drivesResponse{Drives: []block.DriveInfo{}, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, drivesResponse{Drives: drives})
}

func (s *Server) toolsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Probe())
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, job.Errorf(job.PreflightFailed, job.StateIdle, "invalid request body: %v", err))
		return
	}
	kind, err := job.ParseKind(body.Kind)
	if err != nil {
		writeError(w, job.NewError(job.PreflightFailed, job.StateIdle, err))
		return
	}

	req := flash.Request{ImagePath: body.ImagePath, Kind: kind}
	if body.DevicePath != "" {
		drives, err := s.engine.Enumerate(r.Context())
		if err != nil && job.IsKind(err, job.JobAlreadyRunning) {
			writeError(w, err)
			return
		}
		for i := range drives {
			if strings.EqualFold(drives[i].DevicePath, body.DevicePath) {
				req.Target = &drives[i]
				break
			}
		}
		if req.Target == nil {
			writeError(w, job.Errorf(job.MissingSelection, job.StateIdle, "%s is not an attached USB drive", body.DevicePath))
			return
		}
	}

	events, err := s.engine.Start(s.ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	first, ok := <-events
	if !ok {
		writeError(w, job.Errorf(job.PreflightFailed, job.StateIdle, "job ended without events"))
		return
	}
	go drain(first.JobID, events)
	writeJSON(w, http.StatusAccepted, first)
}

func (s *Server) currentHandler(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.engine.Current()
	if !ok {
		http.Error(w, "no flash job has been started", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// drain consumes the events of a job started over HTTP; clients poll
// /jobs/current for the state.
func drain(id string, events <-chan job.Event) {
	for e := range events {
		entry := logrus.WithFields(logrus.Fields{"job": id, "stage": string(e.State)})
		if e.Err != nil {
			entry.Errorf("job failed: %v", e.Err)
			continue
		}
		entry.Tracef("progress %d/%d", e.Progress.Written, e.Progress.Total)
	}
}

func statusOf(err error) int {
	jobErr, ok := job.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch jobErr.Kind {
	case job.MissingSelection, job.PreflightFailed, job.InvalidDeviceIdentifier, job.InvalidImage:
		return http.StatusBadRequest
	case job.JobAlreadyRunning, job.TargetInUse:
		return http.StatusConflict
	case job.InsufficientPrivileges:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	jobErr, ok := job.AsError(err)
	if !ok {
		jobErr = job.NewError(job.PreflightFailed, job.StateIdle, err)
	}
	writeJSON(w, statusOf(err), errorResponse{Error: jobErr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("failed to encode response: %v", err)
	}
}
