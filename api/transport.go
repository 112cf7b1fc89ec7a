package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/totpauth/dispatch"
)

// Job is one accepted request waiting for a worker. The ResponseWriter is
// only valid until the accepting handler returns, so that handler blocks
// until the worker calls finish.
type Job struct {
	w    http.ResponseWriter
	r    *http.Request
	done chan struct{}
}

// NewJob wraps an accepted request.
func NewJob(w http.ResponseWriter, r *http.Request) *Job {
	return &Job{w: w, r: r, done: make(chan struct{})}
}

func (j *Job) finish() { close(j.done) }

// Done is closed once a worker has written the response.
func (j *Job) Done() <-chan struct{} { return j.done }

// Process is the worker body: it extracts the request, runs Handle and
// writes the response. A panic is contained to this job; the 500 is only
// sent if the response had not started.
func (a *API) Process(job *Job) {
	defer job.finish()
	w := &startedWriter{ResponseWriter: job.w}
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic while handling request",
				"uri", job.r.URL.Path, "panic", fmt.Sprint(rec), "response_started", w.started)
			if !w.started {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}()

	req := a.newRequest(job.r)
	resp := a.Handle(job.r.Context(), req)
	if err := resp.Write(w); err != nil {
		a.logger.Debug("writing response", "request_id", req.ID, "error", err)
	}
}

// startedWriter notes whether a status line has gone out.
type startedWriter struct {
	http.ResponseWriter
	started bool
}

func (w *startedWriter) WriteHeader(code int) {
	w.started = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *startedWriter) Write(p []byte) (int, error) {
	w.started = true
	return w.ResponseWriter.Write(p)
}

// Frontend is the accepting side: it hands every request to the dispatch
// queue and waits for a worker to answer it.
type Frontend struct {
	queue  *dispatch.Queue[*Job]
	logger *slog.Logger
}

// NewFrontend returns a Frontend feeding queue.
func NewFrontend(queue *dispatch.Queue[*Job], logger *slog.Logger) *Frontend {
	return &Frontend{queue: queue, logger: logger}
}

func (f *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	job := NewJob(w, r)
	if err := f.queue.Push(r.Context(), job); err != nil {
		f.logger.Warn("request not queued", "uri", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	<-job.Done()
}

// Router returns a chi.Router serving /healthz itself and sending every
// other path through the front end. Routing happens on the same path Handle
// dispatches on, so under FastCGI an auth_request subrequest for /auth is
// never answered by /healthz whatever URL the client asked for.
func (f *Frontend) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RouteOnDocumentURI)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	r.Handle("/*", f)

	return r
}

// RouteOnDocumentURI replaces the URL path with the FastCGI DOCUMENT_URI
// parameter when one was sent. The query string is left alone.
func RouteOnDocumentURI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri := documentURI(r)
		if uri == r.URL.Path {
			next.ServeHTTP(w, r)
			return
		}
		u := *r.URL
		u.Path = uri
		u.RawPath = ""
		r2 := r.Clone(r.Context())
		r2.URL = &u
		next.ServeHTTP(w, r2)
	})
}
