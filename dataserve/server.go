package dataserve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/icebox/bind"
	"github.com/twitter/icebox/common/stats"
	"github.com/twitter/icebox/container"
)

// Server is the external dispatcher from the container's point of view:
// it opens exactly one Scope per inbound request and closes it with the
// request's success flag, so call-scope resources (the session) commit
// on 2xx/4xx completion and roll back on 5xx or panic.
type Server struct {
	c    *container.Container
	stat stats.StatsReceiver
	addr string

	listTasks    *bind.Binding
	addTask      *bind.Binding
	completeTask *bind.Binding
}

func NewServer(c *container.Container, stat stats.StatsReceiver, addr string) (*Server, error) {
	s := &Server{c: c, stat: stat, addr: addr}

	var err error
	if s.listTasks, err = bind.New(c, func(ctx context.Context, dao *TaskDAO) ([]Task, error) {
		return dao.List()
	}); err != nil {
		return nil, err
	}
	s.listTasks.Bind(1, ProviderTaskDAO)

	if s.addTask, err = bind.New(c, func(ctx context.Context, dao *TaskDAO, title string) (Task, error) {
		return dao.Add(title)
	}); err != nil {
		return nil, err
	}
	s.addTask.Bind(1, ProviderTaskDAO)

	if s.completeTask, err = bind.New(c, func(ctx context.Context, dao *TaskDAO, id string) error {
		return dao.Complete(id)
	}); err != nil {
		return nil, err
	}
	s.completeTask.Bind(1, ProviderTaskDAO)

	return s, nil
}

func (s *Server) Serve() error {
	log.Infof("serving http & stats on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Router())
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	r.Get("/admin/metrics.json", s.statsHandler)
	r.Route("/tasks", func(r chi.Router) {
		r.Use(s.scoped)
		r.Get("/", s.handleList)
		r.Post("/", s.handleAdd)
		r.Post("/{id}/complete", s.handleComplete)
	})
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := w.Write(s.stat.Render(pretty)); err != nil {
		http.Error(w, err.Error(), 500)
	}
}

// scoped opens the request's Scope. Close always runs, with
// succeeded=false whenever the handler panicked or wrote a 5xx.
func (s *Server) scoped(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := s.c.NewScope()
		ctx := container.WithScope(r.Context(), sc)
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		succeeded := false
		defer func() {
			p := recover()
			if cerr := sc.Close(ctx, succeeded && p == nil); cerr != nil {
				log.Errorf("closing scope %s for %s %s: %v", sc.ID, r.Method, r.URL.Path, cerr)
			}
			if p != nil {
				panic(p)
			}
		}()
		next.ServeHTTP(ww, r.WithContext(ctx))
		succeeded = ww.status < 500
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming handlers still
// work behind the wrapper.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sc, _ := container.ScopeFromContext(r.Context())
	out, err := s.listTasks.Call(r.Context(), sc, nil)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, out[0])
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	sc, _ := container.ScopeFromContext(r.Context())
	out, err := s.addTask.Call(r.Context(), sc, map[int]interface{}{2: req.Title})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, out[0])
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, _ := container.ScopeFromContext(r.Context())
	if _, err := s.completeTask.Call(r.Context(), sc, map[int]interface{}{2: id}); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encoding response: %v", err)
	}
}
