// Package api exposes batch submission over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"github.com/vietddude/voicebatch/internal/batch/input"
	"github.com/vietddude/voicebatch/internal/control"
	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/storage"
)

// Runner executes batches; *control.App satisfies it.
type Runner interface {
	RunBatch(ctx context.Context, b control.Batch, onProgress func(domain.Result)) (*domain.Summary, error)
	Ledger() storage.RunRepository
	InputDefaults() input.Defaults
}

// BatchStatus is the response for a batch that has not finished yet.
type BatchStatus struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Done      int64     `json:"done"`
	Failed    int64     `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

type tracker struct {
	total   int
	done    atomic.Int64
	failed  atomic.Int64
	started time.Time

	mu  sync.Mutex
	err string
}

// Server handles batch submissions. Batches run in the background under the
// server's base context, so shutdown cancels them.
type Server struct {
	runner Runner
	app    *fiber.App
	port   int
	log    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	running map[string]*tracker
}

// NewServer creates the API server.
func NewServer(runner Runner, port int) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		port:    port,
		log:     slog.Default().With("component", "api"),
		baseCtx: ctx,
		cancel:  cancel,
		running: make(map[string]*tracker),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "voicebatch",
		DisableStartupMessage: true,
		BodyLimit:             16 << 20,
	})
	s.Register(s.app)
	return s
}

// Register registers routes to app.
func (s *Server) Register(app *fiber.App) {
	app.Post("/batches", s.submit)
	app.Get("/batches", s.list)
	app.Get("/batches/:id", s.get)
	app.Get("/batches/:id/results", s.results)
}

// App returns the fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

// Stop cancels running batches, waits for them to persist, and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return s.app.ShutdownWithContext(ctx)
}

// Wait blocks until every background batch has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// submit starts a batch in the background. Values taken from c are only valid
// during the handler, so anything the batch keeps is copied.
func (s *Server) submit(c *fiber.Ctx) error {
	defaults := s.runner.InputDefaults()
	if p := c.Query("provider"); p != "" {
		defaults.Provider = utils.CopyString(p)
	}

	var (
		jobs []domain.Job
		err  error
	)
	body := bytes.NewReader(c.Body())
	if strings.HasPrefix(string(c.Request().Header.ContentType()), "text/csv") {
		jobs, err = input.ReadCSV(body, defaults)
	} else {
		jobs, err = input.ReadJSON(body, defaults)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if len(jobs) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no jobs")
	}

	runID := uuid.NewString()
	name := utils.CopyString(c.Query("name"))
	t := &tracker{total: len(jobs), started: time.Now()}

	s.mu.Lock()
	s.running[runID] = t
	s.mu.Unlock()

	s.log.Info("Batch submitted", "run_id", runID, "jobs", len(jobs))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		summary, err := s.runner.RunBatch(s.baseCtx, control.Batch{ID: runID, Name: name, Jobs: jobs}, func(r domain.Result) {
			t.done.Add(1)
			if r.Status != domain.JobStatusSucceeded {
				t.failed.Add(1)
			}
		})
		if summary == nil && err != nil {
			// Never dispatched; keep the entry so the error stays visible.
			s.log.Error("Batch failed", "run_id", runID, "error", err)
			t.mu.Lock()
			t.err = err.Error()
			t.mu.Unlock()
			return
		}
		if err != nil {
			s.log.Warn("Batch finished with errors", "run_id", runID, "error", err)
		}
		s.mu.Lock()
		delete(s.running, runID)
		s.mu.Unlock()
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": runID, "jobs": len(jobs)})
}

func (s *Server) get(c *fiber.Ctx) error {
	id := c.Params("id")

	s.mu.RLock()
	t, ok := s.running[id]
	s.mu.RUnlock()
	if ok {
		st := BatchStatus{
			RunID:     id,
			Status:    "running",
			Total:     t.total,
			Done:      t.done.Load(),
			Failed:    t.failed.Load(),
			StartedAt: t.started,
		}
		t.mu.Lock()
		if t.err != "" {
			st.Status, st.Error = "error", t.err
		}
		t.mu.Unlock()
		return c.JSON(st)
	}

	summary, err := s.runner.Ledger().GetRun(c.Context(), id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "run not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(summary)
}

func (s *Server) list(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	runs, err := s.runner.Ledger().ListRuns(c.Context(), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(runs)
}

func (s *Server) results(c *fiber.Ctx) error {
	var statuses []domain.JobStatus
	if v := c.Query("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			statuses = append(statuses, domain.JobStatus(strings.TrimSpace(st)))
		}
	}
	results, err := s.runner.Ledger().ListResults(c.Context(), c.Params("id"), statuses...)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(results)
}
