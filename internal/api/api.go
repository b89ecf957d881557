// Package api exposes ingestion and polling over HTTP.
package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/artificers/ingest/internal/id"
	"github.com/artificers/ingest/internal/ingest"
	"github.com/artificers/ingest/internal/poller"
)

// FileIngester runs single-file and directory ingests.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (ingest.Result, error)
	Ingest(ctx context.Context, path, shorthand string) (ingest.Counts, error)
	ScanAndIngest(ctx context.Context, dir string) (ingest.Summary, error)
}

// Poller runs one incremental poll.
type Poller interface {
	Poll(ctx context.Context) (poller.Report, error)
}

// Server is the HTTP adapter. Poller may be nil when polling is disabled.
type Server struct {
	app      *fiber.App
	dir      string
	ingester FileIngester
	poller   Poller
	log      zerolog.Logger
}

// New builds the routes. Ingest requests are confined to dir.
func New(dir string, ingester FileIngester, p Poller, log zerolog.Logger) *Server {
	s := &Server{dir: filepath.Clean(dir), ingester: ingester, poller: p, log: log}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(s.requestLogger())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Post("/ingest/file", s.ingestFile)
	s.app.Post("/ingest/scan", s.scan)
	s.app.Post("/poll", s.poll)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits up to timeout for in-flight ones.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

type resultView struct {
	RunID       string `json:"run_id"`
	File        string `json:"file"`
	Shorthand   string `json:"shorthand,omitempty"`
	State       string `json:"state"`
	Count       int    `json:"count"`
	Inserted    int    `json:"inserted"`
	Destination string `json:"destination,omitempty"`
	Error       string `json:"error,omitempty"`
}

func viewOf(r ingest.Result) resultView {
	v := resultView{
		RunID:       r.RunID,
		File:        r.Path,
		Shorthand:   r.Shorthand,
		State:       string(r.State),
		Count:       r.Count,
		Inserted:    r.Inserted,
		Destination: r.Destination,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func (s *Server) ingestFile(c *fiber.Ctx) error {
	path, err := s.confine(c.Query("path"))
	if err != nil {
		return err
	}
	if !c.QueryBool("move", true) {
		return s.ingestInPlace(c, path)
	}
	res, err := s.ingester.IngestFile(c.UserContext(), path)
	status := fiber.StatusOK
	if err != nil {
		status = fiber.StatusUnprocessableEntity
		if res.State != ingest.Error {
			return err
		}
	}
	return c.Status(status).JSON(viewOf(res))
}

type inPlaceView struct {
	File      string `json:"file"`
	Shorthand string `json:"shorthand"`
	Count     int    `json:"count"`
	Inserted  int    `json:"inserted"`
	Error     string `json:"error,omitempty"`
}

// ingestInPlace persists the file without moving it. The shorthand comes
// from the query or, failing that, the file name.
func (s *Server) ingestInPlace(c *fiber.Ctx, path string) error {
	shorthand := strings.TrimSpace(c.Query("shorthand"))
	if shorthand == "" {
		sh, ok := id.ExtractShorthand(path)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "file name has no account shorthand, pass shorthand")
		}
		shorthand = sh
	}
	counts, err := s.ingester.Ingest(c.UserContext(), path, shorthand)
	view := inPlaceView{File: path, Shorthand: shorthand, Count: counts.Count, Inserted: counts.Inserted}
	switch {
	case err == nil:
		return c.JSON(view)
	case errors.Is(err, ingest.ErrInFlight):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, os.ErrNotExist):
		return fiber.NewError(fiber.StatusNotFound, "file not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	view.Error = err.Error()
	return c.Status(fiber.StatusUnprocessableEntity).JSON(view)
}

func (s *Server) scan(c *fiber.Ctx) error {
	sum, err := s.ingester.ScanAndIngest(c.UserContext(), s.dir)
	if err != nil {
		return err
	}
	results := make([]resultView, 0, len(sum.Results))
	for _, r := range sum.Results {
		results = append(results, viewOf(r))
	}
	return c.JSON(fiber.Map{
		"files":     sum.Files,
		"processed": sum.Processed,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"inserted":  sum.Inserted,
		"results":   results,
	})
}

func (s *Server) poll(c *fiber.Ctx) error {
	if s.poller == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "polling is disabled")
	}
	rep, err := s.poller.Poll(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(rep)
}

// confine resolves p against the incoming directory and rejects anything
// outside it.
func (s *Server) confine(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.dir, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.dir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fiber.NewError(fiber.StatusBadRequest, "path must be inside the incoming directory")
	}
	return p, nil
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusServiceUnavailable
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.log.Debug().Str("method", c.Method()).Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).Dur("elapsed", time.Since(start)).Msg("request")
		return err
	}
}
