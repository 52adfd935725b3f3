// Package server provides the HTTP status API: ledger snapshots and a
// manual pass trigger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"rotor/internal/ledger"
)

// PassRunner triggers one trading pass.
type PassRunner interface {
	RunPass(ctx context.Context) error
}

// Server is the HTTP status API.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	book    *ledger.PositionTracker
	runner  PassRunner
	running atomic.Bool
	log     zerolog.Logger
}

// New creates the server and its routes.
func New(book *ledger.PositionTracker, runner PassRunner, port int, logger zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		book:   book,
		runner: runner,
		log:    logger.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/tracker", s.handleTracker)
		r.Get("/trades", s.handleTrades)
		r.Post("/run", s.handleRun)
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type portfolioResponse struct {
	Date      string             `json:"date"`
	Cash      float64            `json:"cash"`
	Value     float64            `json:"value"`
	Benchmark float64            `json:"benchmark"`
	Positions map[string]float64 `json:"positions"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.book.Tracker().LastRow()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger is empty"})
		return
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		Date:      last.Date,
		Cash:      last.Cash,
		Value:     last.Value,
		Benchmark: last.Benchmark,
		Positions: s.book.CurrentShares(),
	})
}

type tableRow struct {
	Date      string             `json:"date"`
	Cash      float64            `json:"cash"`
	Assets    map[string]float64 `json:"assets"`
	Value     float64            `json:"value"`
	Benchmark float64            `json:"benchmark"`
}

func (s *Server) handleTracker(w http.ResponseWriter, _ *http.Request) {
	table := s.book.Tracker()
	rows := make([]tableRow, 0, len(table.Rows))
	for _, row := range table.Rows {
		assets := make(map[string]float64, len(table.Tickers))
		for i, ticker := range table.Tickers {
			assets[ticker] = row.Assets[i]
		}
		rows = append(rows, tableRow{
			Date:      row.Date,
			Cash:      row.Cash,
			Assets:    assets,
			Value:     row.Value,
			Benchmark: row.Benchmark,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickers": table.Tickers, "rows": rows})
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.book.Trades().Records)
}

// handleRun triggers a pass in the background. Concurrent triggers are
// rejected; the pass itself is strictly sequential.
func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	if !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a pass is already running"})
		return
	}
	go func() {
		defer s.running.Store(false)
		if err := s.runner.RunPass(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("triggered pass failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
