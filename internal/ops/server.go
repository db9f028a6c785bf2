package ops

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/audit"
	"github.com/xela07ax/repogov-platform/internal/infra"
	"github.com/xela07ax/repogov-platform/internal/metrics"
)

// Server — встроенный observability-сервер, живет рядом с долгими прогонами:
// healthcheck, prometheus-метрики и compliance-выборки из audit trail.
type Server struct {
	router *chi.Mux
	http   *http.Server
	logger *zap.Logger
	reader *audit.Reader
}

func NewServer(cfg infra.OpsConfig, collector *metrics.Collector, reader *audit.Reader, zl *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: zl.With(zap.String("mod", "ops")),
		reader: reader,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.router.Handle("/metrics", collector.Handler())

	// Compliance-выборки читаются прямо из JSONL-файлов на диске:
	// отдельной БД для этого нет намеренно
	s.router.Route("/v1/audit", func(r chi.Router) {
		r.Get("/security", s.getSecurityEvents)
		r.Get("/incomplete", s.getIncomplete)
	})

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe блокируется до Shutdown или фатальной ошибки сокета.
func (s *Server) ListenAndServe() error {
	s.logger.Info("ops server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// GET /v1/audit/security — все события с пометкой security (утечки,
// сломанные откаты, findings валидаторов).
func (s *Server) getSecurityEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.reader.SecurityEvents()
	if err != nil {
		http.Error(w, "Failed to read audit trail: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}

// GET /v1/audit/incomplete — транзакции, у которых есть started, но нет
// терминального события (скрипт упал посреди операции).
func (s *Server) getIncomplete(w http.ResponseWriter, r *http.Request) {
	events, err := s.reader.IncompleteTransactions()
	if err != nil {
		http.Error(w, "Failed to read audit trail: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}

func (s *Server) writeJSON(w http.ResponseWriter, events []audit.Event) {
	if events == nil {
		events = []audit.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.logger.Warn("response encoding failed", zap.Error(err))
	}
}
