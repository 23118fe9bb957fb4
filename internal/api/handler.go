package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okx-core/internal/events"
	"okx-core/internal/monitor"
	"okx-core/internal/order"
	"okx-core/internal/risk"
	"okx-core/pkg/db"
	"okx-core/pkg/exchanges/common"
)

// StateReader is the read side of the state store.
type StateReader interface {
	ListPending(ctx context.Context) ([]order.PendingOrder, error)
	Pending(ctx context.Context, key string) (order.PendingOrder, bool, error)
	Completion(ctx context.Context, key string) (order.CompletionRecord, bool, error)
}

// Journal reads the order audit trail.
type Journal interface {
	JournalByKey(ctx context.Context, key string) ([]db.JournalEntry, error)
	RecentJournal(ctx context.Context, limit int) ([]db.JournalEntry, error)
}

type RiskReader interface {
	State() risk.State
}

type AccountReader interface {
	GetBalance() common.EquityUpdate
	Positions() []common.PositionUpdate
}

// Server exposes read-only daemon state over HTTP.
type Server struct {
	Router       *gin.Engine
	Bus          *events.Bus
	Store        StateReader
	Journal      Journal
	Risk         RiskReader
	Account      AccountReader
	Queue        *order.Queue
	JWTSecret    string
	PasswordHash string
	Meta         SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	DryRun    bool      `json:"dry_run"`
	Demo      bool      `json:"demo"`
	Venue     string    `json:"venue"`
	InstID    string    `json:"inst_id"`
	Strategy  string    `json:"strategy"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Options carries the collaborators of NewServer. Nil readers disable their endpoints.
type Options struct {
	Bus          *events.Bus
	Store        StateReader
	Journal      Journal
	Risk         RiskReader
	Account      AccountReader
	Queue        *order.Queue
	Metrics      *monitor.Metrics
	Gatherer     prometheus.Gatherer
	JWTSecret    string
	PasswordHash string
	Meta         SystemMeta
}

func NewServer(opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(opts.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(20, 50, 5*time.Minute)))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          opts.Bus,
		Store:        opts.Store,
		Journal:      opts.Journal,
		Risk:         opts.Risk,
		Account:      opts.Account,
		Queue:        opts.Queue,
		JWTSecret:    opts.JWTSecret,
		PasswordHash: opts.PasswordHash,
		Meta:         opts.Meta,
	}
	s.routes(opts.Gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.Router.GET("/health", s.health)
	if gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/state", s.getState)
			protected.GET("/pending", s.getPending)
			protected.GET("/orders/:key", s.getOrder)
			protected.GET("/journal", s.getJournal)
			protected.GET("/ws", s.websocket)
		}
	}
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("✓ API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
