// Package server exposes the payment, reconciliation and recovery services over HTTP.
package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/zombor/utbetaling/internal/avstemming"
	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/utbetaling"
)

// Server handles HTTP requests for the ops API
type Server struct {
	payments   *utbetaling.Service
	runs       *avstemming.Service
	basicAuth  BasicAuth
	validate   *validator.Validate
	timeSource ledger.TimeSource
	router     chi.Router
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server reading the wall clock
func NewServer(payments *utbetaling.Service, runs *avstemming.Service, basicAuth BasicAuth) *Server {
	return NewServerWithDeps(payments, runs, basicAuth, ledger.SystemClock{})
}

// NewServerWithDeps creates a new Server with a custom time source for testing
func NewServerWithDeps(payments *utbetaling.Service, runs *avstemming.Service, basicAuth BasicAuth, timeSrc ledger.TimeSource) *Server {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		payments:   payments,
		runs:       runs,
		basicAuth:  basicAuth,
		validate:   validate,
		timeSource: timeSrc,
		router:     chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Utbetaling"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs one line per request with the chi request id
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("Request handled",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.requireAuth)

	r.Route("/api", func(r chi.Router) {
		// Cases and payments
		r.Get("/cases", s.handleListCases)
		r.Post("/cases", s.handleOpenCase)
		r.Get("/cases/{id}", s.handleGetCase)
		r.Get("/cases/{id}/payments", s.handleListPayments)
		r.Post("/cases/{id}/payments", s.handleDispatch)
		r.Post("/cases/{id}/slots/{slot}/{action}", s.handleSlotAction)
		r.Post("/payments/{id}/resend", s.handleResend)

		// Receipts from the mainframe
		r.Post("/kvitteringer", s.handleReceipt)

		// Reconciliation
		r.Get("/avstemming", s.handleListRuns)
		r.Post("/avstemming/grensesnitt", s.handleInterfaceRun)
		r.Post("/avstemming/konsistens", s.handleConsistencyRun)

		// Clawback and recovery
		r.Post("/avkorting/plan", s.handleAvkortingPlan)
		r.Post("/tilbakekreving/beregn", s.handleBeregn)
	})
}

// Handler returns the router with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
