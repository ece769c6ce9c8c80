// Package vaultapi exposes the identity reconciler and the per-network
// withdrawal sessions over HTTP.
package vaultapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
	"evovault/core/session"
	"evovault/core/wallet"
	"evovault/observability"
)

// Identities is the reconciler surface the API drives. *reconcile.Reconciler
// implements it.
type Identities interface {
	LocalIdentities(ctx context.Context, network identity.Network, filter identity.TypeFilter, resolver wallet.Resolver) ([]*identity.QualifiedIdentity, error)
	LocalIdentity(ctx context.Context, network identity.Network, id identity.Identifier, resolver wallet.Resolver) (*identity.QualifiedIdentity, error)
	SetAlias(ctx context.Context, id identity.Identifier, alias string) error
	RemoveLocal(ctx context.Context, network identity.Network, id identity.Identifier) (bool, error)
	RecordTopUp(ctx context.Context, id identity.Identifier, index, amount uint32) (bool, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Identities Identities
	Sessions   *session.Registry
	Wallets    wallet.Resolver
	Logger     *slog.Logger
	Metrics    *observability.VaultMetrics
	Gatherer   prometheus.Gatherer
}

// Server serves the vault HTTP API.
type Server struct {
	identities Identities
	sessions   *session.Registry
	wallets    wallet.Resolver
	logger     *slog.Logger
	metrics    *observability.VaultMetrics
	gatherer   prometheus.Gatherer

	router http.Handler
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Identities == nil {
		return nil, errors.New("vaultapi: identities service required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("vaultapi: session registry required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	srv := &Server{
		identities: cfg.Identities,
		sessions:   cfg.Sessions,
		wallets:    cfg.Wallets,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		gatherer:   cfg.Gatherer,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/{network}", func(api chi.Router) {
		api.Use(s.requireNetwork)

		api.Get("/identities", s.ListIdentities)
		api.Get("/identities/{id}", s.GetIdentity)
		api.Put("/identities/{id}/alias", s.SetAlias)
		api.Delete("/identities/{id}", s.RemoveIdentity)
		api.Post("/identities/{id}/top-ups", s.RecordTopUp)

		api.Get("/withdrawals", s.ViewWithdrawals)
		api.Post("/withdrawals/results", s.ApplyWithdrawals)
		api.Post("/withdrawals/failures", s.FailWithdrawals)
		api.Post("/withdrawals/refresh", s.RefreshWithdrawals)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observe records request counts and latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, status, time.Since(started))
	})
}

type networkKey struct{}

func (s *Server) requireNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network, err := identity.ParseNetwork(chi.URLParam(r, "network"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), networkKey{}, network)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func networkFrom(ctx context.Context) identity.Network {
	network, _ := ctx.Value(networkKey{}).(identity.Network)
	return network
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// fail maps err onto an HTTP status by taxonomy kind.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("route", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Any("error", err))
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	if errors.Is(err, session.ErrSessionClosed) {
		return http.StatusServiceUnavailable
	}
	switch vaulterrors.Kind(err) {
	case vaulterrors.KindNotFound:
		return http.StatusNotFound
	case vaulterrors.KindValidation:
		return http.StatusBadRequest
	case vaulterrors.KindCodec:
		return http.StatusUnprocessableEntity
	case vaulterrors.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return vaulterrors.Validation("invalid payload: %v", err)
	}
	return nil
}

func parseIdentifier(r *http.Request) (identity.Identifier, error) {
	id, err := identity.ParseIdentifier(chi.URLParam(r, "id"))
	if err != nil {
		return identity.Identifier{}, fmt.Errorf("%w: %v", vaulterrors.ErrValidation, err)
	}
	return id, nil
}
