// Package api is the HTTP surface of the engine. Handlers decode JSON,
// delegate to the lifecycle, trading and distribution services, and map
// the sentinel errors onto HTTP status codes. No business rules live here.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"proptoken-engine/internal/distribution"
	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/observability"
	"proptoken-engine/internal/storage"
	"proptoken-engine/internal/trading"
)

// Server wires the engine services behind a chi router.
type Server struct {
	machine  *lifecycle.Machine
	trading  *trading.Service
	engine   *distribution.Engine
	accounts *distribution.MemoryDirectory
	assets   storage.AssetStore
	events   storage.EngineEventStore
	logger   *log.Logger
}

// NewServer creates a Server.
func NewServer(machine *lifecycle.Machine, ts *trading.Service, engine *distribution.Engine, accounts *distribution.MemoryDirectory, assets storage.AssetStore, events storage.EngineEventStore, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		machine:  machine,
		trading:  ts,
		engine:   engine,
		accounts: accounts,
		assets:   assets,
		events:   events,
		logger:   logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/assets", func(r chi.Router) {
		r.Post("/", s.handleCreateAsset)
		r.Get("/", s.handleListAssets)
		r.Get("/{assetID}", s.handleGetAsset)
		r.Delete("/{assetID}", s.handleArchiveAsset)

		r.Post("/{assetID}/submit", s.handleSubmitForApproval)
		r.Post("/{assetID}/approve", s.handleApprove)
		r.Post("/{assetID}/reject", s.handleReject)
		r.Post("/{assetID}/issue", s.handleStartIssuance)
		r.Post("/{assetID}/close-sale", s.handleCloseSale)
		r.Post("/{assetID}/confirm-active", s.handleConfirmActive)
		r.Post("/{assetID}/pause", s.handlePause)
		r.Post("/{assetID}/resume", s.handleResume)

		r.Post("/{assetID}/purchase", s.handlePurchasePrimary)
		r.Get("/{assetID}/holdings", s.handleAssetHoldings)
		r.Get("/{assetID}/listings", s.handleAssetListings)
		r.Get("/{assetID}/events", s.handleAssetEvents)

		r.Post("/{assetID}/distributions", s.handleCreateDistribution)
		r.Get("/{assetID}/distributions", s.handleAssetDistributions)
	})

	r.Route("/listings", func(r chi.Router) {
		r.Post("/", s.handleCreateListing)
		r.Get("/{listingID}", s.handleGetListing)
		r.Post("/{listingID}/purchase", s.handlePurchaseListing)
		r.Post("/{listingID}/cancel", s.handleCancelListing)
	})

	r.Route("/distributions", func(r chi.Router) {
		r.Get("/{eventID}", s.handleGetDistribution)
		r.Get("/{eventID}/lines", s.handleDistributionLines)
		r.Post("/{eventID}/disburse", s.handleDisburse)
		r.Post("/{eventID}/lines/{holderID}/retry", s.handleRetryLine)
	})

	r.Route("/holders", func(r chi.Router) {
		r.Get("/{holderID}/portfolio", s.handlePortfolio)
		r.Put("/{holderID}/account", s.handleRegisterAccount)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actorRequest is the shared body of plain operator actions. Decoding is
// tolerant: an empty body means the default actor.
type actorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func decodeActor(r *http.Request) actorRequest {
	var req actorRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Actor == "" {
		req.Actor = "operator"
	}
	return req
}
