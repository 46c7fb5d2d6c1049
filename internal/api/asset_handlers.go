package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

type createAssetRequest struct {
	Name             string `json:"name"`
	TotalSupply      int64  `json:"total_supply"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	SaleStart        string `json:"sale_start,omitempty"`
	SaleEnd          string `json:"sale_end,omitempty"`
	ExpectedYieldBps int64  `json:"expected_yield_bps"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	saleStartMs, err := timeToMs(req.SaleStart)
	if err != nil {
		respondError(w, err)
		return
	}
	saleEndMs, err := timeToMs(req.SaleEnd)
	if err != nil {
		respondError(w, err)
		return
	}

	a, err := s.machine.CreateAsset(r.Context(), req.Name, req.TotalSupply, req.UnitPriceCents, saleStartMs, saleEndMs, req.ExpectedYieldBps)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAssetResponse(a))
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.assets.GetByID(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		respondError(w, fmt.Errorf("%w: status query parameter is required", storage.ErrInvalidInput))
		return
	}

	assets, err := s.assets.ListByStatus(r.Context(), domain.AssetStatus(status))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponses(assets))
}

// handleArchiveAsset soft-archives an unsold draft. Everything past
// DRAFT keeps its ledger history and can only be paused or frozen.
func (s *Server) handleArchiveAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	a, err := s.assets.GetByID(r.Context(), assetID)
	if err != nil {
		respondError(w, err)
		return
	}
	if a.Status != domain.StatusDraft {
		respondError(w, fmt.Errorf("%w: only draft assets can be archived, asset is %s", storage.ErrInvalidInput, a.Status))
		return
	}

	if err := s.assets.Archive(r.Context(), assetID, a.Version, time.Now().UnixMilli()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSubmitForApproval(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.SubmitForApproval(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.Approve(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.Reject(r.Context(), chi.URLParam(r, "assetID"), req.Actor, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

// handleStartIssuance submits the mint intent. The same endpoint is the
// resubmission path after ISSUANCE_FAILED; each attempt carries a fresh
// idempotency key.
func (s *Server) handleStartIssuance(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.StartIssuance(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		if a != nil {
			// The intent was rejected synchronously; report the asset in
			// its ISSUANCE_FAILED state rather than a bare error.
			respondJSON(w, http.StatusAccepted, toAssetResponse(a))
			return
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, toAssetResponse(a))
}

func (s *Server) handleCloseSale(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.CloseSale(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handleConfirmActive(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.ConfirmActive(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.Pause(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	a, err := s.machine.Resume(r.Context(), chi.URLParam(r, "assetID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAssetResponse(a))
}

func (s *Server) handleAssetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.GetByAssetID(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toEngineEventResponses(events))
}
