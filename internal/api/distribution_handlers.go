package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"proptoken-engine/internal/domain"
)

type createDistributionRequest struct {
	RevenueTotalCents int64  `json:"revenue_total_cents"`
	Actor             string `json:"actor"`
}

func (s *Server) handleCreateDistribution(w http.ResponseWriter, r *http.Request) {
	var req createDistributionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	e, err := s.engine.CreateEvent(r.Context(), chi.URLParam(r, "assetID"), req.Actor, req.RevenueTotalCents)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toDistributionResponse(e))
}

func (s *Server) handleAssetDistributions(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.EventsByAsset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDistributionResponses(events))
}

func (s *Server) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine.Event(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDistributionResponse(e))
}

func (s *Server) handleDistributionLines(w http.ResponseWriter, r *http.Request) {
	lines, err := s.engine.Lines(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPayoutLineResponses(lines))
}

type disburseResponse struct {
	Event        distributionResponse `json:"event"`
	PendingLines int                  `json:"pending_lines"`
	Detail       string               `json:"detail,omitempty"`
}

func (s *Server) handleDisburse(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	eventID := chi.URLParam(r, "eventID")
	e, err := s.engine.Disburse(r.Context(), eventID, req.Actor)
	if err != nil && e == nil {
		respondError(w, err)
		return
	}

	resp := disburseResponse{Event: toDistributionResponse(e)}
	if lines, linesErr := s.engine.Lines(r.Context(), eventID); linesErr == nil {
		for _, l := range lines {
			if l.SettlementStatus == domain.PayoutPending {
				resp.PendingLines++
			}
		}
	}
	if err != nil {
		// Some intents were not accepted; the event itself is fine and a
		// re-run resends what is still pending.
		resp.Detail = err.Error()
	}
	respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleRetryLine(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	err := s.engine.RetryLine(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "holderID"), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "resent"})
}

type registerAccountRequest struct {
	Account string `json:"account"`
}

func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.accounts.Register(chi.URLParam(r, "holderID"), req.Account); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
