package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type purchaseRequest struct {
	BuyerID           string `json:"buyer_id"`
	Units             int64  `json:"units"`
	PricePerUnitCents int64  `json:"price_per_unit_cents"`
}

func (s *Server) handlePurchasePrimary(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h, err := s.trading.PurchasePrimary(r.Context(), chi.URLParam(r, "assetID"), req.BuyerID, req.Units, req.PricePerUnitCents)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toHoldingResponse(h))
}

type createListingRequest struct {
	AssetID           string `json:"asset_id"`
	SellerID          string `json:"seller_id"`
	Units             int64  `json:"units"`
	PricePerUnitCents int64  `json:"price_per_unit_cents"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	l, err := s.trading.CreateListing(r.Context(), req.AssetID, req.SellerID, req.Units, req.PricePerUnitCents)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toListingResponse(l))
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.trading.Listing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toListingResponse(l))
}

func (s *Server) handlePurchaseListing(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.trading.PurchaseListing(r.Context(), chi.URLParam(r, "listingID"), req.BuyerID, req.Units)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toFillResponse(res))
}

type cancelListingRequest struct {
	SellerID string `json:"seller_id"`
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	var req cancelListingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	l, err := s.trading.CancelListing(r.Context(), chi.URLParam(r, "listingID"), req.SellerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toListingResponse(l))
}

func (s *Server) handleAssetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.trading.Holdings(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toHoldingResponses(holdings))
}

func (s *Server) handleAssetListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.trading.ActiveListings(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toListingResponses(listings))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.trading.Portfolio(r.Context(), chi.URLParam(r, "holderID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toHoldingResponses(holdings))
}
