package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/auctionhouse/internal/engine"
	"github.com/xtrntr/auctionhouse/internal/models"
)

// ListAuctions handles GET /auctions?status=&q=&category=&sort=&seller_id=
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := engine.ListFilter{
		Status:   models.AuctionStatus(q.Get("status")),
		Keyword:  q.Get("q"),
		Category: q.Get("category"),
		Sort:     engine.SortOrder(q.Get("sort")),
		SellerID: queryInt(r, "seller_id"),
	}
	switch f.Status {
	case "", models.AuctionOpen, models.AuctionClosed, models.AuctionCancelled:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid status filter", Code: "invalid_input"})
		return
	}
	switch f.Sort {
	case "", engine.SortEndTime, engine.SortPrice, engine.SortNewest:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid sort order", Code: "invalid_input"})
		return
	}

	auctions, err := h.Engine.ListAuctions(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

// GetAuction returns one auction with its artwork and bid history
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.Engine.AuctionDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) ArtworkActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	items, err := h.Engine.ArtworkActivity(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type createAuctionRequest struct {
	ArtworkID    *int             `json:"artwork_id" validate:"omitempty,gt=0"`
	Title        string           `json:"title" validate:"required_without=ArtworkID,max=200"`
	Description  string           `json:"description" validate:"max=5000"`
	Category     string           `json:"category" validate:"max=50"`
	ImageURL     string           `json:"image_url" validate:"omitempty,url"`
	StartPrice   decimal.Decimal  `json:"start_price" validate:"gte=0"`
	ReservePrice *decimal.Decimal `json:"reserve_price"`
	EndTime      time.Time        `json:"end_time" validate:"required"`
}

// CreateAuction lists an artwork for auction
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Engine.CreateAuction(r.Context(), claims(r).UserID, engine.CreateAuctionRequest{
		ArtworkID:    req.ArtworkID,
		Title:        h.policy.Sanitize(req.Title),
		Description:  h.policy.Sanitize(req.Description),
		Category:     h.policy.Sanitize(req.Category),
		ImageURL:     req.ImageURL,
		StartPrice:   req.StartPrice,
		ReservePrice: req.ReservePrice,
		EndTime:      req.EndTime,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "created",
		"auction_id": a.ID,
		"artwork_id": a.ArtworkID,
	})
}

type bidRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	ExpiresAt *time.Time      `json:"expires_at"`
}

// PlaceBid handles POST /auctions/{id}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if !h.decode(w, r, &req) {
		return
	}

	bid, err := h.Engine.PlaceBid(r.Context(), id, claims(r).UserID, req.Amount, req.ExpiresAt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "bid_placed", "bid_id": bid.ID})
}

type updateBidRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

// UpdateBid handles PUT /bids/{id}
func (h *Handler) UpdateBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	bid, err := h.Engine.UpdateBid(r.Context(), id, claims(r).UserID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "bid_updated", "bid_id": bid.ID, "amount": bid.Amount})
}

// CancelBid handles POST /bids/{id}/cancel
func (h *Handler) CancelBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.CancelBid(r.Context(), id, claims(r).UserID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bid_cancelled"})
}

// CloseAuction lets the seller close their auction early
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.CloseAuction(r.Context(), id, claims(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "closed",
		"winner_id":      res.WinnerID,
		"outcome":        res.Outcome,
		"already_closed": res.AlreadyClosed,
	})
}

func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.CancelAuction(r.Context(), id, claims(r).UserID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ProcessEnded closes every auction past its end time
func (h *Handler) ProcessEnded(w http.ResponseWriter, r *http.Request) {
	results, err := h.Engine.ProcessEnded(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	ids := make([]int, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.AuctionID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "processed", "count": len(ids), "auction_ids": ids})
}

func (h *Handler) MyAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.Engine.SellerAuctions(r.Context(), claims(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (h *Handler) MyBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.Engine.BidderBids(r.Context(), claims(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) MyActivity(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.UserActivity(r.Context(), claims(r).UserID, queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Balance returns available and pending funds with lifetime totals
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.Balance(r.Context(), claims(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Reconcile(r.Context(), claims(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	sum, err := h.Engine.Deposit(r.Context(), claims(r).UserID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	sum, err := h.Engine.Withdraw(r.Context(), claims(r).UserID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// Transactions handles GET /transactions?limit=&offset=
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.Engine.Transactions(r.Context(), claims(r).UserID, queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
