package handlers

import (
	"net/http"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/service"
	"github.com/shopspring/decimal"
)

type orderResponse struct {
	*models.Order
	Title string   `json:"title"`
	Codes []string `json:"codes,omitempty"`
}

// CreateOrder places an order for the current user
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemID      int64  `json:"item_id"`
		Quantity    int    `json:"quantity"`
		RegionID    int64  `json:"region_id"`
		PlayerID    string `json:"player_id"`
		ReferenceID string `json:"reference_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ItemID <= 0 {
		writeFail(w, http.StatusBadRequest, "item_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	order, err := h.Checkout.Purchase(r.Context(), service.PurchaseRequest{
		UserID:      userID,
		ItemID:      req.ItemID,
		Quantity:    req.Quantity,
		RegionID:    req.RegionID,
		PlayerID:    req.PlayerID,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := orderResponse{Order: order, Title: order.Title()}
	if order.State == models.StateFulfilled {
		_, units, err := h.Orders.GetOrder(r.Context(), userID, order.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Codes = codes(units)
	}
	writeOK(w, map[string]any{"order": resp})
}

// GetOrders lists the current user's orders, newest first
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orders, err := h.Repo.GetUserOrders(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, orderResponse{Order: &orders[i], Title: orders[i].Title()})
	}
	writeOK(w, map[string]any{"orders": out})
}

// GetOrder returns one order with its codes
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, units, err := h.Orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"order": orderResponse{Order: order, Title: order.Title(), Codes: codes(units)}})
}

func codes(units []models.StockUnit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.Code)
	}
	return out
}

// GetPayments lists the current user's top-ups
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	topUps, err := h.TopUps.ListTopUps(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if topUps == nil {
		topUps = []models.TopUp{}
	}
	writeOK(w, map[string]any{"payments": topUps})
}

// CreatePayment opens a top-up for the current user
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency models.Currency `json:"currency"`
	}
	if !decode(w, r, &req) {
		return
	}
	topUp, err := h.TopUps.CreateTopUp(r.Context(), userID, req.Amount, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"payment": topUp})
}

// CheckPlayer looks up a game account with the top-up provider
func (h *Handler) CheckPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" {
		writeFail(w, http.StatusBadRequest, "player_id is required.")
		return
	}
	info, err := h.Checkout.CheckPlayer(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"player_name": info.PlayerName, "region": info.Region})
}
