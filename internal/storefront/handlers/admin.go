package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/service"
	"github.com/25x8/digital-storefront/internal/storefront/utils"
	"github.com/shopspring/decimal"
)

// CreateItem adds a catalog item
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var item models.Item
	if !decode(w, r, &item) {
		return
	}
	item.ID = 0
	if err := h.Admin.CreateItem(r.Context(), &item); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"item": item})
}

// SetItemActive enables or disables an item
func (h *Handler) SetItemActive(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeFail(w, http.StatusBadRequest, "is_active is required")
		return
	}
	if err := h.Admin.SetItemActive(r.Context(), itemID, *req.IsActive); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

// SetRegionPrice sets the live price of a provider item in a region
func (h *Handler) SetRegionPrice(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var price models.RegionPrice
	if !decode(w, r, &price) {
		return
	}
	price.ItemID = itemID
	if err := h.Admin.SetRegionPrice(r.Context(), price); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"price": price})
}

// codeList accepts either a JSON array or one whitespace-separated string
type codeList []string

func (c *codeList) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = utils.SplitCodes(text)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*c = list
	return nil
}

// ImportCodes loads codes into an item's stock
func (h *Handler) ImportCodes(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Codes      codeList         `json:"codes"`
		BuyingCost *decimal.Decimal `json:"buying_cost"`
		IsPriority bool             `json:"is_priority"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Admin.ImportCodes(r.Context(), service.CodeImport{
		ItemID:     itemID,
		Codes:      req.Codes,
		BuyingCost: req.BuyingCost,
		IsPriority: req.IsPriority,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"added": res.Added, "duplicates": res.Duplicates})
}

// CompleteOrder records an operator's result for a pending manual or provider order
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Success *bool `json:"success"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Success == nil {
		writeFail(w, http.StatusBadRequest, "success is required")
		return
	}
	order, err := h.Orders.CompleteOrder(r.Context(), orderID, *req.Success)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"order": order})
}

// RecheckOrder queues a fresh provider status poll for a pending order
func (h *Handler) RecheckOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.ProviderOrders.Recheck(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"job_id": job.ID})
}

// MarkPaymentPaid confirms a top-up and credits the user
func (h *Handler) MarkPaymentPaid(w http.ResponseWriter, r *http.Request) {
	topUpID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	topUp, err := h.TopUps.MarkPaid(r.Context(), topUpID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"payment": topUp})
}

// AdjustBalance credits or debits a user's balance
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	user, err := h.Admin.AdjustBalance(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"user_id": user.ID, "balance": user.Balance.StringFixed(2)})
}
