package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/25x8/digital-storefront/internal/storefront/middleware"
	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/25x8/digital-storefront/internal/storefront/service"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

// Handler handles all HTTP requests
type Handler struct {
	Repo           repository.Repository
	Checkout       *service.Checkout
	Orders         *service.OrderService
	ProviderOrders *service.ProviderOrderService
	TopUps         *service.TopUpService
	Admin          *service.AdminService
	JWTSecret      string
}

// NewHandler creates a new handler
func NewHandler(repo repository.Repository, checkout *service.Checkout, orders *service.OrderService,
	providerOrders *service.ProviderOrderService, topUps *service.TopUpService, admin *service.AdminService, jwtSecret string) *Handler {
	return &Handler{
		Repo:           repo,
		Checkout:       checkout,
		Orders:         orders,
		ProviderOrders: providerOrders,
		TopUps:         topUps,
		Admin:          admin,
		JWTSecret:      jwtSecret,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oos *service.OutOfStockError
	switch {
	case errors.As(err, &oos):
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": oos.Error(), "available": oos.Available})
	case errors.Is(err, service.ErrInsufficientBalance):
		writeFail(w, http.StatusPaymentRequired, "You do not have enough balance.")
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrPlayerNotFound):
		writeFail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, repository.ErrAlreadyExists):
		writeFail(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		slog.WarnContext(r.Context(), "provider unavailable", "path", r.URL.Path, "error", err)
		writeFail(w, http.StatusServiceUnavailable, "The top-up service is unavailable. Please try again later.")
	case errors.Is(err, service.ErrItemNotActive),
		errors.Is(err, service.ErrRegionMismatch),
		errors.Is(err, service.ErrInvalidPlayerID),
		errors.Is(err, service.ErrPriceUnavailable),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrNotSettleable),
		errors.Is(err, service.ErrUnsupportedCurrency):
		writeFail(w, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeFail(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFail(w, http.StatusBadRequest, "Bad request")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeFail(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	ChatID   int64  `json:"chat_id"`
}

func (h *Handler) issueToken(w http.ResponseWriter, userID int64) {
	token, err := middleware.GenerateToken(userID, h.JWTSecret)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "Server error")
		return
	}
	middleware.SetAuthCookie(w, token)
	w.Header().Set("Authorization", "Bearer "+token)
	writeOK(w, map[string]any{"token": token})
}

// RegisterUser handles user registration
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	if req.Login == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Login and password are required")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "Server error")
		return
	}

	user := &models.User{Login: req.Login, PasswordHash: string(hashedPassword), ChatID: req.ChatID}
	if err := h.Repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			writeFail(w, http.StatusConflict, "Login already taken")
			return
		}
		writeError(w, r, err)
		return
	}

	h.issueToken(w, user.ID)
}

// LoginUser handles user login
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	if req.Login == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Login and password are required")
		return
	}

	user, err := h.Repo.GetUserByLogin(r.Context(), req.Login)
	if errors.Is(err, repository.ErrNotFound) {
		writeFail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeFail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.issueToken(w, user.ID)
}

// GetProfile returns the current user with their balance
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.Repo.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{
		"id":      user.ID,
		"login":   user.Login,
		"chat_id": user.ChatID,
		"balance": user.Balance.StringFixed(2),
	})
}
