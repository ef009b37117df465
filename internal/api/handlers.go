package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/engine"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine      *engine.Engine
	AuthService *auth.AuthService

	logger   *zap.Logger
	validate *validator.Validate
	policy   *bluemonday.Policy
}

// NewHandler creates a new handler
func NewHandler(e *engine.Engine, authService *auth.AuthService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:      e,
		AuthService: authService,
		logger:      logger,
		validate:    newValidator(),
		policy:      bluemonday.StrictPolicy(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Routes builds the API router. Everything outside /auth, the auction
// listing and the auction detail requires a bearer token.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/auctions", h.ListAuctions)
	r.Get("/auctions/{id}", h.GetAuction)
	r.Get("/artworks/{id}/activity", h.ArtworkActivity)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthService.Middleware(h.writeError))

		r.Post("/auctions", h.CreateAuction)
		r.Post("/auctions/process-ended", h.ProcessEnded)
		r.Post("/auctions/{id}/bids", h.PlaceBid)
		r.Post("/auctions/{id}/close", h.CloseAuction)
		r.Post("/auctions/{id}/cancel", h.CancelAuction)
		r.Put("/bids/{id}", h.UpdateBid)
		r.Post("/bids/{id}/cancel", h.CancelBid)

		r.Get("/me/auctions", h.MyAuctions)
		r.Get("/me/bids", h.MyBids)
		r.Get("/me/activity", h.MyActivity)

		r.Get("/balance", h.Balance)
		r.Get("/balance/reconcile", h.Reconcile)
		r.Post("/deposits", h.Deposit)
		r.Post("/withdrawals", h.Withdraw)
		r.Get("/transactions", h.Transactions)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type registerRequest struct {
	Username    string   `json:"username" validate:"required,max=50"`
	Password    string   `json:"password" validate:"required,max=72"`
	DisplayName string   `json:"display_name" validate:"max=100"`
	Roles       []string `json:"roles" validate:"omitempty,dive,oneof=buyer seller"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, h.policy.Sanitize(req.DisplayName), req.Roles)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"roles":    user.Roles,
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, user, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// decode reads and validates a JSON body, writing a 400 on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body", Code: "invalid_input"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationMessage(err), Code: "invalid_input"})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

func claims(r *http.Request) *auth.Claims {
	c, _ := auth.FromContext(r.Context())
	return c
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid id", Code: "invalid_input"})
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain errors to an HTTP status and a stable error code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, engine.ErrBidTooLow):
		return http.StatusConflict, "bid_too_low"
	case errors.Is(err, engine.ErrAuctionClosed):
		return http.StatusConflict, "auction_closed"
	case errors.Is(err, engine.ErrAuctionExpired):
		return http.StatusConflict, "auction_expired"
	case errors.Is(err, engine.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, engine.ErrAuctionHasBids):
		return http.StatusConflict, "auction_has_bids"
	case errors.Is(err, engine.ErrArtworkListed):
		return http.StatusConflict, "artwork_listed"
	case errors.Is(err, engine.ErrBidInactive):
		return http.StatusConflict, "bid_inactive"
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, engine.ErrSelfBid):
		return http.StatusForbidden, "self_bid"
	case errors.Is(err, engine.ErrNotBidOwner):
		return http.StatusForbidden, "not_bid_owner"
	case errors.Is(err, engine.ErrNotSeller):
		return http.StatusForbidden, "not_seller"
	case errors.Is(err, engine.ErrNotArtworkOwner):
		return http.StatusForbidden, "not_artwork_owner"
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "Internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
