package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/auth"
	"github.com/honeynil/referral-credit-service/internal/models"
	service "github.com/honeynil/referral-credit-service/internal/services"
	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const (
	idempotencyHeader = "Idempotency-Key"
	forgotMessage     = "If an account with that email exists, we've sent password reset instructions."
)

type Handler struct {
	auth        service.AuthService
	referrals   service.ReferralService
	resets      service.ResetService
	settlements service.SettlementService
	logger      *zerolog.Logger
}

func NewHandler(
	authService service.AuthService,
	referrals service.ReferralService,
	resets service.ResetService,
	settlements service.SettlementService,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		auth:        authService,
		referrals:   referrals,
		resets:      resets,
		settlements: settlements,
		logger:      logger,
	}
}

type errorResponse struct {
	Error      string                 `json:"error"`
	Fields     []pkgerrors.FieldError `json:"fields,omitempty"`
	PurchaseID string                 `json:"purchase_id,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeServiceError maps a service error onto its HTTP status. Unknown
// errors never leak their text.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *pkgerrors.ValidationError
		dup  *pkgerrors.DuplicateRequestError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:      pkgerrors.ErrRequestAlreadyProcessed.Error(),
			PurchaseID: dup.PurchaseID,
		})
	case errors.Is(err, pkgerrors.ErrInsufficientCredits),
		errors.Is(err, pkgerrors.ErrInvalidReferralCode),
		errors.Is(err, pkgerrors.ErrSelfReferral),
		errors.Is(err, pkgerrors.ErrInvalidOrExpiredToken),
		errors.Is(err, pkgerrors.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, unwrapSentinel(err))
	case errors.Is(err, pkgerrors.ErrReferralCodeNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, unwrapSentinel(err))
	case errors.Is(err, pkgerrors.ErrEmailTaken),
		errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed):
		h.writeError(w, http.StatusConflict, unwrapSentinel(err))
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pkgerrors.ErrNotificationFailed):
		h.writeError(w, http.StatusInternalServerError, errors.New("failed to send password reset email, please try again"))
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, pkgerrors.ErrInternal)
	}
}

var sentinels = []error{
	pkgerrors.ErrInsufficientCredits,
	pkgerrors.ErrInvalidReferralCode,
	pkgerrors.ErrSelfReferral,
	pkgerrors.ErrInvalidOrExpiredToken,
	pkgerrors.ErrReferralCodeNotFound,
	pkgerrors.ErrUserNotFound,
	pkgerrors.ErrEmailTaken,
	pkgerrors.ErrRequestAlreadyProcessed,
}

// unwrapSentinel drops wrapping context so clients see a stable message.
func unwrapSentinel(err error) error {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s
		}
	}
	return err
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", h.Register).Methods("POST")
	r.HandleFunc("/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/auth/forgot-password", h.ForgotPassword).Methods("POST")
	r.HandleFunc("/auth/reset-password", h.ResetPassword).Methods("POST")
	r.HandleFunc("/auth/reset-password/{token}", h.CheckResetToken).Methods("GET")
}

// RegisterOptionalAuthRoutes expects a middleware that resolves the caller
// when a token is present.
func (h *Handler) RegisterOptionalAuthRoutes(r *mux.Router) {
	r.HandleFunc("/referrals/validate/{code}", h.ValidateReferralCode).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/auth/profile", h.Profile).Methods("GET")
	r.HandleFunc("/purchases", h.CreatePurchase).Methods("POST")
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.referrals.Register(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	token, err := h.auth.IssueToken(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	user, err := h.auth.Profile(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.resets.RequestReset(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: forgotMessage})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.resets.ConsumeReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset successfully."})
}

func (h *Handler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	if err := h.resets.CheckReset(r.Context(), mux.Vars(r)["token"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

type referrerResponse struct {
	Valid     bool   `json:"valid"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) ValidateReferralCode(w http.ResponseWriter, r *http.Request) {
	var current *uuid.UUID
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		current = &id
	}

	owner, err := h.referrals.ValidateReferralCode(r.Context(), mux.Vars(r)["code"], current)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, referrerResponse{Valid: true, FirstName: owner.FirstName, LastName: owner.LastName})
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Currency    models.Currency `json:"currency"`
		CreditsUsed int64           `json:"credits_used"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Currency == "" {
		req.Currency = models.CurrencyUSD
	}

	result, err := h.settlements.SettlePurchase(r.Context(), service.SettleRequest{
		UserID:         userID,
		Description:    req.Description,
		Amount:         req.Amount,
		Currency:       models.Currency(strings.ToUpper(string(req.Currency))),
		CreditsUsed:    req.CreditsUsed,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
