package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/paypass/wash-service/internal/gateway"
	"github.com/paypass/wash-service/internal/infrastructure/auth"
	"github.com/paypass/wash-service/internal/models"
	service "github.com/paypass/wash-service/internal/services"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
)

type Handler struct {
	payments    service.PaymentService
	redemptions service.RedemptionService
}

func NewHandler(payments service.PaymentService, redemptions service.RedemptionService) *Handler {
	return &Handler{payments: payments, redemptions: redemptions}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrMalformedToken),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrPackageInactive):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrUnknownToken),
		errors.Is(err, pkgerrors.ErrUnknownPayment),
		errors.Is(err, pkgerrors.ErrPaymentNotFound),
		errors.Is(err, pkgerrors.ErrPackageNotFound),
		errors.Is(err, pkgerrors.ErrUserPackageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrPackageExhausted),
		errors.Is(err, pkgerrors.ErrPackageExpired):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// RegisterPublicRoutes registers endpoints the gateway calls without a user
// session.
func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/payments/webhook", h.PaymentWebhook).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/packages", h.ListPackages).Methods("GET")
	r.HandleFunc("/payments/checkout", h.PrepareCheckout).Methods("POST")
	r.HandleFunc("/payments/status/{checkoutId}", h.PaymentStatus).Methods("GET")
	r.HandleFunc("/payments", h.ListPayments).Methods("GET")
	r.HandleFunc("/user-packages", h.ListUserPackages).Methods("GET")
	r.HandleFunc("/user-packages/{id}/qr", h.PackageQR).Methods("GET")
	r.HandleFunc("/user-packages/{id}/washes", h.ListWashes).Methods("GET")
	r.HandleFunc("/redeem", h.Redeem).Methods("POST")
	r.HandleFunc("/scan-info", h.ScanInfo).Methods("POST")
	r.HandleFunc("/locations/{id}/washes/daily", h.LocationDailyWashes).Methods("GET")
}

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.payments.ListPackages(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, packages)
}

func (h *Handler) PrepareCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	var req struct {
		PackageID string               `json:"package_id"`
		CarSize   models.CarSize       `json:"car_size"`
		Method    models.PaymentMethod `json:"method"`
		Email     string               `json:"email"`
		GivenName string               `json:"given_name"`
		Surname   string               `json:"surname"`
		Street    string               `json:"street"`
		City      string               `json:"city"`
		State     string               `json:"state"`
		Country   string               `json:"country"`
		Postcode  string               `json:"postcode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.PackageID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "package_id is required"})
		return
	}

	result, err := h.payments.PrepareCheckout(r.Context(), service.CheckoutInput{
		UserID:    userID,
		PackageID: req.PackageID,
		CarSize:   req.CarSize,
		Method:    req.Method,
		Email:     req.Email,
		GivenName: req.GivenName,
		Surname:   req.Surname,
		Street:    req.Street,
		City:      req.City,
		State:     req.State,
		Country:   req.Country,
		Postcode:  req.Postcode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment_id":  result.Payment.ID,
		"checkout_id": result.Payment.CheckoutID,
		"amount":      result.Payment.Amount,
		"currency":    result.Payment.Currency,
		"widget_url":  result.WidgetURL,
	})
}

// PaymentWebhook receives server-pushed gateway results. Duplicates are
// expected and answered with the recorded state.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckoutID            string `json:"checkoutId"`
		ID                    string `json:"id"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		Result                struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid webhook payload"})
		return
	}
	if req.CheckoutID == "" || req.Result.Code == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "checkoutId and result.code are required"})
		return
	}

	outcome, err := h.payments.ProcessGatewayResult(r.Context(), req.CheckoutID, gateway.Result{
		TransactionID: req.ID,
		MerchantTxID:  req.MerchantTransactionID,
		Code:          req.Result.Code,
		Description:   req.Result.Description,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reconcileResponse(outcome))
}

// PaymentStatus polls the gateway; it funnels into the same reconciliation
// path as the webhook.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	checkoutID := mux.Vars(r)["checkoutId"]
	outcome, err := h.payments.SyncPaymentStatus(r.Context(), checkoutID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reconcileResponse(outcome))
}

func reconcileResponse(outcome *service.ReconcileOutcome) map[string]interface{} {
	resp := map[string]interface{}{
		"payment":   outcome.Payment,
		"duplicate": outcome.Duplicate,
	}
	if outcome.Processing {
		resp["processing"] = true
	}
	if outcome.UserPackage != nil {
		resp["user_package"] = outcome.UserPackage
	}
	return resp
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	status := models.PaymentStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.payments.ListUserPayments(r.Context(), userID, status, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) ListUserPackages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	views, err := h.redemptions.ListUserPackages(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) PackageQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid package id"})
		return
	}

	png, err := h.redemptions.PackageQR(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (h *Handler) ListWashes(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid package id"})
		return
	}

	washes, err := h.redemptions.ListWashes(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, washes)
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token      string `json:"token"`
		LocationID string `json:"location_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Token == "" || req.LocationID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "token and location_id are required"})
		return
	}

	result, err := h.redemptions.Redeem(r.Context(), req.Token, req.LocationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ScanInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	info, err := h.redemptions.ScanInfo(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) LocationDailyWashes(w http.ResponseWriter, r *http.Request) {
	locationID := mux.Vars(r)["id"]
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	count, err := h.redemptions.LocationDailyWashes(r.Context(), locationID, day)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"location_id": locationID,
		"date":        day.UTC().Format("2006-01-02"),
		"washes":      count,
	})
}
