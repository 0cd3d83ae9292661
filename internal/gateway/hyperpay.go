// Package gateway wraps the hosted-checkout payment provider. The provider
// owns card capture, tokenization and 3-D secure; this client only creates
// checkout sessions and reads their terminal result.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paypass/wash-service/internal/models"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
)

// Result code families documented by the provider.
var (
	successCodes    = regexp.MustCompile(`^(000\.000\.|000\.100\.1|000\.[36])`)
	processingCodes = regexp.MustCompile(`^(000\.200)`)
)

// Outcome classifies a gateway result code.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	OutcomeProcessing
)

// Classify maps a raw result code onto the closed outcome set.
func Classify(code string) Outcome {
	switch {
	case successCodes.MatchString(code):
		return OutcomeSuccess
	case processingCodes.MatchString(code):
		return OutcomeProcessing
	default:
		return OutcomeFailure
	}
}

// CheckoutRequest carries everything the provider needs to open a hosted
// checkout session.
type CheckoutRequest struct {
	Amount    float64
	Method    models.PaymentMethod
	Email     string
	GivenName string
	Surname   string
	Street    string
	City      string
	State     string
	Country   string
	Postcode  string
}

// CheckoutSession is the provider's reference for a prepared checkout.
type CheckoutSession struct {
	CheckoutID   string
	MerchantTxID string
	WidgetURL    string
}

// Result is a gateway-reported payment result, from either a webhook payload
// or a polled status fetch.
type Result struct {
	TransactionID string
	MerchantTxID  string
	Code          string
	Description   string
}

// Client talks to the provider over HTTPS with a bounded timeout.
type Client struct {
	baseURL  string
	token    string
	currency string
	// Entity ids resolved per payment method at construction, instead of
	// branching on method strings at call sites.
	entities map[models.PaymentMethod]string
	http     *http.Client
}

func NewClient(baseURL, token, entityCard, entityApplePay, currency string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		currency: currency,
		entities: map[models.PaymentMethod]string{
			models.MethodCard:     entityCard,
			models.MethodApplePay: entityApplePay,
		},
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) entityFor(method models.PaymentMethod) (string, error) {
	entity, ok := c.entities[method]
	if !ok || entity == "" {
		return "", fmt.Errorf("no gateway entity configured for method %s", method)
	}
	return entity, nil
}

// CreateCheckout opens a hosted checkout session. A transport failure or a
// non-2xx response surfaces as ErrGatewayUnavailable so the caller can retry
// the whole checkout later; no local state is created for failed calls.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	entity, err := c.entityFor(req.Method)
	if err != nil {
		return nil, err
	}

	merchantTxID := "tx_" + uuid.NewString()

	form := url.Values{}
	form.Set("entityId", entity)
	form.Set("amount", fmt.Sprintf("%.2f", req.Amount))
	form.Set("currency", c.currency)
	form.Set("paymentType", "DB")
	form.Set("merchantTransactionId", merchantTxID)
	form.Set("customer.email", req.Email)
	form.Set("customer.givenName", orDefault(req.GivenName, "First"))
	form.Set("customer.surname", orDefault(req.Surname, "Last"))
	form.Set("billing.street1", orDefault(req.Street, "NA"))
	form.Set("billing.city", orDefault(req.City, "NA"))
	form.Set("billing.state", orDefault(req.State, "NA"))
	form.Set("billing.country", orDefault(req.Country, "SA"))
	form.Set("billing.postcode", orDefault(req.Postcode, "00000"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Error("gateway checkout call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("gateway checkout rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: checkout returned status %d", pkgerrors.ErrGatewayUnavailable, resp.StatusCode)
	}

	var body struct {
		ID     string `json:"id"`
		Result struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: invalid checkout response: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	if body.ID == "" {
		return nil, fmt.Errorf("%w: checkout response missing id (%s)", pkgerrors.ErrGatewayUnavailable, body.Result.Code)
	}

	slog.Info("gateway checkout created", "checkout_id", body.ID, "merchant_tx_id", merchantTxID)
	return &CheckoutSession{
		CheckoutID:   body.ID,
		MerchantTxID: merchantTxID,
		WidgetURL:    fmt.Sprintf("%s/v1/paymentWidgets.js?checkoutId=%s", c.baseURL, body.ID),
	}, nil
}

// FetchStatus polls the provider for the result of a checkout. The returned
// Result feeds the same reconciliation path webhook payloads do.
func (c *Client) FetchStatus(ctx context.Context, checkoutID string, method models.PaymentMethod) (*Result, error) {
	entity, err := c.entityFor(method)
	if err != nil {
		return nil, err
	}

	statusURL := fmt.Sprintf("%s/v1/checkouts/%s/payment?entityId=%s", c.baseURL, url.PathEscape(checkoutID), url.QueryEscape(entity))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Error("gateway status call failed", "checkout_id", checkoutID, "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("gateway status rejected", "checkout_id", checkoutID, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status returned %d", pkgerrors.ErrGatewayUnavailable, resp.StatusCode)
	}

	var body struct {
		ID                    string `json:"id"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		Result                struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: invalid status response: %v", pkgerrors.ErrGatewayUnavailable, err)
	}

	return &Result{
		TransactionID: body.ID,
		MerchantTxID:  body.MerchantTransactionID,
		Code:          body.Result.Code,
		Description:   body.Result.Description,
	}, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
