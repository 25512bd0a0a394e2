package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

// PaymentService covers the contract with the external payment provider:
// building the checkout page URL for card-funded top-ups, rendering it as a
// QR image, and verifying webhook signatures. Settlement itself is the
// provider's problem.
type PaymentService struct {
	pageURL       string
	webhookSecret string
}

func NewPaymentService() *PaymentService {
	viper.SetDefault("payment.page_url", "https://pay.cloudmint.example/checkout")
	return &PaymentService{
		pageURL:       viper.GetString("payment.page_url"),
		webhookSecret: viper.GetString("payment.webhook_secret"),
	}
}

// PaymentPageURL builds the external checkout URL the customer is
// redirected to for a card-funded top-up.
func (ps *PaymentService) PaymentPageURL(reference string, amount int64) string {
	q := url.Values{}
	q.Set("reference", reference)
	q.Set("amount", fmt.Sprintf("%d", amount))
	return ps.pageURL + "?" + q.Encode()
}

// PaymentQRCode renders the checkout URL as a base64-encoded PNG.
func (ps *PaymentService) PaymentQRCode(paymentURL string) (string, error) {
	qr, err := qrcode.New(paymentURL, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// VerifySignature checks the provider's HMAC-SHA256 signature over the raw
// webhook body.
func (ps *PaymentService) VerifySignature(body []byte, signature string) error {
	if ps.webhookSecret == "" {
		return errors.New("webhook secret not configured")
	}

	h := hmac.New(sha256.New, []byte(ps.webhookSecret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}

type paymentWebhookRequest struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// PaymentWebhook receives the payment provider's settlement callback
// @Summary Payment provider webhook
// @Description Reconcile a pending deposit once the provider confirms settlement
// @Tags payments
// @Accept json
// @Produce json
// @Param X-Payment-Signature header string true "HMAC-SHA256 of the request body"
// @Param event body paymentWebhookRequest true "Provider event"
// @Success 200 {object} object{reference=string,credited=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/webhook [post]
func (bs *BalanceService) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := bs.payments.VerifySignature(body, r.Header.Get("X-Payment-Signature")); err != nil {
		log.Printf("[PAYMENT] Webhook signature rejected: %v", err)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Reference == "" {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if req.Status != "succeeded" {
		log.Printf("[PAYMENT] Ignoring webhook for %s with status %s", req.Reference, req.Status)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"reference": req.Reference, "credited": false})
		return
	}

	credited, err := bs.completePendingDeposit(req.Reference)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Unknown payment reference", http.StatusNotFound, nil)
			return
		}
		log.Printf("[PAYMENT] Failed to reconcile %s: %v", req.Reference, err)
		SendErrorResponse(w, "Failed to reconcile payment", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"reference": req.Reference,
		"credited":  credited,
	})
}
