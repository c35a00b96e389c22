package workflow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Invoice rail: Centiiv. An order is created against the buyer's email; both
// the signed webhook and the browser-return callback carry the same status
// vocabulary and converge on HandleInvoiceSignal, which is safe to run for
// every redelivery.

type centiivClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newCentiivClient() (*centiivClient, error) {
	key := config.CentiivAPIKey()
	if strings.TrimSpace(key) == "" {
		return nil, utils.NewRailError(false, nil, "centiiv api key is not configured")
	}
	return &centiivClient{
		baseURL: strings.TrimRight(config.CentiivBaseURL(), "/"),
		apiKey:  key,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type centiivOrderResponse struct {
	Status bool `json:"status"`
	Data   struct {
		OrderId    string `json:"orderId"`
		PaymentURL string `json:"paymentUrl"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *centiivClient) createOrder(ctx context.Context, payload interface{}) (*centiivOrderResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, utils.NewRailError(true, err, "centiiv request failed")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, utils.NewRailError(transient, nil, "centiiv api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed centiivOrderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

type centiivOrderStatusResponse struct {
	Status bool `json:"status"`
	Data   struct {
		OrderId   string `json:"orderId"`
		Status    string `json:"status"`
		PaymentId string `json:"paymentId"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *centiivClient) getOrder(ctx context.Context, orderId string) (*centiivOrderStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderId, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, utils.NewRailError(true, err, "centiiv request failed")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, utils.NewRailError(transient, nil, "centiiv api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed centiivOrderStatusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// BeginInvoicePurchase opens a pending transaction and issues the invoice.
// Returns the transaction and the hosted payment URL. Naira only.
func BeginInvoicePurchase(ctx context.Context, logger *logrus.Logger, userId int, kind models.ShareKind, shares int64, email string) (*models.PurchaseTransaction, string, error) {
	quote, err := QuoteShares(ctx, kind, shares, models.CurrencyNaira)
	if err != nil {
		return nil, "", err
	}
	if !utils.IsValidEmail(email) {
		return nil, "", utils.NewValidationError("a valid email is required for invoicing")
	}

	txn, err := models.CreatePurchaseTransaction(ctx, nil, &models.NewPurchaseTransaction{
		UserId: userId,
		Quote:  quote,
		Rail:   models.PaymentRailInvoice,
	})
	if err != nil {
		return nil, "", err
	}

	client, err := newCentiivClient()
	if err != nil {
		return nil, "", err
	}
	order, err := client.createOrder(ctx, map[string]interface{}{
		"customerEmail": email,
		"amount":        utils.MinorUnitsToDecimal(txn.Amount),
		"reference":     txn.TransactionId,
		"metadata": map[string]interface{}{
			"transaction_id": txn.TransactionId,
			"kind":           txn.Kind,
			"shares":         txn.Shares,
		},
	})
	if err != nil {
		config.LogError(logger, "workflow", "BeginInvoicePurchase", "create order", txn.TransactionId, err)
		return nil, "", err
	}
	if !order.Status || order.Data.OrderId == "" {
		return nil, "", utils.NewRailError(false, nil, "centiiv rejected order: %s", order.Message)
	}

	db := config.GetDB().WithContext(ctx)
	if err := db.Model(txn).Update("invoice_order_id", order.Data.OrderId).Error; err != nil {
		return nil, "", err
	}
	txn.InvoiceOrderId = &order.Data.OrderId
	return txn, order.Data.PaymentURL, nil
}

// VerifyInvoiceSignature checks the webhook's HMAC-SHA256 signature header
// against the shared secret.
func VerifyInvoiceSignature(payload []byte, signature string) bool {
	secret := config.CentiivWebhookSecret()
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// MapInvoiceStatus folds the provider's status vocabulary into a ledger
// transition target. Unknown statuses map to no transition at all.
func MapInvoiceStatus(status string) models.PurchaseStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "completed", "success":
		return models.PurchaseStatusCompleted
	case "cancelled", "expired", "failed":
		return models.PurchaseStatusFailed
	case "processing", "pending":
		return models.PurchaseStatusVerifying
	}
	return ""
}

// HandleInvoiceSignal drives the ledger from a webhook delivery or browser
// return for an order. messageId dedupes webhook redeliveries; pass "" for
// the browser return, which is unauthenticated noise until verified against
// the same mapping.
func HandleInvoiceSignal(ctx context.Context, logger *logrus.Logger, orderId string, status string, paymentId string, messageId string) (*models.PurchaseTransaction, error) {
	txn, err := utils.FetchModelWhere[models.PurchaseTransaction](ctx, "invoice_order_id = ?", orderId)
	if err != nil {
		return nil, utils.NewNotFoundError("no transaction for invoice order %s", orderId)
	}

	if messageId != "" {
		db := config.GetDB().WithContext(ctx)
		proceed := false
		if err := db.Transaction(func(tx *gorm.DB) error {
			var beginErr error
			proceed, beginErr = BeginIdempotency(tx, "centiiv-webhook", messageId)
			return beginErr
		}); err != nil {
			return nil, err
		}
		if !proceed {
			return txn, nil
		}
	}

	if paymentId != "" && txn.InvoicePaymentId == nil {
		db := config.GetDB().WithContext(ctx)
		if err := db.Model(txn).Update("invoice_payment_id", paymentId).Error; err != nil {
			return nil, err
		}
	}

	var out *models.PurchaseTransaction
	switch MapInvoiceStatus(status) {
	case models.PurchaseStatusCompleted:
		out, err = SettlePurchase(ctx, logger, txn.TransactionId, models.ActorWebhook, 0, "invoice paid")
	case models.PurchaseStatusFailed:
		out, err = FailPurchase(ctx, logger, txn.TransactionId, models.ActorWebhook, 0, "invoice "+strings.ToLower(status))
	case models.PurchaseStatusVerifying:
		out, err = MarkVerifying(ctx, logger, txn.TransactionId, models.ActorWebhook, 0, "invoice "+strings.ToLower(status))
	default:
		logger.WithFields(logrus.Fields{
			"module":  "workflow",
			"orderId": orderId,
			"status":  status,
		}).Warn("unmapped invoice status, no transition")
		out = txn
	}

	if messageId != "" {
		db := config.GetDB().WithContext(ctx)
		if err != nil {
			_ = MarkIdempotencyFailed(db, "centiiv-webhook", messageId, err)
		} else {
			_ = MarkIdempotencySucceeded(db, "centiiv-webhook", messageId)
		}
	}
	return out, err
}

// SyncInvoiceStatus re-queries the provider for an order and applies the
// current status through the same mapping as the webhook. Used when a
// webhook delivery was lost.
func SyncInvoiceStatus(ctx context.Context, logger *logrus.Logger, transactionId string) (*models.PurchaseTransaction, error) {
	txn, err := models.GetPurchaseTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if txn.Rail != models.PaymentRailInvoice {
		return nil, utils.NewValidationError("transaction %s is not an invoice purchase", transactionId)
	}
	if txn.InvoiceOrderId == nil {
		return nil, utils.NewConflictError("transaction %s has no provider order to sync", transactionId)
	}
	if txn.Status.Terminal() {
		return txn, nil
	}

	client, err := newCentiivClient()
	if err != nil {
		return nil, err
	}
	order, err := client.getOrder(ctx, *txn.InvoiceOrderId)
	if err != nil {
		config.LogError(logger, "workflow", "SyncInvoiceStatus", "query order", transactionId, err)
		return nil, err
	}
	if !order.Status {
		return nil, utils.NewRailError(false, nil, "centiiv rejected status query: %s", order.Message)
	}
	return HandleInvoiceSignal(ctx, logger, *txn.InvoiceOrderId, order.Data.Status, order.Data.PaymentId, "")
}
