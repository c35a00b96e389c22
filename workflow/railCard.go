package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
)

// Card rail: PayStack. The transaction id doubles as the gateway reference,
// so the verify callback maps straight back to the ledger entry.

type paystackClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func newPaystackClient() (*paystackClient, error) {
	secret := config.PaystackSecretKey()
	if strings.TrimSpace(secret) == "" {
		return nil, utils.NewRailError(false, nil, "paystack secret key is not configured")
	}
	return &paystackClient{
		baseURL:   strings.TrimRight(config.PaystackBaseURL(), "/"),
		secretKey: secret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *paystackClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *paystackClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	return c.do(req, out)
}

func (c *paystackClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return utils.NewRailError(true, err, "paystack request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return utils.NewRailError(transient, nil, "paystack api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

type paystackInitResponse struct {
	Status bool `json:"status"`
	Data   struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
	Message string `json:"message"`
}

type paystackVerifyResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Status   string                 `json:"status"`
		Amount   int64                  `json:"amount"`
		PaidAt   string                 `json:"paid_at"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"data"`
	Message string `json:"message"`
}

// BeginCardPurchase writes the pending ledger entry and initializes the
// gateway checkout. Returns the transaction and the authorization URL the
// client is redirected to. Card collection is naira only.
func BeginCardPurchase(ctx context.Context, logger *logrus.Logger, userId int, kind models.ShareKind, shares int64, email string) (*models.PurchaseTransaction, string, error) {
	quote, err := QuoteShares(ctx, kind, shares, models.CurrencyNaira)
	if err != nil {
		return nil, "", err
	}
	if !utils.IsValidEmail(email) {
		return nil, "", utils.NewValidationError("a valid email is required for card checkout")
	}

	txn, err := models.CreatePurchaseTransaction(ctx, nil, &models.NewPurchaseTransaction{
		UserId: userId,
		Quote:  quote,
		Rail:   models.PaymentRailCard,
	})
	if err != nil {
		return nil, "", err
	}
	// reference = transaction id, set before the gateway sees it
	db := config.GetDB().WithContext(ctx)
	if err := db.Model(txn).Update("card_reference", txn.TransactionId).Error; err != nil {
		return nil, "", err
	}
	txn.CardReference = &txn.TransactionId

	client, err := newPaystackClient()
	if err != nil {
		return nil, "", err
	}
	var initResp paystackInitResponse
	payload := map[string]interface{}{
		"email":        email,
		"amount":       txn.Amount,
		"reference":    txn.TransactionId,
		"callback_url": fmt.Sprintf("%s/payments/card/callback", strings.TrimRight(config.PaymentCallbackBaseURL(), "/")),
		"metadata": map[string]interface{}{
			"transaction_id": txn.TransactionId,
			"kind":           txn.Kind,
			"shares":         txn.Shares,
		},
	}
	if err := client.post(ctx, "/transaction/initialize", payload, &initResp); err != nil {
		config.LogError(logger, "workflow", "BeginCardPurchase", "gateway initialize", txn.TransactionId, err)
		return nil, "", err
	}
	if !initResp.Status {
		return nil, "", utils.NewRailError(false, nil, "paystack rejected initialize: %s", initResp.Message)
	}
	return txn, initResp.Data.AuthorizationURL, nil
}

// ConfirmCardPayment verifies a gateway reference and drives the ledger
// transition. Success with a matching amount settles; a declared failure
// fails; anything in flight leaves the transaction where it is so a later
// verify can finish the job.
func ConfirmCardPayment(ctx context.Context, logger *logrus.Logger, reference string) (*models.PurchaseTransaction, error) {
	txn, err := models.GetPurchaseTransaction(ctx, reference)
	if err != nil {
		return nil, utils.NewNotFoundError("no transaction for card reference %s", reference)
	}
	if txn.Status == models.PurchaseStatusCompleted {
		return txn, nil
	}

	client, err := newPaystackClient()
	if err != nil {
		return nil, err
	}
	var verifyResp paystackVerifyResponse
	if err := client.get(ctx, "/transaction/verify/"+reference, &verifyResp); err != nil {
		config.LogError(logger, "workflow", "ConfirmCardPayment", "gateway verify", reference, err)
		return nil, err
	}

	switch verifyResp.Data.Status {
	case "success":
		if verifyResp.Data.Amount != txn.Amount {
			_, failErr := FailPurchase(ctx, logger, txn.TransactionId, models.ActorGateway, 0,
				fmt.Sprintf("gateway amount %d does not match ledger amount %d", verifyResp.Data.Amount, txn.Amount))
			if failErr != nil {
				return nil, failErr
			}
			return nil, utils.NewIntegrityError(txn.TransactionId, "card payment amount mismatch on %s", reference)
		}
		return SettlePurchase(ctx, logger, txn.TransactionId, models.ActorGateway, 0, "card payment verified")
	case "failed", "abandoned", "reversed":
		return FailPurchase(ctx, logger, txn.TransactionId, models.ActorGateway, 0,
			fmt.Sprintf("gateway reported status %q", verifyResp.Data.Status))
	default:
		// ongoing / queued: no transition, the reconciliation sweep retries
		return txn, nil
	}
}
