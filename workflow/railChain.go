package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/bsm/redislock"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Chain rail: users transfer USDT (BEP-20) to the company wallet and submit
// the transaction hash. Verification reads the receipt over JSON-RPC and
// scans the logs for the one Transfer that pays the company the expected
// amount. A hash settles at most one ledger entry, enforced both here and by
// the unique index.

// keccak256("Transfer(address,address,uint256)")
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// USDT on BSC carries 18 decimals; ledger amounts carry 2.
const tokenDecimals = 18

type chainRPCClient struct {
	url  string
	http *http.Client
}

func newChainRPCClient() *chainRPCClient {
	return &chainRPCClient{
		url:  config.BscRPCURL(),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *chainRPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, utils.NewRailError(true, err, "chain rpc request failed")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, utils.NewRailError(true, nil, "chain rpc error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, utils.NewRailError(false, nil, "chain rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

type chainLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

type transactionReceipt struct {
	Status string     `json:"status"`
	From   string     `json:"from"`
	To     string     `json:"to"`
	Logs   []chainLog `json:"logs"`
}

// transactionReceipt returns nil when the hash is not yet mined.
func (c *chainRPCClient) transactionReceipt(ctx context.Context, txHash string) (*transactionReceipt, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var receipt transactionReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// findTokenTransfer scans receipt logs for a Transfer of the given token to
// the given wallet and returns (sender, amount in token base units).
func findTokenTransfer(receipt *transactionReceipt, tokenContract string, wallet string) (string, *big.Int, bool) {
	for _, entry := range receipt.Logs {
		if !utils.SameHexAddress(entry.Address, tokenContract) {
			continue
		}
		if len(entry.Topics) != 3 || !strings.EqualFold(entry.Topics[0], erc20TransferTopic) {
			continue
		}
		to := topicToAddress(entry.Topics[2])
		if !utils.SameHexAddress(to, wallet) {
			continue
		}
		amount, ok := new(big.Int).SetString(strings.TrimPrefix(entry.Data, "0x"), 16)
		if !ok {
			continue
		}
		return topicToAddress(entry.Topics[1]), amount, true
	}
	return "", nil, false
}

// topicToAddress unpacks a 32-byte indexed-address topic to 0x + 40 hex.
func topicToAddress(topic string) string {
	hexPart := strings.TrimPrefix(topic, "0x")
	if len(hexPart) < 40 {
		return "0x" + hexPart
	}
	return "0x" + hexPart[len(hexPart)-40:]
}

// expectedTokenUnits scales a ledger amount (2-decimal minor units) to token
// base units.
func expectedTokenUnits(amount int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals-2), nil)
	return new(big.Int).Mul(big.NewInt(amount), scale)
}

// BeginChainPurchase opens a pending USDT purchase and returns the wallet
// address the user must pay.
func BeginChainPurchase(ctx context.Context, logger *logrus.Logger, userId int, kind models.ShareKind, shares int64, fromAddr string) (*models.PurchaseTransaction, string, error) {
	quote, err := QuoteShares(ctx, kind, shares, models.CurrencyUSDT)
	if err != nil {
		return nil, "", err
	}

	wallet := config.CompanyWalletAddress()
	if wallet == "" {
		return nil, "", utils.NewRailError(false, nil, "company wallet address is not configured")
	}
	input := &models.NewPurchaseTransaction{
		UserId:      userId,
		Quote:       quote,
		Rail:        models.PaymentRailChain,
		ChainToAddr: &wallet,
	}
	if fromAddr != "" {
		normalized := utils.NormalizeHexAddress(fromAddr)
		input.ChainFromAddr = &normalized
	}
	txn, err := models.CreatePurchaseTransaction(ctx, nil, input)
	if err != nil {
		config.LogError(logger, "workflow", "BeginChainPurchase", "create transaction", userId, err)
		return nil, "", err
	}
	return txn, wallet, nil
}

// SubmitChainHash attaches the user's transfer hash and moves the purchase
// to verifying. A hash already claimed by another transaction is refused
// before the unique index would refuse it anyway.
func SubmitChainHash(ctx context.Context, logger *logrus.Logger, transactionId string, txHash string) (*models.PurchaseTransaction, error) {
	normalized := utils.NormalizeHexAddress(txHash)
	if len(normalized) != 66 {
		return nil, utils.NewValidationError("transaction hash must be 0x + 64 hex characters")
	}

	db := config.GetDB().WithContext(ctx)
	var updated *models.PurchaseTransaction
	err := db.Transaction(func(tx *gorm.DB) error {
		txn, err := models.GetPurchaseTransactionForUpdate(tx, transactionId)
		if err != nil {
			return err
		}
		if txn.Rail != models.PaymentRailChain {
			return utils.NewValidationError("transaction %s is not a chain purchase", transactionId)
		}
		if txn.Status != models.PurchaseStatusPending && txn.Status != models.PurchaseStatusVerifying {
			return utils.NewConflictError("transaction %s cannot accept a hash in status %s", transactionId, txn.Status)
		}
		inUse, err := models.ChainHashInUse(tx, normalized, transactionId)
		if err != nil {
			return err
		}
		if inUse {
			return utils.NewConflictError("transaction hash %s is already claimed by another purchase", normalized)
		}
		if err := tx.Model(txn).Update("chain_tx_hash", normalized).Error; err != nil {
			// Two submitters can pass the in-use check concurrently; the
			// unique index decides the race, and the loser gets a conflict.
			if isDuplicateKeyErr(err) {
				return utils.NewConflictError("transaction hash %s is already claimed by another purchase", normalized)
			}
			return err
		}
		txn.ChainTxHash = &normalized
		updated = txn
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "SubmitChainHash", "attach hash", transactionId, err)
		return nil, err
	}
	if updated.Status == models.PurchaseStatusPending {
		return MarkVerifying(ctx, logger, transactionId, models.ActorUser, updated.UserId, "chain hash submitted")
	}
	return updated, nil
}

// VerifyChainPayment fetches the receipt for a submitted hash and settles or
// fails the purchase. An unmined hash is left alone for the next attempt.
// The redis lock keeps two workers from verifying the same purchase at once;
// settle itself is state-gated so losing the lock race costs nothing.
func VerifyChainPayment(ctx context.Context, logger *logrus.Logger, transactionId string) (*models.PurchaseTransaction, error) {
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "chainverify:"+transactionId, time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return nil, utils.NewConflictError("verification for %s is already running", transactionId)
		}
		if err == nil {
			defer lock.Release(ctx)
		}
	}

	txn, err := models.GetPurchaseTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if txn.Status == models.PurchaseStatusCompleted {
		return txn, nil
	}
	if txn.Status != models.PurchaseStatusVerifying {
		return nil, utils.NewConflictError("transaction %s is not awaiting chain verification (status %s)", transactionId, txn.Status)
	}
	if txn.ChainTxHash == nil {
		return nil, utils.NewValidationError("transaction %s has no submitted hash", transactionId)
	}

	receipt, err := newChainRPCClient().transactionReceipt(ctx, *txn.ChainTxHash)
	if err != nil {
		config.LogError(logger, "workflow", "VerifyChainPayment", "fetch receipt", transactionId, err)
		return nil, err
	}
	if receipt == nil {
		// not mined yet; the reconciliation sweep will come back
		return txn, nil
	}
	if receipt.Status != "0x1" {
		return FailPurchase(ctx, logger, transactionId, models.ActorChain, 0, "on-chain transaction reverted")
	}

	sender, amount, found := findTokenTransfer(receipt, config.USDTContractAddress(), config.CompanyWalletAddress())
	if !found {
		return FailPurchase(ctx, logger, transactionId, models.ActorChain, 0, "no token transfer to the company wallet in receipt")
	}
	if amount.Cmp(expectedTokenUnits(txn.Amount)) != 0 {
		return FailPurchase(ctx, logger, transactionId, models.ActorChain, 0,
			fmt.Sprintf("token amount %s does not match expected %s", amount.String(), expectedTokenUnits(txn.Amount).String()))
	}
	if txn.ChainFromAddr != nil && !utils.SameHexAddress(sender, *txn.ChainFromAddr) {
		return FailPurchase(ctx, logger, transactionId, models.ActorChain, 0,
			fmt.Sprintf("transfer came from %s, expected %s", sender, *txn.ChainFromAddr))
	}

	return SettlePurchase(ctx, logger, transactionId, models.ActorChain, 0, "chain transfer verified")
}

// ScheduleChainVerification waits out the propagation delay and then
// verifies. Runs on its own goroutine from the HTTP layer.
func ScheduleChainVerification(logger *logrus.Logger, transactionId string) {
	go func() {
		time.Sleep(config.ChainVerifyDelay())
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := VerifyChainPayment(ctx, logger, transactionId); err != nil {
			config.LogError(logger, "workflow", "ScheduleChainVerification", "deferred verify", transactionId, err)
		}
	}()
}
