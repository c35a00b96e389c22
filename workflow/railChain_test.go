package workflow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

const (
	testTokenContract = "0x55d398326f99059ff775485246999027b3197955"
	testCompanyWallet = "0x1111111111111111111111111111111111111111"
	testPayerWallet   = "0x2222222222222222222222222222222222222222"
)

func addressTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(strings.ToLower(addr), "0x")
}

func transferReceipt(contract, from, to string, amount *big.Int) *transactionReceipt {
	return &transactionReceipt{
		Status: "0x1",
		Logs: []chainLog{
			// unrelated log from another contract, must be skipped
			{Address: "0x3333333333333333333333333333333333333333", Topics: []string{erc20TransferTopic, addressTopic(from), addressTopic(to)}, Data: "0xff"},
			{Address: contract, Topics: []string{erc20TransferTopic, addressTopic(from), addressTopic(to)}, Data: "0x" + amount.Text(16)},
		},
	}
}

func TestTopicToAddress(t *testing.T) {
	topic := addressTopic(testPayerWallet)
	if got := topicToAddress(topic); got != testPayerWallet {
		t.Fatalf("got %s, want %s", got, testPayerWallet)
	}
	// short input is passed through rather than sliced out of range
	if got := topicToAddress("0xabcd"); got != "0xabcd" {
		t.Fatalf("short topic: got %s", got)
	}
}

func TestFindTokenTransfer(t *testing.T) {
	amount, _ := new(big.Int).SetString("5ccec5d16f6cc0000", 16) // 107 USDT in base units

	receipt := transferReceipt(testTokenContract, testPayerWallet, testCompanyWallet, amount)
	sender, got, ok := findTokenTransfer(receipt, testTokenContract, testCompanyWallet)
	if !ok {
		t.Fatal("expected a matching transfer")
	}
	if sender != testPayerWallet {
		t.Fatalf("sender %s, want %s", sender, testPayerWallet)
	}
	if got.Cmp(amount) != 0 {
		t.Fatalf("amount %s, want %s", got, amount)
	}
}

func TestFindTokenTransferIgnoresOtherRecipients(t *testing.T) {
	amount := big.NewInt(1_000_000)
	receipt := transferReceipt(testTokenContract, testPayerWallet, testPayerWallet, amount)
	if _, _, ok := findTokenTransfer(receipt, testTokenContract, testCompanyWallet); ok {
		t.Fatal("transfer to another wallet must not match")
	}
}

func TestFindTokenTransferIgnoresOtherContracts(t *testing.T) {
	amount := big.NewInt(1_000_000)
	receipt := transferReceipt("0x4444444444444444444444444444444444444444", testPayerWallet, testCompanyWallet, amount)
	if _, _, ok := findTokenTransfer(receipt, testTokenContract, testCompanyWallet); ok {
		t.Fatal("transfer on another token must not match")
	}
}

func TestFindTokenTransferRejectsMalformedLogs(t *testing.T) {
	receipt := &transactionReceipt{
		Status: "0x1",
		Logs: []chainLog{
			// approval-style log with only two topics
			{Address: testTokenContract, Topics: []string{erc20TransferTopic, addressTopic(testPayerWallet)}, Data: "0x01"},
			// transfer with unparseable data
			{Address: testTokenContract, Topics: []string{erc20TransferTopic, addressTopic(testPayerWallet), addressTopic(testCompanyWallet)}, Data: "0xzz"},
		},
	}
	if _, _, ok := findTokenTransfer(receipt, testTokenContract, testCompanyWallet); ok {
		t.Fatal("malformed logs must not match")
	}
}

func TestExpectedTokenUnits(t *testing.T) {
	// 107.00 USDT in cents scales by 10^16 to 18-decimal base units
	want, _ := new(big.Int).SetString("5ccec5d16f6cc0000", 16)
	if got := expectedTokenUnits(10_700); got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}
	if got := expectedTokenUnits(1); got.Cmp(big.NewInt(0).Exp(big.NewInt(10), big.NewInt(16), nil)) != 0 {
		t.Fatalf("one cent should be 10^16 base units, got %s", got)
	}
}

// Two concurrent hash submissions can both pass the in-use pre-check; the
// unique index then rejects the loser with MySQL error 1062, which must be
// recognized so callers see a conflict rather than a database failure.
func TestDuplicateHashRaceIsRecognizedAsConflict(t *testing.T) {
	dup := &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry '0xabc' for key 'chain_tx_hash'"}
	if !isDuplicateKeyErr(dup) {
		t.Fatal("error 1062 should be recognized as a duplicate key")
	}
	if !isDuplicateKeyErr(fmt.Errorf("attach hash: %w", dup)) {
		t.Fatal("wrapped 1062 should still be recognized")
	}
	if isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1213, Message: "Deadlock found"}) {
		t.Fatal("other MySQL errors are not duplicates")
	}
	if isDuplicateKeyErr(errors.New("duplicate entry")) {
		t.Fatal("a plain error is not a duplicate key")
	}
	if isDuplicateKeyErr(nil) {
		t.Fatal("nil is not a duplicate key")
	}
}
