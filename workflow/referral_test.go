package workflow

import (
	"testing"

	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
)

func commissionEntry() *models.ReferralEntry {
	txId := "TXN-AAAA1111-000001"
	return &models.ReferralEntry{
		ID:                41,
		BeneficiaryUserId: 7,
		SourceUserId:      9,
		SourceTxId:        &txId,
		Generation:        1,
		PurchaseKind:      models.ReferralPurchaseRegular,
		Amount:            1_500_000,
		Currency:          models.CurrencyNaira,
		Status:            models.ReferralEntryCompleted,
	}
}

func TestApplyReferralEditRecordsOriginalAmountOnce(t *testing.T) {
	entry := commissionEntry()

	first := int64(1_200_000)
	if err := applyReferralEdit(entry, &first, nil, 999, "commission rate applied wrongly"); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	if entry.Amount != 1_200_000 {
		t.Fatalf("amount after edit: %d", entry.Amount)
	}
	if entry.OriginalAmount == nil || *entry.OriginalAmount != 1_500_000 {
		t.Fatalf("original amount not recorded: %v", entry.OriginalAmount)
	}
	if entry.AdjustedBy == nil || *entry.AdjustedBy != 999 {
		t.Fatalf("adjusted-by not recorded: %v", entry.AdjustedBy)
	}
	if entry.Reason == nil || *entry.Reason == "" {
		t.Fatal("reason not recorded")
	}

	// A second edit keeps the first pre-edit amount, not the intermediate one.
	second := int64(1_300_000)
	if err := applyReferralEdit(entry, &second, nil, 1000, "correction of the correction"); err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if *entry.OriginalAmount != 1_500_000 {
		t.Fatalf("original amount overwritten: %d", *entry.OriginalAmount)
	}
	if entry.Amount != 1_300_000 || *entry.AdjustedBy != 1000 {
		t.Fatalf("second edit not applied: amount=%d adjustedBy=%v", entry.Amount, entry.AdjustedBy)
	}
}

func TestApplyReferralEditStatusFlip(t *testing.T) {
	entry := commissionEntry()

	reversed := models.ReferralEntryReversed
	if err := applyReferralEdit(entry, nil, &reversed, 999, "purchase charged back"); err != nil {
		t.Fatalf("status edit: %v", err)
	}
	if entry.Status != models.ReferralEntryReversed {
		t.Fatalf("status after edit: %s", entry.Status)
	}
	// Amount untouched, so no original recorded.
	if entry.OriginalAmount != nil {
		t.Fatalf("status-only edit must not record an original amount: %v", entry.OriginalAmount)
	}
}

func TestApplyReferralEditValidation(t *testing.T) {
	amount := int64(100)
	zero := int64(0)
	bogus := models.ReferralEntryStatus("Pending")

	cases := []struct {
		name      string
		newAmount *int64
		newStatus *models.ReferralEntryStatus
		reason    string
	}{
		{"missing reason", &amount, nil, ""},
		{"nothing to change", nil, nil, "because"},
		{"zero amount", &zero, nil, "because"},
		{"unknown status", nil, &bogus, "because"},
	}
	for _, c := range cases {
		entry := commissionEntry()
		err := applyReferralEdit(entry, c.newAmount, c.newStatus, 999, c.reason)
		if utils.KindOf(err) != utils.ErrorKindValidation {
			t.Fatalf("%s: expected validation error, got %v", c.name, err)
		}
		if entry.Amount != 1_500_000 || entry.Status != models.ReferralEntryCompleted || entry.AdjustedBy != nil {
			t.Fatalf("%s: rejected edit must not mutate the entry: %+v", c.name, entry)
		}
	}
}
