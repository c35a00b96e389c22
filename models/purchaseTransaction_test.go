package models

import (
	"regexp"
	"testing"
	"time"
)

func TestGenerateTransactionIdFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^(TXN|CFD|INST|CFI)-[0-9A-F]{8}-\d{6}$`)

	cases := []struct {
		kind   ShareKind
		rail   PaymentRail
		prefix string
	}{
		{ShareKindRegular, PaymentRailCard, "TXN"},
		{ShareKindRegular, PaymentRailChain, "TXN"},
		{ShareKindCoFounder, PaymentRailManual, "CFD"},
		{ShareKindRegular, PaymentRailInstallment, "INST"},
		{ShareKindCoFounder, PaymentRailInstallment, "CFI"},
	}
	for _, c := range cases {
		id := GenerateTransactionId(c.kind, c.rail)
		if !pattern.MatchString(id) {
			t.Fatalf("id %q does not match the documented format", id)
		}
		wantPrefix := c.prefix + "-"
		if id[:len(wantPrefix)] != wantPrefix {
			t.Fatalf("kind=%s rail=%s: got id %q, want prefix %s", c.kind, c.rail, id, c.prefix)
		}
	}
}

func TestGenerateTransactionIdUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := GenerateTransactionId(ShareKindRegular, PaymentRailCard)
		if seen[id] {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = true
	}
}

func TestAppendStatusChangeAccumulates(t *testing.T) {
	txn := &PurchaseTransaction{}
	now := time.Now().UTC().Truncate(time.Second)

	txn.AppendStatusChange(StatusChange{From: PurchaseStatusPending, To: PurchaseStatusVerifying, Actor: ActorUser, ActorId: 7, Timestamp: now})
	txn.AppendStatusChange(StatusChange{From: PurchaseStatusVerifying, To: PurchaseStatusCompleted, Actor: ActorGateway, Reason: "gateway confirmed", Timestamp: now.Add(time.Minute)})

	history := txn.StatusChanges()
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].To != PurchaseStatusVerifying || history[0].ActorId != 7 {
		t.Fatalf("first entry: %+v", history[0])
	}
	if history[1].Actor != ActorGateway || history[1].Reason != "gateway confirmed" {
		t.Fatalf("second entry: %+v", history[1])
	}
}

func TestAppendStatusChangeReplacesBrokenHistory(t *testing.T) {
	txn := &PurchaseTransaction{StatusHistory: []byte("{not json")}
	txn.AppendStatusChange(StatusChange{From: PurchaseStatusPending, To: PurchaseStatusFailed, Actor: ActorSystem, Timestamp: time.Now()})
	history := txn.StatusChanges()
	if len(history) != 1 || history[0].To != PurchaseStatusFailed {
		t.Fatalf("broken history should be replaced, got %+v", history)
	}
}

func TestPurchaseStatusTransitionsHelpers(t *testing.T) {
	for _, s := range []PurchaseStatus{PurchaseStatusFailed, PurchaseStatusCancelled, PurchaseStatusRefunded} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.CanSettle() {
			t.Fatalf("%s should not be settleable", s)
		}
	}
	for _, s := range []PurchaseStatus{PurchaseStatusPending, PurchaseStatusVerifying} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.CanSettle() {
			t.Fatalf("%s should be settleable", s)
		}
	}
	// Completed cannot settle again but is not terminal: refund is still a
	// legal transition out of it.
	if PurchaseStatusCompleted.CanSettle() {
		t.Fatal("Completed should not be settleable")
	}
	if PurchaseStatusCompleted.Terminal() {
		t.Fatal("Completed should allow a transition out (refund)")
	}
}
