package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"paybook.org/internal/ledger"
	"paybook.org/internal/ledger/remote"
)

func main() {
	baseURL := os.Getenv("PAYBOOK_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := remote.New(baseURL, "")
	if err := client.ObtainToken(ctx, "smoke", []string{"admin"}); err != nil {
		log.Fatalf("obtain token from %s: %v", baseURL, err)
	}

	doc, err := client.CreateDocument(ctx, 10_000, time.Time{})
	if err != nil {
		log.Fatalf("create document: %v", err)
	}

	idemKey := fmt.Sprintf("smoke-%d", rand.Int())
	p, err := client.ApplyPayment(ctx, ledger.PaymentInput{
		DocumentID: doc.ID,
		AmountPaid: 4_000,
	}, idemKey)
	if err != nil {
		log.Fatalf("apply payment: %v", err)
	}

	// Replay must not double-apply.
	p2, err := client.ApplyPayment(ctx, ledger.PaymentInput{
		DocumentID: doc.ID,
		AmountPaid: 4_000,
	}, idemKey)
	if err != nil {
		log.Fatalf("replay payment: %v", err)
	}
	if p2.ID != p.ID {
		log.Fatalf("idempotency broken: %s != %s", p2.ID, p.ID)
	}

	doc, err = client.GetDocument(ctx, doc.ID)
	if err != nil {
		log.Fatalf("get document: %v", err)
	}
	if doc.PaidAmount != 4_000 || doc.BalanceAmount != 6_000 {
		log.Fatalf("aggregate drift: paid=%d balance=%d", doc.PaidAmount, doc.BalanceAmount)
	}

	edited, err := client.EditPayment(ctx, p.ID, 10_000, doc.Version)
	if err != nil {
		log.Fatalf("edit payment: %v", err)
	}
	if edited.AmountPaid != 10_000 {
		log.Fatalf("unexpected edited amount: %d", edited.AmountPaid)
	}

	doc, err = client.GetDocument(ctx, doc.ID)
	if err != nil {
		log.Fatalf("get document: %v", err)
	}
	if doc.BalanceAmount != 0 || doc.Status != ledger.StatusCleared {
		log.Fatalf("expected cleared document, got balance=%d status=%s", doc.BalanceAmount, doc.Status)
	}

	toggled, err := client.ToggleClearance(ctx, p.ID)
	if err != nil {
		log.Fatalf("toggle clearance: %v", err)
	}
	if toggled.ClearanceStatus == ledger.ClearancePending {
		log.Fatalf("clearance did not flip")
	}

	if err := client.ReversePayment(ctx, p.ID, 0); err != nil {
		log.Fatalf("reverse payment: %v", err)
	}
	doc, err = client.GetDocument(ctx, doc.ID)
	if err != nil {
		log.Fatalf("get document: %v", err)
	}
	if doc.BalanceAmount != doc.GrandTotal {
		log.Fatalf("reverse did not restore balance: %d != %d", doc.BalanceAmount, doc.GrandTotal)
	}

	fmt.Printf("✅ paybook smoke test passed: document=%s\n", doc.ID)
}
