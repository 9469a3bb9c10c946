package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/graph"
)

func TestGraph_UpsertAccount(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := g.UpsertAccount(context.Background(), domain.Account{
		UserID:    "USR-1",
		Balance:   decimal.RequireFromString("10000.00"),
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	calls := mem.WriteCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write query, got %d", len(calls))
	}
	if calls[0].Query != upsertAccountCypher {
		t.Fatalf("unexpected query\nexpected:\n%s\ngot:\n%s", upsertAccountCypher, calls[0].Query)
	}
	if calls[0].Params["balanceCents"] != int64(1000000) {
		t.Errorf("expected balanceCents 1000000, got %v", calls[0].Params["balanceCents"])
	}
	if calls[0].Params["updatedAt"] != "2024-03-01T12:00:00Z" {
		t.Errorf("unexpected updatedAt %v", calls[0].Params["updatedAt"])
	}
}

func TestGraph_DebitAccount(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	mem.PushWriteResult(graph.Result{Records: []graph.Record{
		{"ok": true, "balanceCents": int64(7500), "updatedAt": "2024-03-01T12:00:00Z"},
	}})

	acc, err := g.DebitAccount(context.Background(), "USR-1", decimal.RequireFromString("25.00"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !acc.Balance.Equal(decimal.RequireFromString("75.00")) {
		t.Errorf("expected balance 75.00, got %s", acc.Balance)
	}

	call := mem.WriteCalls()[0]
	if call.Query != debitAccountCypher {
		t.Fatalf("unexpected debit query:\n%s", call.Query)
	}
	if call.Params["amount"] != int64(2500) {
		t.Errorf("expected amount 2500 cents, got %v", call.Params["amount"])
	}
}

func TestGraph_DebitAccountConflict(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	mem.PushWriteResult(graph.Result{Records: []graph.Record{
		{"ok": false, "balanceCents": int64(1000)},
	}})

	_, err := g.DebitAccount(context.Background(), "USR-1", decimal.RequireFromString("25.00"))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if !conflict.Available.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("expected available 10.00, got %s", conflict.Available)
	}
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds in chain")
	}
}

func TestGraph_DebitUnknownAccount(t *testing.T) {
	g := NewGraph(graph.NewMemoryClient())

	_, err := g.DebitAccount(context.Background(), "USR-404", decimal.NewFromInt(1))
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGraph_AppendTransaction(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := domain.Transaction{
		ID:        "TX-1",
		RequestID: "REQ-1",
		UserID:    "USR-1",
		Amount:    decimal.RequireFromString("19.99"),
		Currency:  "USD",
		Merchant:  "Amazon",
		Status:    domain.StatusApproved,
		RiskScore: 0.12,
		Flags:     []string{domain.FlagAmount},
		Gateway:   "mock",
		CreatedAt: now,
		Metadata:  map[string]any{"gatewayResponse": "ok"},
	}

	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"transactionId": "TX-1"}}})
	if err := g.AppendTransaction(context.Background(), tx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	call := mem.WriteCalls()[0]
	if call.Query != appendTransactionCypher {
		t.Fatalf("unexpected append query:\n%s", call.Query)
	}
	props, ok := call.Params["props"].(map[string]any)
	if !ok {
		t.Fatalf("expected props map, got %T", call.Params["props"])
	}
	if props["amountCents"] != int64(1999) {
		t.Errorf("expected amountCents 1999, got %v", props["amountCents"])
	}
	if props["createdAtMs"] != now.UnixMilli() {
		t.Errorf("unexpected createdAtMs %v", props["createdAtMs"])
	}
	if props["metadata"] != `{"gatewayResponse":"ok"}` {
		t.Errorf("unexpected metadata %v", props["metadata"])
	}
}

func TestGraph_AppendTransactionDuplicate(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	tx := domain.Transaction{ID: "TX-1", RequestID: "REQ-1", Merchant: "Amazon", CreatedAt: time.Now()}

	// An empty result means the OPTIONAL MATCH found an existing request.
	err := g.AppendTransaction(context.Background(), tx)
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	mem.WithError(errors.New("Neo.ClientError.Schema.ConstraintValidationFailed: already exists"))
	err = g.AppendTransaction(context.Background(), tx)
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest from constraint violation, got %v", err)
	}
}

func TestGraph_FindByRequestID(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	mem.PushReadResult(graph.Result{Records: []graph.Record{{
		"id":                  "TX-1",
		"requestId":           "REQ-1",
		"userId":              "USR-1",
		"amountCents":         int64(50000),
		"currency":            "USD",
		"merchant":            "Apple Store",
		"status":              "DECLINED",
		"declineReason":       "FRAUD_DETECTED",
		"riskScore":           0.91,
		"flags":               []any{"AMOUNT", "VELOCITY"},
		"processingLatencyMs": int64(42),
		"createdAt":           "2024-03-01T12:00:00Z",
		"metadata":            `{"fraudReasons":["high velocity"]}`,
	}}})

	tx, found, err := g.FindByRequestID(context.Background(), "REQ-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !found {
		t.Fatalf("expected transaction to be found")
	}
	if tx.Status != domain.StatusDeclined || tx.DeclineReason != domain.DeclineFraudDetected {
		t.Errorf("unexpected status %s/%s", tx.Status, tx.DeclineReason)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected amount 500, got %s", tx.Amount)
	}
	if len(tx.Flags) != 2 || tx.Flags[1] != "VELOCITY" {
		t.Errorf("unexpected flags %v", tx.Flags)
	}
	if tx.Metadata["fraudReasons"] == nil {
		t.Errorf("expected metadata to be decoded, got %v", tx.Metadata)
	}

	_, found, err = g.FindByRequestID(context.Background(), "REQ-2")
	if err != nil || found {
		t.Fatalf("expected not found without error, got found=%v err=%v", found, err)
	}
}

func TestGraph_CountTransactions(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	since := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	mem.PushReadResult(graph.Result{Records: []graph.Record{{"total": int64(7)}}})

	n, err := g.CountTransactions(context.Background(), domain.TransactionFilter{UserID: "USR-1", Since: since})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}

	call := mem.ReadCalls()[0]
	if call.Params["sinceMs"] != since.UnixMilli() {
		t.Errorf("unexpected sinceMs %v", call.Params["sinceMs"])
	}
	if call.Params["merchant"] != "" {
		t.Errorf("expected empty merchant filter, got %v", call.Params["merchant"])
	}
}

func TestGraph_Summary(t *testing.T) {
	mem := graph.NewMemoryClient()
	g := NewGraph(mem)

	mem.PushReadResult(graph.Result{Records: []graph.Record{{
		"total":       int64(10),
		"approved":    int64(4),
		"declined":    int64(5),
		"errors":      int64(1),
		"volumeCents": int64(10000),
		"lastMinute":  int64(3),
	}}})

	s, err := g.Summary(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.TotalTransactions != 10 || s.ErrorTransactions != 1 || s.LastMinute != 3 {
		t.Errorf("unexpected summary %+v", s)
	}
	if !s.AvgApprovedAmount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected avg 25, got %s", s.AvgApprovedAmount)
	}
}

func TestGraph_PingPropagatesConnectivityError(t *testing.T) {
	mem := graph.NewMemoryClient().WithConnectivityError(errors.New("down"))
	g := NewGraph(mem)

	if err := g.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}
