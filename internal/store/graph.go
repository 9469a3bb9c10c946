package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/graph"
)

// Graph persists accounts and transactions as a property graph:
// (:Account)-[:MADE]->(:Transaction)-[:PAID_TO]->(:Merchant).
type Graph struct {
	client graph.Client
	nowFn  func() time.Time
}

// NewGraph instantiates a Graph store backed by the supplied client.
func NewGraph(client graph.Client) *Graph {
	return &Graph{client: client, nowFn: time.Now}
}

// EnsureSchema creates the uniqueness constraints the store relies on.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	for _, stmt := range graphSchemaCypher {
		if _, err := g.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (g *Graph) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	res, err := g.client.ExecuteRead(ctx, getAccountCypher, map[string]any{"userId": userID})
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", userID, err)
	}
	record := res.First()
	if record == nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", userID, domain.ErrAccountNotFound)
	}
	return accountFromRecord(userID, record), nil
}

func (g *Graph) UpsertAccount(ctx context.Context, account domain.Account) error {
	if account.UserID == "" {
		return errors.New("user id is required")
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = g.nowFn().UTC()
	}
	params := map[string]any{
		"userId":       account.UserID,
		"balanceCents": domain.ToCents(account.Balance),
		"updatedAt":    formatTime(account.UpdatedAt),
	}
	if _, err := g.client.ExecuteWrite(ctx, upsertAccountCypher, params); err != nil {
		return fmt.Errorf("upsert account %s: %w", account.UserID, err)
	}
	return nil
}

// DebitAccount takes the node write lock before reading the balance, so two
// concurrent debits are serialized by the database.
func (g *Graph) DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	params := map[string]any{
		"userId":    userID,
		"amount":    domain.ToCents(amount),
		"updatedAt": formatTime(g.nowFn()),
	}
	res, err := g.client.ExecuteWrite(ctx, debitAccountCypher, params)
	if err != nil {
		return domain.Account{}, fmt.Errorf("debit account %s: %w", userID, err)
	}
	record := res.First()
	if record == nil {
		return domain.Account{}, fmt.Errorf("debit account %s: %w", userID, domain.ErrAccountNotFound)
	}
	acc := accountFromRecord(userID, record)
	if ok, _ := record["ok"].(bool); !ok {
		return domain.Account{}, &domain.ConflictError{UserID: userID, Requested: amount, Available: acc.Balance}
	}
	return acc, nil
}

func (g *Graph) CreditAccount(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	params := map[string]any{
		"userId":    userID,
		"amount":    domain.ToCents(amount),
		"updatedAt": formatTime(g.nowFn()),
	}
	res, err := g.client.ExecuteWrite(ctx, creditAccountCypher, params)
	if err != nil {
		return domain.Account{}, fmt.Errorf("credit account %s: %w", userID, err)
	}
	record := res.First()
	if record == nil {
		return domain.Account{}, fmt.Errorf("credit account %s: %w", userID, domain.ErrAccountNotFound)
	}
	return accountFromRecord(userID, record), nil
}

func (g *Graph) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	if tx.ID == "" || tx.RequestID == "" {
		return errors.New("transaction id and request id are required")
	}
	props, err := transactionProperties(tx)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	params := map[string]any{
		"requestId": tx.RequestID,
		"userId":    tx.UserID,
		"merchant":  tx.Merchant,
		"props":     props,
	}
	res, err := g.client.ExecuteWrite(ctx, appendTransactionCypher, params)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("append transaction %s: %w", tx.RequestID, domain.ErrDuplicateRequest)
		}
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	if res.First() == nil {
		return fmt.Errorf("append transaction %s: %w", tx.RequestID, domain.ErrDuplicateRequest)
	}
	return nil
}

func (g *Graph) FindByRequestID(ctx context.Context, requestID string) (domain.Transaction, bool, error) {
	res, err := g.client.ExecuteRead(ctx, findTransactionCypher, map[string]any{"requestId": requestID})
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("find transaction %s: %w", requestID, err)
	}
	record := res.First()
	if record == nil {
		return domain.Transaction{}, false, nil
	}
	return transactionFromRecord(record), true, nil
}

func (g *Graph) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	res, err := g.client.ExecuteRead(ctx, listTransactionsCypher, map[string]any{"limit": normalizeLimit(limit)})
	if err != nil {
		return nil, fmt.Errorf("list transactions query: %w", err)
	}
	txs := make([]domain.Transaction, 0, len(res.Records))
	for _, record := range res.Records {
		txs = append(txs, transactionFromRecord(record))
	}
	return txs, nil
}

func (g *Graph) CountTransactions(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	params := map[string]any{
		"userId":   filter.UserID,
		"merchant": filter.Merchant,
		"status":   string(filter.Status),
		"sinceMs":  sinceMillis(filter.Since),
	}
	res, err := g.client.ExecuteRead(ctx, countTransactionsCypher, params)
	if err != nil {
		return 0, fmt.Errorf("count transactions query: %w", err)
	}
	return toInt64(res.First()["total"]), nil
}

func (g *Graph) MerchantStats(ctx context.Context, merchant string, since time.Time) (domain.MerchantStats, error) {
	params := map[string]any{"merchant": merchant, "sinceMs": sinceMillis(since)}
	res, err := g.client.ExecuteRead(ctx, merchantStatsCypher, params)
	if err != nil {
		return domain.MerchantStats{}, fmt.Errorf("merchant stats %s: %w", merchant, err)
	}
	record := res.First()
	return domain.MerchantStats{
		Merchant: merchant,
		Total:    toInt64(record["total"]),
		Declined: toInt64(record["declined"]),
	}, nil
}

func (g *Graph) Summary(ctx context.Context, now time.Time) (domain.Summary, error) {
	params := map[string]any{"lastMinuteMs": now.Add(-time.Minute).UnixMilli()}
	res, err := g.client.ExecuteRead(ctx, summaryCypher, params)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("transaction summary: %w", err)
	}
	record := res.First()
	s := domain.Summary{
		TotalTransactions:    toInt64(record["total"]),
		ApprovedTransactions: toInt64(record["approved"]),
		DeclinedTransactions: toInt64(record["declined"]),
		ErrorTransactions:    toInt64(record["errors"]),
		TotalVolume:          domain.FromCents(toInt64(record["volumeCents"])),
		LastMinute:           toInt64(record["lastMinute"]),
	}
	if s.ApprovedTransactions > 0 {
		s.AvgApprovedAmount = s.TotalVolume.Div(decimal.NewFromInt(s.ApprovedTransactions)).Round(2)
	}
	return s, nil
}

func (g *Graph) VolumePerMinute(ctx context.Context, since time.Time) ([]domain.VolumeBucket, error) {
	res, err := g.client.ExecuteRead(ctx, volumePerMinuteCypher, map[string]any{"sinceMs": sinceMillis(since)})
	if err != nil {
		return nil, fmt.Errorf("volume per minute: %w", err)
	}
	out := make([]domain.VolumeBucket, 0, len(res.Records))
	for _, record := range res.Records {
		out = append(out, domain.VolumeBucket{
			Minute:           time.UnixMilli(toInt64(record["minuteMs"])).UTC(),
			TransactionCount: toInt64(record["count"]),
			Volume:           domain.FromCents(toInt64(record["volumeCents"])),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minute.After(out[j].Minute) })
	return out, nil
}

func (g *Graph) Ping(ctx context.Context) error {
	return g.client.VerifyConnectivity(ctx)
}

func (g *Graph) Close(ctx context.Context) error {
	return g.client.Close(ctx)
}

func transactionProperties(tx domain.Transaction) (map[string]any, error) {
	metadata := ""
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}
	flags := tx.Flags
	if flags == nil {
		flags = []string{}
	}
	return map[string]any{
		"id":                  tx.ID,
		"requestId":           tx.RequestID,
		"userId":              tx.UserID,
		"amountCents":         domain.ToCents(tx.Amount),
		"currency":            tx.Currency,
		"merchant":            tx.Merchant,
		"status":              string(tx.Status),
		"declineReason":       string(tx.DeclineReason),
		"riskScore":           tx.RiskScore,
		"flags":               flags,
		"gateway":             tx.Gateway,
		"externalPaymentId":   tx.ExternalPaymentID,
		"processingLatencyMs": tx.ProcessingLatencyMs,
		"createdAt":           formatTime(tx.CreatedAt),
		"createdAtMs":         tx.CreatedAt.UnixMilli(),
		"metadata":            metadata,
	}, nil
}

func transactionFromRecord(record graph.Record) domain.Transaction {
	tx := domain.Transaction{
		ID:                  toString(record["id"]),
		RequestID:           toString(record["requestId"]),
		UserID:              toString(record["userId"]),
		Amount:              domain.FromCents(toInt64(record["amountCents"])),
		Currency:            toString(record["currency"]),
		Merchant:            toString(record["merchant"]),
		Status:              domain.Status(toString(record["status"])),
		DeclineReason:       domain.DeclineReason(toString(record["declineReason"])),
		RiskScore:           toFloat64(record["riskScore"]),
		Flags:               toStringSlice(record["flags"]),
		Gateway:             toString(record["gateway"]),
		ExternalPaymentID:   toString(record["externalPaymentId"]),
		ProcessingLatencyMs: toInt64(record["processingLatencyMs"]),
	}
	if created := toTimePtr(record["createdAt"]); created != nil {
		tx.CreatedAt = *created
	}
	if raw := toString(record["metadata"]); raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			tx.Metadata = meta
		}
	}
	return tx
}

func accountFromRecord(userID string, record graph.Record) domain.Account {
	acc := domain.Account{
		UserID:  userID,
		Balance: domain.FromCents(toInt64(record["balanceCents"])),
	}
	if updated := toTimePtr(record["updatedAt"]); updated != nil {
		acc.UpdatedAt = *updated
	}
	return acc
}

func isConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "ConstraintValidationFailed")
}

func sinceMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toStringSlice(val any) []string {
	switch v := val.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return &parsed
		}
	}
	return nil
}

var graphSchemaCypher = []string{
	`CREATE CONSTRAINT account_user_id IF NOT EXISTS FOR (a:Account) REQUIRE a.userId IS UNIQUE`,
	`CREATE CONSTRAINT transaction_request_id IF NOT EXISTS FOR (t:Transaction) REQUIRE t.requestId IS UNIQUE`,
	`CREATE INDEX transaction_created_at IF NOT EXISTS FOR (t:Transaction) ON (t.createdAtMs)`,
}

const getAccountCypher = `
MATCH (a:Account {userId: $userId})
RETURN a.balanceCents AS balanceCents, a.updatedAt AS updatedAt
`

const upsertAccountCypher = `
MERGE (a:Account {userId: $userId})
SET a.balanceCents = $balanceCents,
	a.updatedAt = $updatedAt
`

const debitAccountCypher = `
MATCH (a:Account {userId: $userId})
SET a._lock = true
WITH a, a.balanceCents >= $amount AS ok
SET a.balanceCents = CASE WHEN ok THEN a.balanceCents - $amount ELSE a.balanceCents END,
	a.updatedAt = CASE WHEN ok THEN $updatedAt ELSE a.updatedAt END
REMOVE a._lock
RETURN ok, a.balanceCents AS balanceCents, a.updatedAt AS updatedAt
`

const creditAccountCypher = `
MATCH (a:Account {userId: $userId})
SET a.balanceCents = a.balanceCents + $amount,
	a.updatedAt = $updatedAt
RETURN a.balanceCents AS balanceCents, a.updatedAt AS updatedAt
`

const appendTransactionCypher = `
OPTIONAL MATCH (existing:Transaction {requestId: $requestId})
WITH existing
WHERE existing IS NULL
CREATE (t:Transaction)
SET t = $props
MERGE (m:Merchant {name: $merchant})
MERGE (t)-[:PAID_TO]->(m)
WITH t
OPTIONAL MATCH (a:Account {userId: $userId})
FOREACH (_ IN CASE WHEN a IS NULL THEN [] ELSE [1] END |
	MERGE (a)-[:MADE]->(t)
)
RETURN t.id AS transactionId
`

const transactionReturnClause = `
RETURN t.id AS id,
	t.requestId AS requestId,
	t.userId AS userId,
	t.amountCents AS amountCents,
	t.currency AS currency,
	t.merchant AS merchant,
	t.status AS status,
	t.declineReason AS declineReason,
	t.riskScore AS riskScore,
	t.flags AS flags,
	t.gateway AS gateway,
	t.externalPaymentId AS externalPaymentId,
	t.processingLatencyMs AS processingLatencyMs,
	t.createdAt AS createdAt,
	t.metadata AS metadata
`

const findTransactionCypher = `
MATCH (t:Transaction {requestId: $requestId})
` + transactionReturnClause

const listTransactionsCypher = `
MATCH (t:Transaction)
WITH t
ORDER BY t.createdAtMs DESC
LIMIT $limit
` + transactionReturnClause

const countTransactionsCypher = `
MATCH (t:Transaction)
WHERE ($userId = '' OR t.userId = $userId)
	AND ($merchant = '' OR t.merchant = $merchant)
	AND ($status = '' OR t.status = $status)
	AND ($sinceMs = 0 OR t.createdAtMs >= $sinceMs)
RETURN count(t) AS total
`

const merchantStatsCypher = `
MATCH (t:Transaction)-[:PAID_TO]->(:Merchant {name: $merchant})
WHERE $sinceMs = 0 OR t.createdAtMs >= $sinceMs
RETURN count(t) AS total,
	sum(CASE WHEN t.status = 'DECLINED' THEN 1 ELSE 0 END) AS declined
`

const summaryCypher = `
MATCH (t:Transaction)
RETURN count(t) AS total,
	sum(CASE WHEN t.status = 'APPROVED' THEN 1 ELSE 0 END) AS approved,
	sum(CASE WHEN t.status = 'DECLINED' THEN 1 ELSE 0 END) AS declined,
	sum(CASE WHEN t.status = 'ERROR' THEN 1 ELSE 0 END) AS errors,
	sum(CASE WHEN t.status = 'APPROVED' THEN t.amountCents ELSE 0 END) AS volumeCents,
	sum(CASE WHEN t.createdAtMs > $lastMinuteMs THEN 1 ELSE 0 END) AS lastMinute
`

const volumePerMinuteCypher = `
MATCH (t:Transaction)
WHERE t.createdAtMs >= $sinceMs
WITH t.createdAtMs - (t.createdAtMs % 60000) AS minuteMs, t
RETURN minuteMs, count(t) AS count, sum(t.amountCents) AS volumeCents
ORDER BY minuteMs DESC
LIMIT 60
`
