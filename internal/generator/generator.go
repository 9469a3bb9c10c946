package generator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/store"
)

// Dataset is a batch of generated requests.
type Dataset struct {
	Requests []domain.TransactionRequest `json:"requests"`
}

// Generator produces synthetic transaction requests. It is safe for concurrent use.
type Generator struct {
	cfg   Config
	mu    sync.Mutex
	rand  *rand.Rand
	nowFn func() time.Time
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = def.NumUsers
	}
	if len(cfg.Merchants) == 0 {
		cfg.Merchants = def.Merchants
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:   cfg,
		rand:  rand.New(rand.NewSource(cfg.Seed)),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (g *Generator) WithClock(nowFn func() time.Time) *Generator {
	if nowFn != nil {
		g.nowFn = nowFn
	}
	return g
}

// Next returns one fresh request.
func (g *Generator) Next() domain.TransactionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.Must(uuid.NewRandomFromReader(g.rand))
	return domain.TransactionRequest{
		ID:          "txn_" + id.String(),
		UserID:      store.SeedUserID(1 + g.rand.Intn(g.cfg.NumUsers)),
		Amount:      g.randomAmount(),
		Merchant:    g.cfg.Merchants[g.rand.Intn(len(g.cfg.Merchants))],
		Currency:    g.cfg.Currency,
		RequestedAt: g.nowFn(),
	}
}

// Generate synthesises n requests. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context, n int) (Dataset, error) {
	requests := make([]domain.TransactionRequest, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		requests = append(requests, g.Next())
	}
	return Dataset{Requests: requests}, nil
}

// randomAmount draws 70% small (1-100), 25% medium (100-500) and 5% large
// (500-1000) amounts, rounded to cents.
func (g *Generator) randomAmount() decimal.Decimal {
	var lo, span float64
	switch p := g.rand.Float64(); {
	case p < 0.70:
		lo, span = 1, 99
	case p < 0.95:
		lo, span = 100, 400
	default:
		lo, span = 500, 500
	}
	return decimal.NewFromFloat(lo + g.rand.Float64()*span).Round(2)
}
