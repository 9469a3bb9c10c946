package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary is the dashboard aggregate over persisted transactions.
type Summary struct {
	TotalTransactions    int64           `json:"totalTransactions"`
	ApprovedTransactions int64           `json:"approvedTransactions"`
	DeclinedTransactions int64           `json:"declinedTransactions"`
	ErrorTransactions    int64           `json:"errorTransactions"`
	AvgApprovedAmount    decimal.Decimal `json:"avgApprovedAmount"`
	TotalVolume          decimal.Decimal `json:"totalVolume"`
	LastMinute           int64           `json:"transactionsLastMinute"`
}

// VolumeBucket is the per-minute transaction count and amount.
type VolumeBucket struct {
	Minute           time.Time       `json:"minute"`
	TransactionCount int64           `json:"transactionCount"`
	Volume           decimal.Decimal `json:"volume"`
}

// ProcessorStats reports pipeline throughput.
type ProcessorStats struct {
	ProcessedCount      int64         `json:"processedCount"`
	Uptime              time.Duration `json:"uptime"`
	ThroughputPerSecond float64       `json:"throughputPerSecond"`
	IsRunning           bool          `json:"isRunning"`
}
