package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/paystream/internal/config"
)

func TestSlogSink_RecordError(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(NewWithWriter(config.LoggingConfig{Format: "json"}, &buf))

	sink.RecordError(context.Background(), errors.New("boom"), "transactionId", "tx-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "tx-1", entry["transactionId"])
}

func TestSlogSink_RecordSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(NewWithWriter(config.LoggingConfig{Format: "json"}, &buf))

	sink.RecordSecurityEvent(context.Background(), "transaction declined due to fraud", "riskScore", 0.9)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, true, entry["security"])
	assert.Equal(t, 0.9, entry["riskScore"])
}

func TestSlogSink_IgnoresNilError(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(NewWithWriter(config.LoggingConfig{}, &buf))
	sink.RecordError(context.Background(), nil)
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel(" Warning ").String())
	assert.Equal(t, "INFO", parseLevel("nonsense").String())
}
