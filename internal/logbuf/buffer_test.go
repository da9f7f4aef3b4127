package logbuf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuffer_EvictsOldest(t *testing.T) {
	b := New(3)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		b.Add(Entry{Message: m})
	}

	assert.Equal(t, 3, b.Len())

	var got []string
	for _, e := range b.Recent(0) {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"c", "d", "e"}, got)

	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Message)
	assert.Equal(t, "e", recent[1].Message)
}

func TestBuffer_NotFull(t *testing.T) {
	b := New(10)
	b.Add(Entry{Message: "only"})

	assert.Equal(t, 1, b.Len())
	assert.Len(t, b.Recent(5), 1)
}

func TestCore_CapturesFieldsAndLevel(t *testing.T) {
	b := New(10)
	logger := zap.New(b.Core(zapcore.InfoLevel)).With(zap.String("component", "ingest"))

	logger.Debug("hidden")
	logger.Info("loyalty event published", zap.String("transaction_id", "NIP-1"), zap.Int64("points", 2))
	logger.Error("transaction log query failed", zap.Error(errors.New("timeout")))

	entries := b.Recent(0)
	require.Len(t, entries, 2)

	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "loyalty event published", entries[0].Message)
	assert.Equal(t, "ingest", entries[0].Fields["component"])
	assert.Equal(t, "NIP-1", entries[0].Fields["transaction_id"])
	assert.Equal(t, int64(2), entries[0].Fields["points"])

	assert.Equal(t, "error", entries[1].Level)
	assert.Equal(t, "timeout", entries[1].Fields["error"])
}
