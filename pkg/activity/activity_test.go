package activity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tradeEvent(orderID uint64) Event {
	return Event{
		Type:      TypeTradeExecuted,
		Symbol:    "HBAR_USDT",
		OrderID:   orderID,
		Price:     decimal.RequireFromString("10"),
		Quantity:  decimal.RequireFromString("3"),
		Timestamp: 1700000000 + int64(orderID),
	}
}

func TestRingRetention(t *testing.T) {
	l := NewLog(nil, 3, zap.NewNop())
	for i := uint64(1); i <= 5; i++ {
		l.Record(tradeEvent(i))
	}

	recent := l.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(3), recent[0].OrderID)
	assert.Equal(t, uint64(5), recent[2].OrderID)
}

func TestRecentLimit(t *testing.T) {
	l := NewLog(nil, 10, zap.NewNop())
	for i := uint64(1); i <= 4; i++ {
		l.Record(tradeEvent(i))
	}

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(3), recent[0].OrderID)
	assert.Equal(t, uint64(4), recent[1].OrderID)
}

func TestRecordStampsTimestamp(t *testing.T) {
	l := NewLog(nil, 10, zap.NewNop())
	l.Record(Event{Type: TypeOrderPlaced, Symbol: "HBAR_USDT"})

	recent := l.Recent(1)
	require.Len(t, recent, 1)
	assert.NotZero(t, recent[0].Timestamp)
}

func TestStoreAppendAndRecent(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.Append(tradeEvent(i)))
	}

	events, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].OrderID)
	assert.Equal(t, uint64(3), events[1].OrderID)
	assert.Equal(t, TypeTradeExecuted, events[0].Type)
}

func TestStoreSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append(tradeEvent(1)))
	require.NoError(t, s.Append(tradeEvent(2)))
	require.NoError(t, s.Close())

	s, err = OpenStore(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(tradeEvent(3)))

	events, err := s.Recent(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].OrderID)
	assert.Equal(t, uint64(3), events[2].OrderID)
}
