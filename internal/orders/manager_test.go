package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdc63/pqtrader/internal/models"
)

var testTime = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager(100, nil)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		typ     models.OrderType
		limit   float64
		wantErr bool
	}{
		{"market buy one lot", 100, models.Market, 0, false},
		{"market sell", -300, models.Market, 0, false},
		{"limit with price", 200, models.Limit, 10.5, false},
		{"zero amount", 0, models.Market, 0, true},
		{"odd lot", 150, models.Market, 0, true},
		{"odd lot sell", -50, models.Market, 0, true},
		{"limit without price", 100, models.Limit, 0, true},
		{"unknown type", 100, models.OrderType("stop"), 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			order, err := m.Submit("600000.SH", tt.amount, tt.typ, tt.limit, testTime, testTime)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, order)
				assert.Empty(t, m.Today())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.OrderOpen, order.Status)
			assert.Len(t, m.OpenOrders(), 1)
		})
	}
}

func TestCancel(t *testing.T) {
	m := newTestManager()
	order, err := m.Submit("600000.SH", 100, models.Market, 0, testTime, testTime)
	require.NoError(t, err)

	assert.False(t, m.Cancel("no-such-id"))
	assert.True(t, m.Cancel(order.ID))
	assert.Equal(t, models.OrderCancelled, order.Status)
	assert.False(t, m.Cancel(order.ID), "terminal orders cannot be cancelled again")
	assert.Empty(t, m.OpenOrders())
}

func TestEndOfDayExpiresAndArchives(t *testing.T) {
	m := newTestManager()
	open, err := m.Submit("600000.SH", 100, models.Limit, 9.0, testTime, testTime)
	require.NoError(t, err)
	filled, err := m.Submit("600519.SH", 100, models.Market, 0, testTime, testTime)
	require.NoError(t, err)
	require.NoError(t, filled.Fill(1700, 5, testTime))

	m.EndOfDay()

	assert.Equal(t, models.OrderExpired, open.Status)
	assert.Empty(t, m.Today())
	assert.Len(t, m.Archive(), 2)
	assert.Nil(t, m.Get(open.ID), "intraday index resets at end of day")

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, filled.ID, history[0].ID)

	assert.Len(t, m.AllKnown(), 2)
}

func TestSubmissionOrderIsPreserved(t *testing.T) {
	m := newTestManager()
	var ids []string
	for i := 0; i < 5; i++ {
		o, err := m.Submit("600000.SH", 100, models.Market, 0, testTime, testTime)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	open := m.OpenOrders()
	require.Len(t, open, 5)
	for i, o := range open {
		assert.Equal(t, ids[i], o.ID)
	}
}

func TestRestore(t *testing.T) {
	m := newTestManager()
	a, err := m.Submit("600000.SH", 100, models.Market, 0, testTime, testTime)
	require.NoError(t, err)
	require.NoError(t, a.Fill(10, 5, testTime))
	m.EndOfDay()
	b, err := m.Submit("600519.SH", 100, models.Limit, 1700, testTime, testTime)
	require.NoError(t, err)

	restored := newTestManager()
	restored.Restore(m.Archive(), m.Today())

	assert.Len(t, restored.Archive(), 1)
	require.Len(t, restored.OpenOrders(), 1)
	assert.Equal(t, b.ID, restored.OpenOrders()[0].ID)
	assert.NotNil(t, restored.Get(b.ID))
}

func TestExpireOpenKeepsDay(t *testing.T) {
	m := newTestManager()
	o, err := m.Submit("600000.SH", 100, models.Limit, 9.0, testTime, testTime)
	require.NoError(t, err)

	m.ExpireOpen()

	assert.Equal(t, models.OrderExpired, o.Status)
	assert.Len(t, m.Today(), 1, "expired orders stay in the intraday book until settle")
}
