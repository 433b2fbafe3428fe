// Package orders provides the order book: submission, cancellation, the
// intraday open book and the append-only archive of past orders.
package orders

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/models"
)

// Manager is the order book. Today's orders live in an insertion-ordered
// slice (iteration order is part of the backtest determinism contract);
// terminal orders migrate to the archive at the daily reset and survive
// pause/resume.
type Manager struct {
	lotSize int64
	logger  *logrus.Logger

	today   []*models.Order
	byID    map[string]*models.Order
	archive []*models.Order
}

// NewManager builds an empty book for the given lot size.
func NewManager(lotSize int64, logger *logrus.Logger) *Manager {
	if lotSize <= 0 {
		lotSize = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		lotSize: lotSize,
		logger:  logger,
		byID:    make(map[string]*models.Order),
	}
}

// Submit validates and books a new OPEN order. The sign of amount selects
// the side. Validation failures reject the order without storing it and
// return the reason as an error.
func (m *Manager) Submit(symbol string, amount int64, typ models.OrderType, limitPrice float64, createdAt, barTime time.Time) (*models.Order, error) {
	if amount == 0 {
		return nil, fmt.Errorf("submit %s: amount must be non-zero", symbol)
	}
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if abs%m.lotSize != 0 {
		return nil, fmt.Errorf("submit %s: amount %d is not a multiple of lot size %d", symbol, abs, m.lotSize)
	}
	switch typ {
	case models.Market:
		limitPrice = 0
	case models.Limit:
		if limitPrice <= 0 {
			return nil, fmt.Errorf("submit %s: limit orders require a positive limit price", symbol)
		}
	default:
		return nil, fmt.Errorf("submit %s: unknown order type %q", symbol, typ)
	}

	order := models.NewOrder(symbol, amount, typ, limitPrice, createdAt, barTime)
	m.today = append(m.today, order)
	m.byID[order.ID] = order
	m.logger.WithFields(logrus.Fields{
		"order":  order.ID,
		"symbol": symbol,
		"side":   order.Side,
		"type":   typ,
		"amount": order.Amount,
	}).Info("order submitted")
	return order, nil
}

// Cancel withdraws an OPEN order. Unknown ids and terminal orders return
// false.
func (m *Manager) Cancel(id string) bool {
	order := m.byID[id]
	if order == nil {
		m.logger.WithField("order", id).Warn("cancel: unknown order id")
		return false
	}
	if !order.Cancel() {
		m.logger.WithFields(logrus.Fields{"order": id, "status": order.Status}).Warn("cancel: order not open")
		return false
	}
	m.logger.WithField("order", id).Info("order cancelled")
	return true
}

// Get returns any known order by id.
func (m *Manager) Get(id string) *models.Order {
	return m.byID[id]
}

// OpenOrders returns today's OPEN orders in submission order.
func (m *Manager) OpenOrders() []*models.Order {
	var out []*models.Order
	for _, o := range m.today {
		if o.Status == models.OrderOpen {
			out = append(out, o)
		}
	}
	return out
}

// FilledToday returns today's FILLED orders in submission order.
func (m *Manager) FilledToday() []*models.Order {
	var out []*models.Order
	for _, o := range m.today {
		if o.Status == models.OrderFilled {
			out = append(out, o)
		}
	}
	return out
}

// History returns the archived FILLED orders, the "historical filled
// orders" log forks copy from.
func (m *Manager) History() []*models.Order {
	var out []*models.Order
	for _, o := range m.archive {
		if o.Status == models.OrderFilled {
			out = append(out, o)
		}
	}
	return out
}

// AllKnown returns every order ever submitted: the archive followed by
// today's book.
func (m *Manager) AllKnown() []*models.Order {
	out := make([]*models.Order, 0, len(m.archive)+len(m.today))
	out = append(out, m.archive...)
	out = append(out, m.today...)
	return out
}

// EndOfDay expires every still-open order, moves the day's orders to the
// archive and clears the intraday book. Called by the matching engine's
// settle.
func (m *Manager) EndOfDay() {
	for _, o := range m.today {
		if o.Status == models.OrderOpen {
			o.Expire()
			m.logger.WithField("order", o.ID).Debug("open order expired at end of day")
		}
		m.archive = append(m.archive, o)
	}
	m.today = nil
	m.byID = make(map[string]*models.Order)
}

// ExpireOpen expires every open order without archiving the day; used by
// the simulation resync, where stale orders cannot have survived reality.
func (m *Manager) ExpireOpen() {
	for _, o := range m.today {
		o.Expire()
	}
}

// Restore replaces the book's state from a snapshot.
func (m *Manager) Restore(archive, today []*models.Order) {
	m.archive = archive
	m.today = today
	m.byID = make(map[string]*models.Order, len(today))
	for _, o := range today {
		m.byID[o.ID] = o
	}
}

// Today returns the intraday book in submission order.
func (m *Manager) Today() []*models.Order {
	return m.today
}

// Archive returns the append-only archive of past days' orders.
func (m *Manager) Archive() []*models.Order {
	return m.archive
}
