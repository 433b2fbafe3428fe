// Package models provides the order and position domain types shared by the
// trading engine components.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	// Buy orders increase long exposure or cover shorts.
	Buy OrderSide = "buy"
	// Sell orders reduce long exposure or open shorts.
	Sell OrderSide = "sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	// Market orders fill at the touch (ask1/bid1) or the last price.
	Market OrderType = "market"
	// Limit orders fill only at the limit price or better.
	Limit OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderOpen means the order is on the book waiting for a match pulse.
	OrderOpen OrderStatus = "open"
	// OrderFilled is terminal: the order traded in full.
	OrderFilled OrderStatus = "filled"
	// OrderCancelled is terminal: the user withdrew the order.
	OrderCancelled OrderStatus = "cancelled"
	// OrderExpired is terminal: the order survived to end of day unfilled.
	OrderExpired OrderStatus = "expired"
	// OrderRejected is terminal: a risk check failed.
	OrderRejected OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s != OrderOpen
}

// Order is a single instruction to trade. Amount is always positive; the
// signed quantity passed at submission determines Side.
type Order struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	SymbolName   string      `json:"symbol_name,omitempty"`
	Amount       int64       `json:"amount"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"type"`
	LimitPrice   float64     `json:"limit_price,omitempty"`
	Status       OrderStatus `json:"status"`
	RejectReason string      `json:"reject_reason,omitempty"`

	CreatedTime time.Time `json:"created_time"`
	// CreatedBarTime is the logical bar timestamp that produced the order.
	// In backtest it equals CreatedTime; in simulation CreatedTime is wall
	// clock while CreatedBarTime is the bar being handled.
	CreatedBarTime time.Time `json:"created_bar_time"`
	FilledTime     time.Time `json:"filled_time,omitempty"`
	FilledPrice    float64   `json:"filled_price,omitempty"`
	Commission     float64   `json:"commission,omitempty"`

	// Resting marks a limit order that survived its submission bar. Resting
	// orders match against the bar price at their own limit, never the touch.
	Resting bool `json:"resting,omitempty"`
}

// NewOrder builds an OPEN order from a signed amount. The caller has already
// normalized the amount to the lot size.
func NewOrder(symbol string, signedAmount int64, typ OrderType, limitPrice float64, createdAt, barTime time.Time) *Order {
	side := Buy
	amount := signedAmount
	if signedAmount < 0 {
		side = Sell
		amount = -signedAmount
	}
	return &Order{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Amount:         amount,
		Side:           side,
		Type:           typ,
		LimitPrice:     limitPrice,
		Status:         OrderOpen,
		CreatedTime:    createdAt,
		CreatedBarTime: barTime,
	}
}

// Fill marks the order filled. It is an error to fill a non-open order or to
// fill the same order twice.
func (o *Order) Fill(price, commission float64, at time.Time) error {
	if o.Status != OrderOpen {
		return fmt.Errorf("order %s: cannot fill from status %s", o.ID, o.Status)
	}
	o.Status = OrderFilled
	o.FilledPrice = price
	o.Commission = commission
	o.FilledTime = at
	return nil
}

// Reject marks the order rejected with a human-readable reason.
func (o *Order) Reject(reason string) {
	if o.Status != OrderOpen {
		return
	}
	o.Status = OrderRejected
	o.RejectReason = reason
}

// Cancel withdraws an open order. Returns false when the order already
// reached a terminal state.
func (o *Order) Cancel() bool {
	if o.Status != OrderOpen {
		return false
	}
	o.Status = OrderCancelled
	return true
}

// Expire marks a still-open order expired at end of day.
func (o *Order) Expire() {
	if o.Status == OrderOpen {
		o.Status = OrderExpired
	}
}

// MarkResting downgrades an order to a resting limit order so later match
// pulses evaluate it against the bar price instead of the touch.
func (o *Order) MarkResting() {
	o.Resting = true
}

// SignedAmount returns the amount with the side's sign applied.
func (o *Order) SignedAmount() int64 {
	if o.Side == Sell {
		return -o.Amount
	}
	return o.Amount
}
