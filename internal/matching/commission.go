// Package matching simulates the exchange: price selection, slippage,
// commission, risk checks, fills and the daily settlement.
package matching

import (
	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/models"
)

// CommissionCalculator prices the fee of a fill:
// max(min_commission, notional*side_rate) + notional*side_tax.
type CommissionCalculator struct {
	cfg config.CommissionConfig
}

// NewCommissionCalculator builds a calculator from config.
func NewCommissionCalculator(cfg config.CommissionConfig) *CommissionCalculator {
	return &CommissionCalculator{cfg: cfg}
}

// Calculate returns commission plus tax for a fill at price.
func (c *CommissionCalculator) Calculate(order *models.Order, price float64) float64 {
	notional := price * float64(order.Amount)
	var rate, tax float64
	if order.Side == models.Buy {
		rate, tax = c.cfg.BuyCommission, c.cfg.BuyTax
	} else {
		rate, tax = c.cfg.SellCommission, c.cfg.SellTax
	}
	commission := notional * rate
	if commission < c.cfg.MinCommission {
		commission = c.cfg.MinCommission
	}
	return commission + notional*tax
}

// SlippageModel applies a fixed fractional rate against the trader: buys
// fill higher, sells fill lower.
type SlippageModel struct {
	rate float64
}

// NewSlippageModel builds the fixed-rate model.
func NewSlippageModel(cfg config.SlippageConfig) *SlippageModel {
	return &SlippageModel{rate: cfg.Rate}
}

// Apply returns the slipped fill price.
func (s *SlippageModel) Apply(side models.OrderSide, price float64) float64 {
	if side == models.Buy {
		return price * (1 + s.rate)
	}
	return price * (1 - s.rate)
}
