package risk

import (
	"fmt"
	"math"

	"trading-gateway/src/models"
)

// Default risk policy limits.
const (
	MaxOrderNotional = 100000.0
	MaxPositionQty   = 1000.0

	// Market orders reserve a safety buffer above the reference price.
	marketNotionalBuffer = 1.1
)

// -----------------------------------------------------------------------------
// Validator is a pure rule check over account state and a candidate order.
// Checks run in a fixed order and the first violation wins.
// -----------------------------------------------------------------------------

type Validator struct {
	maxNotional    float64
	maxPositionQty float64
	allowShort     bool
}

// -----------------------------------------------------------------------------

func NewValidator() *Validator {
	return &Validator{
		maxNotional:    MaxOrderNotional,
		maxPositionQty: MaxPositionQty,
		allowShort:     true,
	}
}

// -----------------------------------------------------------------------------

// Validate returns (true, "") when the order passes, or (false, reason).
func (v *Validator) Validate(account models.MAccount, positions []models.MPosition, order models.MOrder) (bool, string) {
	notional := orderNotional(order)

	if notional > v.maxNotional {
		return false, fmt.Sprintf("Order notional limit exceeded. Max notional: $%.2f", v.maxNotional)
	}

	if order.Side == models.SideBuy && account.Balance < notional {
		return false, fmt.Sprintf("Insufficient balance. Required: $%.2f, Available: $%.2f", notional, account.Balance)
	}

	if order.Side == models.SideSell && !v.allowShort {
		if currentPosition(order.Symbol, positions) < order.Qty {
			return false, "Short selling not permitted on this account"
		}
	}

	newPosition := currentPosition(order.Symbol, positions)
	if order.Side == models.SideBuy {
		newPosition += order.Qty
	} else {
		newPosition -= order.Qty
	}
	if math.Abs(newPosition) > v.maxPositionQty {
		return false, fmt.Sprintf("Position limit exceeded. Max position: %.0f", v.maxPositionQty)
	}

	return true, ""
}

// -----------------------------------------------------------------------------

// orderNotional estimates the cash value of the order. Market orders carry a
// 10% buffer because the reference price may move before execution.
func orderNotional(order models.MOrder) float64 {
	if order.Type == models.OrderTypeMarket {
		return order.Qty * order.Price * marketNotionalBuffer
	}
	return order.Qty * order.Price
}

// -----------------------------------------------------------------------------

func currentPosition(symbol string, positions []models.MPosition) float64 {
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Qty
		}
	}
	return 0
}
