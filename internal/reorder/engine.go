// Package reorder turns inventory rows that are out of stock or low on stock
// into purchase suggestions.
package reorder

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"medstock/backend/internal/domain"
)

const defaultTargetMultiplier = 2

type Engine struct {
	targetMultiplier int
}

// NewEngine returns an engine that restocks each medicine up to
// targetMultiplier × its minimum stock. Values below 1 use the default of 2.
func NewEngine(targetMultiplier int) *Engine {
	if targetMultiplier < 1 {
		targetMultiplier = defaultTargetMultiplier
	}
	return &Engine{targetMultiplier: targetMultiplier}
}

func (e *Engine) Suggest(rows []domain.InventoryRow) []domain.ReorderSuggestion {
	suggestions := make([]domain.ReorderSuggestion, 0, 16)
	for _, row := range rows {
		if !row.OutOfStock && !row.LowStock {
			continue
		}

		unitsPerPack := row.UnitsPerPack
		if unitsPerPack < 1 {
			unitsPerPack = 1
		}
		current := row.TotalUnits
		if current < 0 {
			current = 0
		}

		target := row.MinStock * e.targetMultiplier
		if target < unitsPerPack {
			target = unitsPerPack
		}
		shortfall := target - current
		if shortfall < 1 {
			continue
		}
		packs := ceilDiv(shortfall, unitsPerPack)

		suggestions = append(suggestions, domain.ReorderSuggestion{
			MedicineID:        row.MedicineID,
			MedicineName:      row.MedicineName,
			Badge:             row.Badge,
			CurrentUnits:      row.TotalUnits,
			MinStock:          row.MinStock,
			TargetUnits:       target,
			UnitsPerPack:      unitsPerPack,
			RecommendedPacks:  packs,
			BuyPricePerPack:   row.BuyPricePerPack,
			EstimatedPurchase: row.BuyPricePerPack.Mul(decimal.NewFromInt(int64(packs))).Round(2),
			LastInvoiceNumber: row.InvoiceNumber,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		left, right := urgency(suggestions[i]), urgency(suggestions[j])
		if left != right {
			return left < right
		}
		if suggestions[i].CurrentUnits != suggestions[j].CurrentUnits {
			return suggestions[i].CurrentUnits < suggestions[j].CurrentUnits
		}
		return strings.ToLower(suggestions[i].MedicineName) < strings.ToLower(suggestions[j].MedicineName)
	})
	return suggestions
}

// TotalCost sums the estimated purchase of every suggestion.
func TotalCost(suggestions []domain.ReorderSuggestion) decimal.Decimal {
	total := decimal.Zero
	for _, s := range suggestions {
		total = total.Add(s.EstimatedPurchase)
	}
	return total
}

func urgency(s domain.ReorderSuggestion) int {
	if s.Badge == domain.BadgeOutOfStock || s.CurrentUnits <= 0 {
		return 0
	}
	return 1
}

func ceilDiv(a int, b int) int {
	return (a + b - 1) / b
}
