// Package pricing converts between the partial quantity and price
// representations a stock entry can be submitted with: packs, units per pack,
// total units, pack prices, unit prices and the total buy price.
//
// Derive is pure. Ambiguity between a pack price and a unit price that
// disagree is resolved by the explicit LastChanged field.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

type Field string

const (
	FieldNone             Field = ""
	FieldPacks            Field = "packs"
	FieldUnitsPerPack     Field = "units_per_pack"
	FieldTotalUnits       Field = "total_units"
	FieldBuyPricePerPack  Field = "buy_price_per_pack"
	FieldSalePricePerPack Field = "sale_price_per_pack"
	FieldUnitBuyPrice     Field = "unit_buy_price"
	FieldUnitSalePrice    Field = "unit_sale_price"
	FieldTotalBuyPrice    Field = "total_buy_price"
)

var knownFields = map[Field]struct{}{
	FieldPacks:            {},
	FieldUnitsPerPack:     {},
	FieldTotalUnits:       {},
	FieldBuyPricePerPack:  {},
	FieldSalePricePerPack: {},
	FieldUnitBuyPrice:     {},
	FieldUnitSalePrice:    {},
	FieldTotalBuyPrice:    {},
}

// ParseField accepts the wire spelling of a field name. An empty string is
// FieldNone.
func ParseField(raw string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(raw)))
	if f == FieldNone {
		return FieldNone, nil
	}
	if _, ok := knownFields[f]; !ok {
		return FieldNone, fmt.Errorf("unknown field %q", raw)
	}
	return f, nil
}

// Input is a partially filled set of stock quantities and prices.
type Input struct {
	Packs            *int
	UnitsPerPack     *int
	TotalUnits       *int
	BuyPricePerPack  decimal.NullDecimal
	SalePricePerPack decimal.NullDecimal
	UnitBuyPrice     decimal.NullDecimal
	UnitSalePrice    decimal.NullDecimal
	TotalBuyPrice    decimal.NullDecimal
	LastChanged      Field
}

// Result holds every value that could be derived. Values that could not be
// known stay nil / invalid.
type Result struct {
	Packs            *int                `json:"packs"`
	UnitsPerPack     *int                `json:"units_per_pack"`
	TotalUnits       *int                `json:"total_units"`
	BuyPricePerPack  decimal.NullDecimal `json:"buy_price_per_pack"`
	SalePricePerPack decimal.NullDecimal `json:"sale_price_per_pack"`
	UnitBuyPrice     decimal.NullDecimal `json:"unit_buy_price"`
	UnitSalePrice    decimal.NullDecimal `json:"unit_sale_price"`
	TotalBuyPrice    decimal.NullDecimal `json:"total_buy_price"`
}

func Derive(in Input) Result {
	out := Result{
		Packs:            copyInt(in.Packs),
		UnitsPerPack:     copyInt(in.UnitsPerPack),
		TotalUnits:       copyInt(in.TotalUnits),
		BuyPricePerPack:  roundMoney(in.BuyPricePerPack),
		SalePricePerPack: roundMoney(in.SalePricePerPack),
		UnitBuyPrice:     roundMoney(in.UnitBuyPrice),
		UnitSalePrice:    roundMoney(in.UnitSalePrice),
		TotalBuyPrice:    roundMoney(in.TotalBuyPrice),
	}

	if out.Packs != nil && out.UnitsPerPack != nil {
		total := *out.Packs * *out.UnitsPerPack
		out.TotalUnits = &total
	}

	// The total buy price can only drive the pack price through a pack count.
	// Without one the edit is ignored and the total is recomputed below.
	totalDrives := in.LastChanged == FieldTotalBuyPrice && out.TotalBuyPrice.Valid && out.Packs != nil && *out.Packs > 0
	if totalDrives {
		out.BuyPricePerPack = valid(out.TotalBuyPrice.Decimal.Div(decimal.NewFromInt(int64(*out.Packs))))
	}

	upp := 0
	if out.UnitsPerPack != nil {
		upp = *out.UnitsPerPack
	}
	if upp > 0 {
		buyHint := in.LastChanged
		if totalDrives {
			buyHint = FieldBuyPricePerPack
		}
		out.BuyPricePerPack, out.UnitBuyPrice = reconcile(out.BuyPricePerPack, out.UnitBuyPrice, upp,
			buyHint == FieldBuyPricePerPack, buyHint == FieldUnitBuyPrice)
		out.SalePricePerPack, out.UnitSalePrice = reconcile(out.SalePricePerPack, out.UnitSalePrice, upp,
			in.LastChanged == FieldSalePricePerPack, in.LastChanged == FieldUnitSalePrice)
	}

	if !totalDrives && out.BuyPricePerPack.Valid && out.Packs != nil {
		out.TotalBuyPrice = valid(out.BuyPricePerPack.Decimal.Mul(decimal.NewFromInt(int64(*out.Packs))))
	}

	return out
}

// reconcile settles one price side (buy or sale). unitsPerPack must be > 0.
func reconcile(pack decimal.NullDecimal, unit decimal.NullDecimal, unitsPerPack int, packEdited bool, unitEdited bool) (decimal.NullDecimal, decimal.NullDecimal) {
	upp := decimal.NewFromInt(int64(unitsPerPack))
	switch {
	case unitEdited && unit.Valid:
		return valid(unit.Decimal.Mul(upp)), unit
	case packEdited && pack.Valid:
		return pack, valid(pack.Decimal.Div(upp))
	case pack.Valid:
		return pack, valid(pack.Decimal.Div(upp))
	case unit.Valid:
		return valid(unit.Decimal.Mul(upp)), unit
	default:
		return pack, unit
	}
}

// Round rounds a monetary amount to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func roundMoney(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return valid(d.Decimal)
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: Round(d), Valid: true}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}
