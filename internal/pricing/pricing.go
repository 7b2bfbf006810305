// Package pricing converts between pack and unit quantities and derives unit
// prices from pack prices. Stock is only ever held in whole packs.
package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"pharmapos/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// UnitPriceCents returns packPriceCents / unitsPerPack rounded to the cent,
// half away from zero. A unitsPerPack below 1 yields 0: such a medicine
// cannot be sold per unit.
func UnitPriceCents(packPriceCents int64, unitsPerPack int) int64 {
	if unitsPerPack < 1 {
		return 0
	}
	price := decimal.New(packPriceCents, -2).Div(decimal.NewFromInt(int64(unitsPerPack))).Round(2)
	return price.Mul(hundred).IntPart()
}

// AvailableUnits is the total number of units addressable from whole packs.
func AvailableUnits(stockPacks int, unitsPerPack int) int {
	if unitsPerPack < 1 || stockPacks < 0 {
		return 0
	}
	return stockPacks * unitsPerPack
}

// Available returns the stock of m expressed in unit.
func Available(m domain.Medicine, unit domain.SaleUnit) int {
	if unit == domain.UnitUnit {
		return AvailableUnits(m.StockPacks, m.UnitsPerPack)
	}
	return max(m.StockPacks, 0)
}

// PriceFor returns the per-quantity price of m in unit.
func PriceFor(m domain.Medicine, unit domain.SaleUnit) int64 {
	if unit == domain.UnitUnit {
		return m.UnitPriceCents
	}
	return m.PackPriceCents
}

// ApplyUnitDelta adds delta units to stockPacks whole packs and converts the
// result back to whole packs. Any remainder smaller than one pack is dropped.
func ApplyUnitDelta(stockPacks int, unitsPerPack int, delta int) int {
	if unitsPerPack < 1 {
		return max(stockPacks, 0)
	}
	total := stockPacks*unitsPerPack + delta
	if total <= 0 {
		return 0
	}
	return total / unitsPerPack
}

func ApplyPackDelta(stockPacks int, delta int) int {
	return max(stockPacks+delta, 0)
}

// StockAfterSale is the pack count left once qty of unit is taken from m.
func StockAfterSale(m domain.Medicine, unit domain.SaleUnit, qty int) int {
	if unit == domain.UnitUnit {
		return ApplyUnitDelta(m.StockPacks, m.UnitsPerPack, -qty)
	}
	return ApplyPackDelta(m.StockPacks, -qty)
}

// StockAfterReturn is the pack count once qty of unit is credited back to m.
func StockAfterReturn(m domain.Medicine, unit domain.SaleUnit, qty int) int {
	if unit == domain.UnitUnit {
		return ApplyUnitDelta(m.StockPacks, m.UnitsPerPack, qty)
	}
	return ApplyPackDelta(m.StockPacks, qty)
}

func LineTotalCents(qty int, unitPriceCents int64) int64 {
	return int64(qty) * unitPriceCents
}

// ParseAmount reads a decimal money string such as "25.00" into cents.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if raw == "" {
		return 0, errors.New("empty amount")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return amount.Round(2).Mul(hundred).IntPart(), nil
}

// FormatAmount renders cents with exactly two decimals, e.g. 1360 -> "13.60".
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
