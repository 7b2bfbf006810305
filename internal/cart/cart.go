// Package cart holds the ephemeral line items of one sales session.
package cart

import (
	"slices"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
)

type Cart struct {
	lines  []domain.CartLine
	nextID int
}

func New() *Cart {
	return &Cart{nextID: 1}
}

// Add merges qty into the line for the same medicine, unit and price
// snapshot, or appends a new line. It returns the resulting line.
func (c *Cart) Add(medicineID int64, name string, unit domain.SaleUnit, qty int, unitPriceCents int64) domain.CartLine {
	for i := range c.lines {
		line := &c.lines[i]
		if line.MedicineID == medicineID && line.Unit == unit && line.UnitPriceCents == unitPriceCents {
			line.Qty += qty
			line.TotalCents = pricing.LineTotalCents(line.Qty, line.UnitPriceCents)
			return *line
		}
	}

	if c.nextID < 1 {
		c.nextID = 1
	}
	line := domain.CartLine{
		LineID:         c.nextID,
		MedicineID:     medicineID,
		Name:           name,
		Unit:           unit,
		Qty:            qty,
		UnitPriceCents: unitPriceCents,
		TotalCents:     pricing.LineTotalCents(qty, unitPriceCents),
	}
	c.nextID++
	c.lines = append(c.lines, line)
	return line
}

// Remove deletes the line with lineID and reports whether it existed.
func (c *Cart) Remove(lineID int) bool {
	idx := slices.IndexFunc(c.lines, func(line domain.CartLine) bool {
		return line.LineID == lineID
	})
	if idx < 0 {
		return false
	}
	c.lines = slices.Delete(c.lines, idx, idx+1)
	return true
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	return slices.Clone(c.lines)
}

func (c *Cart) TotalCents() int64 {
	total := int64(0)
	for _, line := range c.lines {
		total += line.TotalCents
	}
	return total
}
