// Package receipt renders finalized sales and returns as fixed-width text.
package receipt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
)

const (
	Width        = 40
	itemNameCols = 18
)

// Input is everything a sale receipt depends on. The receipt is a pure
// function of it.
type Input struct {
	SaleIDs         []int64
	Lines           []domain.CartLine
	GrandTotalCents int64
	Settings        domain.Settings
	Cashier         string
	Timestamp       time.Time
}

// Render produces the 40-column receipt. One invoice number, the first sale
// id, stands for the whole cart.
func Render(in Input) string {
	rule := strings.Repeat("-", Width)
	invoice := "N/A"
	if len(in.SaleIDs) > 0 {
		invoice = strconv.FormatInt(in.SaleIDs[0], 10)
	}
	cashier := in.Cashier
	if cashier == "" {
		cashier = "Unknown"
	}

	lines := []string{
		center(in.Settings.PharmacyName),
		center(in.Settings.PharmacyAddress),
		center(in.Settings.PharmacyPhone),
		rule,
		fmt.Sprintf("Invoice: %-15s Date: %s", invoice, in.Timestamp.Format("02-01-2006")),
		"Cashier: " + cashier,
		rule,
		"Item                Qty   Price   Total",
	}
	for _, item := range in.Lines {
		qty := strconv.Itoa(item.Qty) + item.Unit.Suffix()
		lines = append(lines, fmt.Sprintf("%-18s %3s  %7s  %7s",
			truncate(item.Name, itemNameCols),
			qty,
			pricing.FormatAmount(item.UnitPriceCents),
			pricing.FormatAmount(item.TotalCents),
		))
	}
	lines = append(lines,
		rule,
		totalRow("Subtotal:", in.GrandTotalCents),
		totalRow("Discount:", 0),
		totalRow("Total:", in.GrandTotalCents),
		rule,
		center(in.Settings.ReceiptHeader),
		center(in.Settings.ReceiptFooter),
	)
	return strings.Join(lines, "\n")
}

// RenderReturn produces the slip shown once a return has been processed.
func RenderReturn(conf domain.ReturnConfirmation) string {
	lines := []string{
		"===== RETURN RECEIPT =====",
		"Date: " + conf.CreatedAt.Format("2006-01-02 15:04:05"),
		"Invoice No: " + strconv.FormatInt(conf.SaleID, 10),
		"Medicine: " + conf.MedicineName,
		fmt.Sprintf("Returned: %d %s(s)", conf.Qty, conf.Unit),
		"Refunded Amount: $" + pricing.FormatAmount(conf.RefundedCents),
		strings.Repeat("=", 30),
		"Thank you!",
	}
	return strings.Join(lines, "\n")
}

func totalRow(label string, cents int64) string {
	return fmt.Sprintf("%30s  %7s", label, pricing.FormatAmount(cents))
}

func center(text string) string {
	pad := (Width - utf8.RuneCountInString(text)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + text
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
