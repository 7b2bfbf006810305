package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/receipt"
	"pharmapos/internal/store"
)

const defaultSaleSearchLimit = 50

// AddLine validates the request against live stock and adds it to the
// session cart at the current price. Each add is checked on its own; the
// cumulative check happens at checkout.
func (s *Service) AddLine(ctx context.Context, sess *Session, medicineID int64, unit domain.SaleUnit, qty int) (domain.CartLine, error) {
	if sess == nil {
		return domain.CartLine{}, store.ErrUnauthenticated
	}
	if !unit.Valid() {
		return domain.CartLine{}, fmt.Errorf("%w: unit must be Pack or Unit", store.ErrValidation)
	}

	m, err := s.repo.GetMedicine(ctx, medicineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if qty <= 0 {
		return domain.CartLine{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidQuantity)
	}
	if available := pricing.Available(*m, unit); qty > available {
		return domain.CartLine{}, fmt.Errorf("%w: only %d %s(s) of %s available", store.ErrInsufficientStock, available, unit, m.Name)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Cart.Add(m.ID, m.Name, unit, qty, pricing.PriceFor(*m, unit)), nil
}

func (s *Service) RemoveLine(sess *Session, lineID int) error {
	if sess == nil {
		return store.ErrUnauthenticated
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.Cart.Remove(lineID) {
		return fmt.Errorf("%w: cart line %d", store.ErrNotFound, lineID)
	}
	return nil
}

func (s *Service) ClearCart(sess *Session) {
	if sess == nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Cart.Clear()
}

func (s *Service) CartView(sess *Session) domain.CartResponse {
	if sess == nil {
		return domain.CartResponse{Lines: []domain.CartLine{}}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	lines := sess.Cart.Lines()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return domain.CartResponse{Lines: lines, GrandTotalCents: sess.Cart.TotalCents()}
}

// Checkout commits every cart line as a Sale in one repository call. On any
// failure nothing is written and the cart is left as it was.
func (s *Service) Checkout(ctx context.Context, sess *Session) (domain.CheckoutResult, error) {
	if sess == nil {
		return domain.CheckoutResult{}, store.ErrUnauthenticated
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Cart.Empty() {
		return domain.CheckoutResult{}, store.ErrEmptyCart
	}
	user, err := requireUser(sess)
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	now := s.now()
	lines := sess.Cart.Lines()
	sales := make([]domain.Sale, 0, len(lines))
	for _, line := range lines {
		sales = append(sales, domain.Sale{
			CreatedAt:      now.UTC(),
			MedicineID:     line.MedicineID,
			Qty:            line.Qty,
			Unit:           line.Unit,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     line.TotalCents,
			UserID:         user.ID,
		})
	}

	created, err := s.repo.RecordSales(ctx, sales)
	if err != nil {
		s.logger.Warn("checkout failed", zap.String("cashier", user.Username), zap.Int("lines", len(lines)), zap.Error(err))
		return domain.CheckoutResult{}, err
	}

	saleIDs := make([]int64, 0, len(created))
	for _, sale := range created {
		saleIDs = append(saleIDs, sale.ID)
	}
	grandTotal := sess.Cart.TotalCents()
	sess.Cart.Clear()

	result := domain.CheckoutResult{
		SaleIDs:         saleIDs,
		Lines:           lines,
		GrandTotalCents: grandTotal,
		Cashier:         user.Username,
		CreatedAt:       now,
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("receipt rendered with default settings", zap.Error(err))
		settings = domain.DefaultSettings()
	}
	result.Receipt = receipt.Render(receipt.Input{
		SaleIDs:         saleIDs,
		Lines:           lines,
		GrandTotalCents: grandTotal,
		Settings:        settings,
		Cashier:         user.Username,
		Timestamp:       now,
	})

	s.logger.Info("checkout committed",
		zap.String("cashier", user.Username),
		zap.Int64s("sale_ids", saleIDs),
		zap.Int64("grand_total_cents", grandTotal),
	)
	s.logAudit(WithActor(ctx, sess.Actor()), "sale_checkout", "sale", strconv.FormatInt(saleIDs[0], 10),
		fmt.Sprintf("lines=%d,total=%s", len(lines), pricing.FormatAmount(grandTotal)))
	return result, nil
}

// FindSales looks sales up by exact id or by medicine name/batch text, most
// recent first. An empty query lists the latest sales.
func (s *Service) FindSales(ctx context.Context, query string) ([]domain.SaleView, error) {
	return s.repo.SearchSales(ctx, strings.TrimSpace(query), defaultSaleSearchLimit)
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.SaleView, error) {
	sale, err := s.repo.FindSale(ctx, id)
	if err != nil {
		return domain.SaleView{}, err
	}
	return *sale, nil
}
