package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pharmapos/internal/domain"
	"pharmapos/internal/receipt"
	"pharmapos/internal/store"
)

// ProcessReturn refunds part or all of one sale and credits the stock back.
// The quantity is checked against the original sale only; earlier partial
// returns of the same sale are not subtracted.
func (s *Service) ProcessReturn(ctx context.Context, sess *Session, req domain.ReturnRequest) (domain.ReturnConfirmation, error) {
	if _, err := requireUser(sess); err != nil {
		return domain.ReturnConfirmation{}, err
	}

	sale, err := s.repo.FindSale(ctx, req.SaleID)
	if err != nil {
		return domain.ReturnConfirmation{}, err
	}
	if req.Qty <= 0 {
		return domain.ReturnConfirmation{}, fmt.Errorf("%w: return quantity must be positive", store.ErrInvalidQuantity)
	}
	if req.Qty > sale.Qty {
		return domain.ReturnConfirmation{}, fmt.Errorf("%w: sale %d sold %d %s(s)", store.ErrExceedsSold, sale.ID, sale.Qty, sale.Unit)
	}

	ret, err := s.repo.RecordReturn(ctx, domain.Return{
		SaleID:    sale.ID,
		CreatedAt: s.now().UTC(),
		Qty:       req.Qty,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return domain.ReturnConfirmation{}, err
	}

	conf := domain.ReturnConfirmation{
		ReturnID:      ret.ID,
		SaleID:        sale.ID,
		MedicineName:  sale.MedicineName,
		Qty:           ret.Qty,
		Unit:          ret.Unit,
		RefundedCents: ret.RefundedCents,
		CreatedAt:     ret.CreatedAt.In(s.now().Location()),
	}
	conf.Text = receipt.RenderReturn(conf)

	s.logger.Info("return processed",
		zap.Int64("sale_id", sale.ID),
		zap.Int("qty", ret.Qty),
		zap.Int64("refunded_cents", ret.RefundedCents),
	)
	s.logAudit(WithActor(ctx, sess.Actor()), "sale_return", "return", strconv.FormatInt(ret.ID, 10),
		fmt.Sprintf("sale=%d,qty=%d,reason=%s", sale.ID, ret.Qty, ret.Reason))
	return conf, nil
}

// ReturnedQty sums every return recorded against a sale.
func (s *Service) ReturnedQty(ctx context.Context, saleID int64) (int, error) {
	return s.repo.ReturnedQty(ctx, saleID)
}
