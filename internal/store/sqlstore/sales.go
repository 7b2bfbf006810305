package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/store"
)

const saleViewSelect = `
	SELECT s.id, s.created_at, s.medicine_id, s.qty, s.unit, s.unit_price_cents, s.total_cents, s.user_id,
		m.name AS medicine_name, COALESCE(m.batch, '') AS medicine_batch, COALESCE(u.username, '') AS cashier
	FROM sales s
	JOIN medicines m ON m.id = s.medicine_id
	LEFT JOIN users u ON u.id = s.user_id`

// RecordSales inserts every sale and depletes stock inside one transaction.
// Each medicine row is locked once and the running stock is checked line by
// line, so two lines for the same medicine are validated cumulatively.
func (s *Store) RecordSales(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	if len(sales) == 0 {
		return nil, store.ErrEmptyCart
	}

	created := make([]domain.Sale, 0, len(sales))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		working := make(map[int64]*domain.Medicine, len(sales))
		order := make([]int64, 0, len(sales))

		for _, sale := range sales {
			if sale.Qty < 1 {
				return fmt.Errorf("%w: %d", store.ErrInvalidQuantity, sale.Qty)
			}
			m, ok := working[sale.MedicineID]
			if !ok {
				var err error
				m, err = s.getMedicine(ctx, tx, sale.MedicineID, s.forUpdate())
				if err != nil {
					return err
				}
				working[sale.MedicineID] = m
				order = append(order, sale.MedicineID)
			}

			available := pricing.Available(*m, sale.Unit)
			if sale.Qty > available {
				return fmt.Errorf("%w: %s has %d %s(s) available", store.ErrInsufficientStock, m.Name, available, sale.Unit)
			}
			m.StockPacks = pricing.StockAfterSale(*m, sale.Unit, sale.Qty)

			if sale.CreatedAt.IsZero() {
				sale.CreatedAt = now
			}
			err := tx.QueryRowxContext(ctx, tx.Rebind(`
				INSERT INTO sales (created_at, medicine_id, qty, unit, unit_price_cents, total_cents, user_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				RETURNING id
			`), sale.CreatedAt, sale.MedicineID, sale.Qty, string(sale.Unit), sale.UnitPriceCents, sale.TotalCents, sale.UserID).Scan(&sale.ID)
			if err != nil {
				return err
			}
			created = append(created, sale)
		}

		for _, id := range order {
			m := working[id]
			m.UpdatedAt = now
			if err := s.writeStock(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) FindSale(ctx context.Context, id int64) (*domain.SaleView, error) {
	var view domain.SaleView
	err := s.db.GetContext(ctx, &view, s.db.Rebind(saleViewSelect+` WHERE s.id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, id)
		}
		return nil, wrapErr(err)
	}
	return &view, nil
}

// SearchSales matches an exact sale id or a case-insensitive substring of the
// medicine name or batch, newest first.
func (s *Store) SearchSales(ctx context.Context, query string, limit int) ([]domain.SaleView, error) {
	var (
		where string
		args  []any
	)
	if needle := strings.TrimSpace(query); needle != "" {
		pattern := likePattern(needle)
		op := s.likeOp()
		where = ` WHERE (m.name ` + op + ` ? ESCAPE '\' OR COALESCE(m.batch, '') ` + op + ` ? ESCAPE '\'`
		args = append(args, pattern, pattern)
		if id, err := strconv.ParseInt(needle, 10, 64); err == nil {
			where += ` OR s.id = ?`
			args = append(args, id)
		}
		where += `)`
	}

	q := saleViewSelect + where + ` ORDER BY s.created_at DESC, s.id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	items := make([]domain.SaleView, 0, 16)
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(q), args...); err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	where, args := timeRange("created_at", from, to)
	items := make([]domain.Sale, 0, 32)
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT id, created_at, medicine_id, qty, unit, unit_price_cents, total_cents, user_id
		FROM sales`+where+`
		ORDER BY created_at, id
	`), args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}

// RecordReturn checks the quantity against the original sale, inserts the
// return and credits the stock back inside one transaction. Unit and refund
// are taken from the sale.
func (s *Store) RecordReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	if ret.Qty < 1 {
		return nil, fmt.Errorf("%w: %d", store.ErrInvalidQuantity, ret.Qty)
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var sale domain.Sale
		err := tx.GetContext(ctx, &sale, tx.Rebind(`
			SELECT id, created_at, medicine_id, qty, unit, unit_price_cents, total_cents, user_id
			FROM sales WHERE id = ?
		`), ret.SaleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: sale %d", store.ErrNotFound, ret.SaleID)
			}
			return err
		}
		if ret.Qty > sale.Qty {
			return fmt.Errorf("%w: sold %d", store.ErrExceedsSold, sale.Qty)
		}

		m, err := s.getMedicine(ctx, tx, sale.MedicineID, s.forUpdate())
		if err != nil {
			return err
		}

		now := s.now()
		ret.MedicineID = sale.MedicineID
		ret.Unit = sale.Unit
		ret.RefundedCents = pricing.LineTotalCents(ret.Qty, sale.UnitPriceCents)
		if ret.CreatedAt.IsZero() {
			ret.CreatedAt = now
		}
		err = tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO returns (sale_id, medicine_id, created_at, qty, unit, reason, refunded_cents)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`), ret.SaleID, ret.MedicineID, ret.CreatedAt, ret.Qty, string(ret.Unit), ret.Reason, ret.RefundedCents).Scan(&ret.ID)
		if err != nil {
			return err
		}

		m.StockPacks = pricing.StockAfterReturn(*m, sale.Unit, ret.Qty)
		m.UpdatedAt = now
		return s.writeStock(ctx, tx, m)
	})
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) ReturnedQty(ctx context.Context, saleID int64) (int, error) {
	var total int
	err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT CAST(COALESCE(SUM(qty), 0) AS BIGINT) FROM returns WHERE sale_id = ?`), saleID)
	if err != nil {
		return 0, wrapErr(err)
	}
	return total, nil
}

func (s *Store) ListReturns(ctx context.Context, from time.Time, to time.Time) ([]domain.ReturnView, error) {
	where, args := timeRange("r.created_at", from, to)
	items := make([]domain.ReturnView, 0, 16)
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT r.id, r.sale_id, r.medicine_id, r.created_at, r.qty, r.unit, r.reason, r.refunded_cents,
			m.name AS medicine_name
		FROM returns r
		JOIN medicines m ON m.id = r.medicine_id`+where+`
		ORDER BY r.created_at, r.id
	`), args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}

// timeRange builds a WHERE clause for the half-open range [from, to). Zero
// bounds are left open.
func timeRange(column string, from time.Time, to time.Time) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, column+` >= ?`)
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, column+` < ?`)
		args = append(args, to.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}
