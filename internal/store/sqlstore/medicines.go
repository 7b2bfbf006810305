package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/store"
)

const medicineColumns = `id, name, COALESCE(batch, '') AS batch, expiry, stock_packs, units_per_pack,
	pack_price_cents, unit_price_cents, supplier, created_at, updated_at`

const insertMedicineSQL = `
	INSERT INTO medicines (name, batch, expiry, stock_packs, units_per_pack, pack_price_cents, unit_price_cents, supplier, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id`

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	items := make([]domain.Medicine, 0, 32)
	err := s.db.SelectContext(ctx, &items, `SELECT `+medicineColumns+` FROM medicines ORDER BY LOWER(name), id`)
	if err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}

func (s *Store) SearchMedicines(ctx context.Context, query string) ([]domain.Medicine, error) {
	pattern := likePattern(query)
	items := make([]domain.Medicine, 0, 16)
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT `+medicineColumns+`
		FROM medicines
		WHERE name `+s.likeOp()+` ? ESCAPE '\' OR COALESCE(batch, '') `+s.likeOp()+` ? ESCAPE '\'
		ORDER BY LOWER(name), id
	`), pattern, pattern)
	if err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}

func (s *Store) GetMedicine(ctx context.Context, id int64) (*domain.Medicine, error) {
	return s.getMedicine(ctx, s.db, id, "")
}

func (s *Store) getMedicine(ctx context.Context, q sqlx.QueryerContext, id int64, suffix string) (*domain.Medicine, error) {
	var m domain.Medicine
	err := sqlx.GetContext(ctx, q, &m, s.db.Rebind(`SELECT `+medicineColumns+` FROM medicines WHERE id = ?`+suffix), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, id)
		}
		return nil, wrapErr(err)
	}
	return &m, nil
}

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	now := s.now()
	medicine.Expiry = dateOnly(medicine.Expiry)
	medicine.CreatedAt = now
	medicine.UpdatedAt = now

	err := s.db.QueryRowxContext(ctx, s.db.Rebind(insertMedicineSQL), medicineArgs(medicine)...).Scan(&medicine.ID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &medicine, nil
}

// CreateMedicines inserts a batch in one transaction; either every row lands
// or none does.
func (s *Store) CreateMedicines(ctx context.Context, medicines []domain.Medicine) (int, error) {
	if len(medicines) == 0 {
		return 0, nil
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(insertMedicineSQL))
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := s.now()
		for _, m := range medicines {
			m.Expiry = dateOnly(m.Expiry)
			m.CreatedAt = now
			m.UpdatedAt = now
			var id int64
			if err := stmt.QueryRowxContext(ctx, medicineArgs(m)...).Scan(&id); err != nil {
				return fmt.Errorf("insert %s: %w", m.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("medicines imported", zap.Int("count", len(medicines)))
	return len(medicines), nil
}

func (s *Store) UpdateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	medicine.Expiry = dateOnly(medicine.Expiry)
	medicine.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE medicines
		SET name = ?, batch = ?, expiry = ?, stock_packs = ?, units_per_pack = ?,
			pack_price_cents = ?, unit_price_cents = ?, supplier = ?, updated_at = ?
		WHERE id = ?
	`),
		medicine.Name, nullIfEmpty(medicine.Batch), medicine.Expiry, medicine.StockPacks, medicine.UnitsPerPack,
		medicine.PackPriceCents, medicine.UnitPriceCents, medicine.Supplier, medicine.UpdatedAt,
		medicine.ID,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, medicine.ID)
	}
	return s.GetMedicine(ctx, medicine.ID)
}

func (s *Store) DeleteMedicine(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getMedicine(ctx, tx, id, s.forUpdate()); err != nil {
			return err
		}
		var sold int
		if err := tx.GetContext(ctx, &sold, tx.Rebind(`SELECT COUNT(*) FROM sales WHERE medicine_id = ?`), id); err != nil {
			return err
		}
		if sold > 0 {
			return fmt.Errorf("%w: medicine %d has recorded sales", store.ErrValidation, id)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM medicines WHERE id = ?`), id)
		return err
	})
}

func (s *Store) AdjustStock(ctx context.Context, id int64, deltaPacks int) (*domain.Medicine, error) {
	var updated *domain.Medicine
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		m, err := s.getMedicine(ctx, tx, id, s.forUpdate())
		if err != nil {
			return err
		}
		if m.StockPacks+deltaPacks < 0 {
			return fmt.Errorf("%w: %d packs available", store.ErrInsufficientStock, m.StockPacks)
		}
		m.StockPacks = pricing.ApplyPackDelta(m.StockPacks, deltaPacks)
		m.UpdatedAt = s.now()
		if err := s.writeStock(ctx, tx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) writeStock(ctx context.Context, tx *sqlx.Tx, m *domain.Medicine) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE medicines SET stock_packs = ?, updated_at = ? WHERE id = ?`),
		m.StockPacks, m.UpdatedAt, m.ID)
	return err
}

func medicineArgs(m domain.Medicine) []any {
	return []any{
		m.Name, nullIfEmpty(m.Batch), m.Expiry, m.StockPacks, m.UnitsPerPack,
		m.PackPriceCents, m.UnitPriceCents, m.Supplier, m.CreatedAt, m.UpdatedAt,
	}
}
