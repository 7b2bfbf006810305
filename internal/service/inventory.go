package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/store"
)

const expiryLayout = "2006-01-02"

func (s *Service) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	return s.repo.ListMedicines(ctx)
}

func (s *Service) SearchMedicines(ctx context.Context, query string) ([]domain.Medicine, error) {
	if strings.TrimSpace(query) == "" {
		return s.repo.ListMedicines(ctx)
	}
	return s.repo.SearchMedicines(ctx, query)
}

func (s *Service) GetMedicine(ctx context.Context, id int64) (domain.Medicine, error) {
	m, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	return *m, nil
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineInput) (domain.Medicine, error) {
	m, err := medicineFromInput(req)
	if err != nil {
		return domain.Medicine{}, err
	}

	created, err := s.repo.CreateMedicine(ctx, m)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, "medicine_create", "medicine", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("name=%s,packs=%d,price=%s", created.Name, created.StockPacks, pricing.FormatAmount(created.PackPriceCents)))
	return *created, nil
}

// UpdateMedicine replaces the editable fields. The unit price is re-derived
// from the new pack price; sales already recorded keep their own price.
func (s *Service) UpdateMedicine(ctx context.Context, id int64, req domain.MedicineInput) (domain.Medicine, error) {
	existing, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	m, err := medicineFromInput(req)
	if err != nil {
		return domain.Medicine{}, err
	}
	m.ID = existing.ID
	m.CreatedAt = existing.CreatedAt

	saved, err := s.repo.UpdateMedicine(ctx, m)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, "medicine_update", "medicine", strconv.FormatInt(saved.ID, 10),
		fmt.Sprintf("packs=%d,price=%s->%s", saved.StockPacks, pricing.FormatAmount(existing.PackPriceCents), pricing.FormatAmount(saved.PackPriceCents)))
	return *saved, nil
}

func (s *Service) DeleteMedicine(ctx context.Context, id int64) error {
	if err := s.repo.DeleteMedicine(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "medicine_delete", "medicine", strconv.FormatInt(id, 10), "")
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, id int64, deltaPacks int) (domain.Medicine, error) {
	if deltaPacks == 0 {
		return domain.Medicine{}, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidQuantity)
	}
	m, err := s.repo.AdjustStock(ctx, id, deltaPacks)
	if err != nil {
		return domain.Medicine{}, err
	}
	s.logAudit(ctx, "stock_adjust", "medicine", strconv.FormatInt(id, 10), fmt.Sprintf("delta=%d,packs=%d", deltaPacks, m.StockPacks))
	return *m, nil
}

// ImportMedicinesCSV loads rows of
// name,batch,expiry,stock_packs,units_per_pack,pack_price,supplier.
// A header row is skipped; rows that fail validation are counted and skipped.
// Valid rows are written in one transaction.
func (s *Service) ImportMedicinesCSV(ctx context.Context, r io.Reader) (domain.ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		result    domain.ImportResult
		medicines []domain.Medicine
		line      int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Skipped++
				continue
			}
			return domain.ImportResult{}, fmt.Errorf("%w: read csv: %w", store.ErrValidation, err)
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "name") {
			continue
		}

		m, err := medicineFromRecord(record)
		if err != nil {
			s.logger.Debug("skipping csv row", zap.Int("line", line), zap.Error(err))
			result.Skipped++
			continue
		}
		medicines = append(medicines, m)
	}

	imported, err := s.repo.CreateMedicines(ctx, medicines)
	if err != nil {
		return domain.ImportResult{}, err
	}
	result.Imported = imported

	s.logAudit(ctx, "medicine_import", "medicine", "csv", fmt.Sprintf("imported=%d,skipped=%d", result.Imported, result.Skipped))
	return result, nil
}

func medicineFromRecord(record []string) (domain.Medicine, error) {
	if len(record) < 7 {
		return domain.Medicine{}, fmt.Errorf("%w: expected 7 columns, got %d", store.ErrValidation, len(record))
	}
	stock, err := strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil {
		return domain.Medicine{}, fmt.Errorf("%w: stock_packs %q", store.ErrValidation, record[3])
	}
	upp, err := strconv.Atoi(strings.TrimSpace(record[4]))
	if err != nil {
		return domain.Medicine{}, fmt.Errorf("%w: units_per_pack %q", store.ErrValidation, record[4])
	}
	price, err := pricing.ParseAmount(record[5])
	if err != nil {
		return domain.Medicine{}, fmt.Errorf("%w: pack_price %q", store.ErrValidation, record[5])
	}
	return medicineFromInput(domain.MedicineInput{
		Name:           record[0],
		Batch:          record[1],
		Expiry:         record[2],
		StockPacks:     stock,
		UnitsPerPack:   upp,
		PackPriceCents: price,
		Supplier:       record[6],
	})
}

// medicineFromInput validates the editable fields and derives the unit
// price. A units_per_pack of zero means "not given" and becomes 1; negative
// values are kept and price units at 0.
func medicineFromInput(req domain.MedicineInput) (domain.Medicine, error) {
	name := strings.TrimSpace(req.Name)
	supplier := strings.TrimSpace(req.Supplier)
	rawExpiry := strings.TrimSpace(req.Expiry)

	if name == "" {
		return domain.Medicine{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if rawExpiry == "" {
		return domain.Medicine{}, fmt.Errorf("%w: expiry is required", store.ErrValidation)
	}
	if supplier == "" {
		return domain.Medicine{}, fmt.Errorf("%w: supplier is required", store.ErrValidation)
	}
	expiry, err := time.Parse(expiryLayout, rawExpiry)
	if err != nil {
		return domain.Medicine{}, fmt.Errorf("%w: expiry must be YYYY-MM-DD", store.ErrValidation)
	}
	if req.StockPacks < 0 {
		return domain.Medicine{}, fmt.Errorf("%w: stock must not be negative", store.ErrValidation)
	}
	if req.PackPriceCents < 0 {
		return domain.Medicine{}, fmt.Errorf("%w: pack price must not be negative", store.ErrValidation)
	}
	upp := req.UnitsPerPack
	if upp == 0 {
		upp = 1
	}

	return domain.Medicine{
		Name:           name,
		Batch:          strings.TrimSpace(req.Batch),
		Expiry:         expiry,
		StockPacks:     req.StockPacks,
		UnitsPerPack:   upp,
		PackPriceCents: req.PackPriceCents,
		UnitPriceCents: pricing.UnitPriceCents(req.PackPriceCents, upp),
		Supplier:       supplier,
	}, nil
}
