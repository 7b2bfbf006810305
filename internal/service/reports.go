package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/store"
)

const (
	lowStockThreshold   = 10
	expiryAlertDays     = 30
	maxBackupsPerSecond = 100
)

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) SaveSettings(ctx context.Context, req domain.Settings) (domain.Settings, error) {
	req.PharmacyName = strings.TrimSpace(req.PharmacyName)
	req.PharmacyAddress = strings.TrimSpace(req.PharmacyAddress)
	req.PharmacyPhone = strings.TrimSpace(req.PharmacyPhone)
	req.ReceiptHeader = strings.TrimSpace(req.ReceiptHeader)
	req.ReceiptFooter = strings.TrimSpace(req.ReceiptFooter)
	if req.PharmacyName == "" {
		return domain.Settings{}, fmt.Errorf("%w: pharmacy name is required", store.ErrValidation)
	}

	saved, err := s.repo.SaveSettings(ctx, req)
	if err != nil {
		return domain.Settings{}, err
	}
	s.logAudit(ctx, "settings_update", "settings", "1", "name="+saved.PharmacyName)
	return saved, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	now := s.now()
	dayStart := startOfDay(now)
	return s.repo.DashboardStats(ctx, store.DashboardQuery{
		LowStockBelow: lowStockThreshold,
		ExpiringBy:    calendarDate(now).AddDate(0, 0, expiryAlertDays),
		DayStart:      dayStart,
		DayEnd:        dayStart.AddDate(0, 0, 1),
	})
}

// DailySales totals sales per calendar day over the inclusive range.
func (s *Service) DailySales(ctx context.Context, fromDate string, toDate string) (domain.SalesReport, error) {
	return s.salesReport(ctx, fromDate, toDate, "2006-01-02")
}

// MonthlySales totals sales per calendar month over the inclusive range.
func (s *Service) MonthlySales(ctx context.Context, fromDate string, toDate string) (domain.SalesReport, error) {
	return s.salesReport(ctx, fromDate, toDate, "2006-01")
}

func (s *Service) salesReport(ctx context.Context, fromDate string, toDate string, period string) (domain.SalesReport, error) {
	from, to, err := s.dateRange(fromDate, toDate)
	if err != nil {
		return domain.SalesReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	loc := s.now().Location()
	byPeriod := make(map[string]*domain.SalesTotal)
	report := domain.SalesReport{
		From: from.Format("2006-01-02"),
		To:   to.AddDate(0, 0, -1).Format("2006-01-02"),
		Rows: make([]domain.SalesTotal, 0, 31),
	}
	for _, sale := range sales {
		key := sale.CreatedAt.In(loc).Format(period)
		row, ok := byPeriod[key]
		if !ok {
			row = &domain.SalesTotal{Period: key}
			byPeriod[key] = row
		}
		row.TotalCents += sale.TotalCents
		row.Lines++
		report.TotalCents += sale.TotalCents
	}
	for _, row := range byPeriod {
		report.Rows = append(report.Rows, *row)
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		return report.Rows[i].Period < report.Rows[j].Period
	})
	return report, nil
}

func (s *Service) StockSummary(ctx context.Context) ([]domain.StockSummaryRow, error) {
	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.StockSummaryRow, 0, len(medicines))
	for _, m := range medicines {
		rows = append(rows, domain.StockSummaryRow{
			MedicineID:     m.ID,
			Name:           m.Name,
			Batch:          m.Batch,
			Expiry:         m.Expiry,
			StockPacks:     m.StockPacks,
			TotalUnits:     pricing.AvailableUnits(m.StockPacks, m.UnitsPerPack),
			PackPriceCents: m.PackPriceCents,
		})
	}
	return rows, nil
}

// ExpiredMedicines lists medicines whose expiry date is before today.
func (s *Service) ExpiredMedicines(ctx context.Context) ([]domain.Medicine, error) {
	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	today := calendarDate(s.now())
	expired := make([]domain.Medicine, 0, 8)
	for _, m := range medicines {
		if m.Expiry.Before(today) {
			expired = append(expired, m)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Expiry.Before(expired[j].Expiry)
	})
	return expired, nil
}

func (s *Service) ReturnsReport(ctx context.Context, fromDate string, toDate string) (domain.ReturnsReport, error) {
	from, to, err := s.dateRange(fromDate, toDate)
	if err != nil {
		return domain.ReturnsReport{}, err
	}
	returns, err := s.repo.ListReturns(ctx, from, to)
	if err != nil {
		return domain.ReturnsReport{}, err
	}
	report := domain.ReturnsReport{
		From: from.Format("2006-01-02"),
		To:   to.AddDate(0, 0, -1).Format("2006-01-02"),
		Rows: returns,
	}
	for _, ret := range returns {
		report.RefundedCents += ret.RefundedCents
	}
	return report, nil
}

// dateRange turns inclusive YYYY-MM-DD bounds into a half-open [from, to)
// range. Missing bounds default to today.
func (s *Service) dateRange(fromDate string, toDate string) (time.Time, time.Time, error) {
	now := s.now()
	from, to := startOfDay(now), startOfDay(now)
	var err error
	if strings.TrimSpace(fromDate) != "" {
		if from, err = parseDay(strings.TrimSpace(fromDate), now.Location()); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if strings.TrimSpace(toDate) != "" {
		if to, err = parseDay(strings.TrimSpace(toDate), now.Location()); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must not be after to", store.ErrValidation)
	}
	return from, to.AddDate(0, 0, 1), nil
}

// Backup copies the database into the backup directory. Only repositories
// backed by a single file support it.
func (s *Service) Backup(ctx context.Context) (domain.BackupResult, error) {
	backuper, ok := s.repo.(store.Backuper)
	if !ok {
		return domain.BackupResult{}, fmt.Errorf("%w: backup is not supported by this storage", store.ErrValidation)
	}
	if err := os.MkdirAll(s.backupDir, 0o750); err != nil {
		return domain.BackupResult{}, fmt.Errorf("%w: create backup dir: %w", store.ErrPersistence, err)
	}

	now := s.now()
	path, err := nextBackupPath(s.backupDir, now)
	if err != nil {
		return domain.BackupResult{}, err
	}
	if err := backuper.Backup(ctx, path); err != nil {
		s.logger.Error("backup failed", zap.String("path", path), zap.Error(err))
		return domain.BackupResult{}, err
	}

	s.logAudit(ctx, "backup_create", "backup", filepath.Base(path), "")
	return domain.BackupResult{Path: path, CreatedAt: now}, nil
}

// nextBackupPath returns the timestamped backup file name, adding a counter
// when a backup from the same second already exists. SQLite will not
// overwrite an existing file.
func nextBackupPath(dir string, now time.Time) (string, error) {
	base := "pharmacy_backup_" + now.Format("20060102_150405")
	for n := 1; n <= maxBackupsPerSecond; n++ {
		name := base + ".db"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.db", base, n)
		}
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: stat backup file: %w", store.ErrPersistence, err)
		}
	}
	return "", fmt.Errorf("%w: too many backups in one second", store.ErrValidation)
}
