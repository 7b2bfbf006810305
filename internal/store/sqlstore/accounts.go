package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmapos/internal/domain"
	"pharmapos/internal/store"
)

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.GetContext(ctx, &settings, `
		SELECT pharmacy_name, pharmacy_address, pharmacy_phone, receipt_header, receipt_footer, updated_at
		FROM settings WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, wrapErr(err)
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	settings.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO settings (id, pharmacy_name, pharmacy_address, pharmacy_phone, receipt_header, receipt_footer, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			pharmacy_name = excluded.pharmacy_name,
			pharmacy_address = excluded.pharmacy_address,
			pharmacy_phone = excluded.pharmacy_phone,
			receipt_header = excluded.receipt_header,
			receipt_footer = excluded.receipt_footer,
			updated_at = excluded.updated_at
	`), settings.PharmacyName, settings.PharmacyAddress, settings.PharmacyPhone, settings.ReceiptHeader, settings.ReceiptFooter, settings.UpdatedAt)
	if err != nil {
		return domain.Settings{}, wrapErr(err)
	}
	return settings, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`
		SELECT id, username, password, role, active, created_at
		FROM users WHERE username = ?
	`), strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
		}
		return nil, wrapErr(err)
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(user.Username)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), user.Username, user.PasswordHash, user.Role, user.Active, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return nil, wrapErr(err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, 8)
	err := s.db.SelectContext(ctx, &users, `SELECT id, username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, wrapErr(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET password = ? WHERE username = ?`),
		passwordHash, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func (s *Store) DashboardStats(ctx context.Context, q store.DashboardQuery) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	err := s.db.GetContext(ctx, &stats, s.db.Rebind(`
		SELECT
			(SELECT COUNT(*) FROM medicines) AS total_medicines,
			(SELECT COUNT(*) FROM medicines WHERE stock_packs < ?) AS low_stock,
			(SELECT COUNT(*) FROM medicines WHERE expiry <= ?) AS expiry_alerts,
			(SELECT CAST(COALESCE(SUM(total_cents), 0) AS BIGINT) FROM sales WHERE created_at >= ? AND created_at < ?) AS today_sales_cents
	`), q.LowStockBelow, dateOnly(q.ExpiringBy), q.DayStart.UTC(), q.DayEnd.UTC())
	if err != nil {
		return domain.DashboardStats{}, wrapErr(err)
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return wrapErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	where, args := timeRange("created_at", from, to)
	q := `SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	items := make([]domain.AuditLog, 0, 32)
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(q), args...); err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}
