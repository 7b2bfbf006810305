package sqlstore

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmapos/internal/domain"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS medicines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		batch TEXT,
		expiry DATE NOT NULL,
		stock_packs INTEGER NOT NULL DEFAULT 0 CHECK (stock_packs >= 0),
		units_per_pack INTEGER NOT NULL DEFAULT 1,
		pack_price_cents INTEGER NOT NULL DEFAULT 0,
		unit_price_cents INTEGER NOT NULL DEFAULT 0,
		supplier TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		medicine_id INTEGER NOT NULL REFERENCES medicines(id),
		qty INTEGER NOT NULL CHECK (qty > 0),
		unit TEXT NOT NULL CHECK (unit IN ('Pack', 'Unit')),
		unit_price_cents INTEGER NOT NULL,
		total_cents INTEGER NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at);`,
	`CREATE TABLE IF NOT EXISTS returns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		medicine_id INTEGER NOT NULL REFERENCES medicines(id),
		created_at TIMESTAMP NOT NULL,
		qty INTEGER NOT NULL CHECK (qty > 0),
		unit TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		refunded_cents INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_returns_sale_id ON returns(sale_id);`,
	`CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pharmacy_name TEXT NOT NULL,
		pharmacy_address TEXT NOT NULL,
		pharmacy_phone TEXT NOT NULL,
		receipt_header TEXT NOT NULL,
		receipt_footer TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS medicines (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		batch TEXT,
		expiry DATE NOT NULL,
		stock_packs INTEGER NOT NULL DEFAULT 0 CHECK (stock_packs >= 0),
		units_per_pack INTEGER NOT NULL DEFAULT 1,
		pack_price_cents BIGINT NOT NULL DEFAULT 0,
		unit_price_cents BIGINT NOT NULL DEFAULT 0,
		supplier TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		medicine_id BIGINT NOT NULL REFERENCES medicines(id),
		qty INTEGER NOT NULL CHECK (qty > 0),
		unit TEXT NOT NULL CHECK (unit IN ('Pack', 'Unit')),
		unit_price_cents BIGINT NOT NULL,
		total_cents BIGINT NOT NULL,
		user_id BIGINT NOT NULL REFERENCES users(id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at);`,
	`CREATE TABLE IF NOT EXISTS returns (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id),
		medicine_id BIGINT NOT NULL REFERENCES medicines(id),
		created_at TIMESTAMPTZ NOT NULL,
		qty INTEGER NOT NULL CHECK (qty > 0),
		unit TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		refunded_cents BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_returns_sale_id ON returns(sale_id);`,
	`CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pharmacy_name TEXT NOT NULL,
		pharmacy_address TEXT NOT NULL,
		pharmacy_phone TEXT NOT NULL,
		receipt_header TEXT NOT NULL,
		receipt_footer TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);`,
}

// Migrate creates the schema and seeds the default settings row and, on an
// empty users table, the default admin account.
func (s *Store) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", wrapErr(err))
		}
	}

	defaults := domain.DefaultSettings()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO settings (id, pharmacy_name, pharmacy_address, pharmacy_phone, receipt_header, receipt_footer, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), defaults.PharmacyName, defaults.PharmacyAddress, defaults.PharmacyPhone, defaults.ReceiptHeader, defaults.ReceiptFooter, s.now())
	if err != nil {
		return fmt.Errorf("seed settings: %w", wrapErr(err))
	}

	return s.seedAdmin(ctx)
}

func (s *Store) seedAdmin(ctx context.Context) error {
	var users int
	if err := s.db.GetContext(ctx, &users, `SELECT COUNT(*) FROM users`); err != nil {
		return wrapErr(err)
	}
	if users > 0 {
		return nil
	}

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		s.logger.Warn("seeding admin with the default dev password, set SEED_ADMIN_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}
	_, err = s.CreateUser(ctx, domain.User{
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.logger.Info("seeded default admin account", zap.String("username", "admin"))
	return nil
}
