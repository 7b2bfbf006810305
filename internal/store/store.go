package store

import (
	"context"
	"errors"
	"time"

	"pharmapos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrExceedsSold       = errors.New("return quantity exceeds sold quantity")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrValidation        = errors.New("validation error")
	ErrPersistence       = errors.New("persistence error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "NotFound"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrExceedsSold, "ExceedsSold"},
	{ErrEmptyCart, "EmptyCart"},
	{ErrUnauthenticated, "Unauthenticated"},
	{ErrValidation, "ValidationError"},
	{ErrPersistence, "PersistenceError"},
}

// Kind names the error kind carried by err, or "" for errors outside the set.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// Known reports whether err already carries one of the error kinds.
func Known(err error) bool {
	return Kind(err) != ""
}

// DashboardQuery carries the thresholds a dashboard snapshot is computed against.
type DashboardQuery struct {
	LowStockBelow int
	ExpiringBy    time.Time
	DayStart      time.Time
	DayEnd        time.Time
}

type Repository interface {
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)
	SearchMedicines(ctx context.Context, query string) ([]domain.Medicine, error)
	GetMedicine(ctx context.Context, id int64) (*domain.Medicine, error)
	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	CreateMedicines(ctx context.Context, medicines []domain.Medicine) (int, error)
	UpdateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	DeleteMedicine(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, deltaPacks int) (*domain.Medicine, error)

	// RecordSales persists every sale and applies its stock depletion as one
	// unit of work. Stock is re-validated inside the unit of work.
	RecordSales(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error)
	FindSale(ctx context.Context, id int64) (*domain.SaleView, error)
	SearchSales(ctx context.Context, query string, limit int) ([]domain.SaleView, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	// RecordReturn persists the return and credits stock back as one unit of work.
	RecordReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)
	ReturnedQty(ctx context.Context, saleID int64) (int, error)
	ListReturns(ctx context.Context, from time.Time, to time.Time) ([]domain.ReturnView, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error

	DashboardStats(ctx context.Context, q DashboardQuery) (domain.DashboardStats, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// Backuper is implemented by repositories that can copy their data to a file.
type Backuper interface {
	Backup(ctx context.Context, destPath string) error
}
