package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmapos/internal/domain"
	"pharmapos/internal/pricing"
	"pharmapos/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	medicines   map[int64]domain.Medicine
	sales       map[int64]domain.Sale
	returns     map[int64]domain.Return
	usersByName map[string]domain.User
	settings    domain.Settings
	auditLogs   []domain.AuditLog

	nextMedicineID int64
	nextSaleID     int64
	nextReturnID   int64
	nextUserID     int64
	now            func() time.Time
}

func New() *Store {
	return &Store{
		medicines:   make(map[int64]domain.Medicine),
		sales:       make(map[int64]domain.Sale),
		returns:     make(map[int64]domain.Return),
		usersByName: make(map[string]domain.User),
		settings:    domain.DefaultSettings(),
		auditLogs:   make([]domain.AuditLog, 0, 64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store holding the default admin account and a small
// demo catalogue. The admin password is read from SEED_ADMIN_PASSWORD; when
// unset the dev default is used and a warning is logged.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		logger.Warn("using default dev credentials, set SEED_ADMIN_PASSWORD to override", zap.String("store", "memory"))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("failed to hash seed password", zap.Error(err))
	}
	s.nextUserID++
	s.usersByName["admin"] = domain.User{
		ID:           s.nextUserID,
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		Active:       true,
		CreatedAt:    s.now(),
	}

	expiry := time.Now().UTC().AddDate(1, 0, 0).Truncate(24 * time.Hour)
	for _, m := range []domain.Medicine{
		{Name: "Paracetamol 500mg", Batch: "PCM-2401", StockPacks: 50, UnitsPerPack: 10, PackPriceCents: 500, Supplier: "Medline"},
		{Name: "Ibuprofen 400mg", Batch: "IBU-2402", StockPacks: 40, UnitsPerPack: 10, PackPriceCents: 1200, Supplier: "Medline"},
		{Name: "Amoxicillin 250mg", Batch: "AMX-2311", StockPacks: 25, UnitsPerPack: 21, PackPriceCents: 1850, Supplier: "PharmaCo"},
		{Name: "Cetirizine 10mg", Batch: "CTZ-2405", StockPacks: 8, UnitsPerPack: 30, PackPriceCents: 900, Supplier: "PharmaCo"},
		{Name: "Oral Rehydration Salts", StockPacks: 60, UnitsPerPack: 1, PackPriceCents: 150, Supplier: "HealthPlus"},
	} {
		m.Expiry = expiry
		m.UnitPriceCents = pricing.UnitPriceCents(m.PackPriceCents, m.UnitsPerPack)
		if _, err := s.CreateMedicine(context.Background(), m); err != nil {
			logger.Fatal("failed to seed medicine", zap.String("name", m.Name), zap.Error(err))
		}
	}
	return s
}

// SetClock replaces the time source used for record timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListMedicines(_ context.Context) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		out = append(out, m)
	}
	sortMedicines(out)
	return out, nil
}

func (s *Store) SearchMedicines(_ context.Context, query string) ([]domain.Medicine, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Medicine, 0, 16)
	for _, m := range s.medicines {
		if needle == "" || strings.Contains(strings.ToLower(m.Name), needle) || strings.Contains(strings.ToLower(m.Batch), needle) {
			out = append(out, m)
		}
	}
	sortMedicines(out)
	return out, nil
}

func (s *Store) GetMedicine(_ context.Context, id int64) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.medicines[id]
	if !ok {
		return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, id)
	}
	return &m, nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.insertMedicineLocked(medicine)
	return &created, nil
}

func (s *Store) CreateMedicines(_ context.Context, medicines []domain.Medicine) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range medicines {
		s.insertMedicineLocked(m)
	}
	return len(medicines), nil
}

func (s *Store) insertMedicineLocked(medicine domain.Medicine) domain.Medicine {
	s.nextMedicineID++
	now := s.now()
	medicine.ID = s.nextMedicineID
	medicine.CreatedAt = now
	medicine.UpdatedAt = now
	s.medicines[medicine.ID] = medicine
	return medicine
}

func (s *Store) UpdateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.medicines[medicine.ID]
	if !ok {
		return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, medicine.ID)
	}
	medicine.CreatedAt = existing.CreatedAt
	medicine.UpdatedAt = s.now()
	s.medicines[medicine.ID] = medicine
	return &medicine, nil
}

func (s *Store) DeleteMedicine(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.medicines[id]; !ok {
		return fmt.Errorf("%w: medicine %d", store.ErrNotFound, id)
	}
	for _, sale := range s.sales {
		if sale.MedicineID == id {
			return fmt.Errorf("%w: medicine %d has recorded sales", store.ErrValidation, id)
		}
	}
	delete(s.medicines, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id int64, deltaPacks int) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.medicines[id]
	if !ok {
		return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, id)
	}
	if m.StockPacks+deltaPacks < 0 {
		return nil, fmt.Errorf("%w: %d packs available", store.ErrInsufficientStock, m.StockPacks)
	}
	m.StockPacks = pricing.ApplyPackDelta(m.StockPacks, deltaPacks)
	m.UpdatedAt = s.now()
	s.medicines[id] = m
	return &m, nil
}

// RecordSales validates every line against a working copy of the stock
// before anything is written, so a failing line leaves the store untouched.
func (s *Store) RecordSales(_ context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	if len(sales) == 0 {
		return nil, store.ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := make(map[int64]domain.Medicine, len(sales))
	for _, sale := range sales {
		if sale.Qty < 1 {
			return nil, fmt.Errorf("%w: %d", store.ErrInvalidQuantity, sale.Qty)
		}
		m, ok := working[sale.MedicineID]
		if !ok {
			m, ok = s.medicines[sale.MedicineID]
			if !ok {
				return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, sale.MedicineID)
			}
		}
		available := pricing.Available(m, sale.Unit)
		if sale.Qty > available {
			return nil, fmt.Errorf("%w: %s has %d %s(s) available", store.ErrInsufficientStock, m.Name, available, sale.Unit)
		}
		m.StockPacks = pricing.StockAfterSale(m, sale.Unit, sale.Qty)
		working[sale.MedicineID] = m
	}

	now := s.now()
	created := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		s.nextSaleID++
		sale.ID = s.nextSaleID
		if sale.CreatedAt.IsZero() {
			sale.CreatedAt = now
		}
		s.sales[sale.ID] = sale
		created = append(created, sale)
	}
	for id, m := range working {
		m.UpdatedAt = now
		s.medicines[id] = m
	}
	return created, nil
}

func (s *Store) FindSale(_ context.Context, id int64) (*domain.SaleView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, id)
	}
	view := s.saleViewLocked(sale)
	return &view, nil
}

func (s *Store) SearchSales(_ context.Context, query string, limit int) ([]domain.SaleView, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	saleID, idErr := parseID(needle)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SaleView, 0, 16)
	for _, sale := range s.sales {
		view := s.saleViewLocked(sale)
		if needle != "" {
			matchesID := idErr == nil && sale.ID == saleID
			matchesText := strings.Contains(strings.ToLower(view.MedicineName), needle) ||
				strings.Contains(strings.ToLower(view.MedicineBatch), needle)
			if !matchesID && !matchesText {
				continue
			}
		}
		out = append(out, view)
	}
	slices.SortFunc(out, func(a, b domain.SaleView) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, 32)
	for _, sale := range s.sales {
		if inRange(sale.CreatedAt, from, to) {
			out = append(out, sale)
		}
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) RecordReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	if ret.Qty < 1 {
		return nil, fmt.Errorf("%w: %d", store.ErrInvalidQuantity, ret.Qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[ret.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, ret.SaleID)
	}
	if ret.Qty > sale.Qty {
		return nil, fmt.Errorf("%w: sold %d", store.ErrExceedsSold, sale.Qty)
	}
	m, ok := s.medicines[sale.MedicineID]
	if !ok {
		return nil, fmt.Errorf("%w: medicine %d", store.ErrNotFound, sale.MedicineID)
	}

	now := s.now()
	s.nextReturnID++
	ret.ID = s.nextReturnID
	ret.MedicineID = sale.MedicineID
	ret.Unit = sale.Unit
	ret.RefundedCents = pricing.LineTotalCents(ret.Qty, sale.UnitPriceCents)
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	s.returns[ret.ID] = ret

	m.StockPacks = pricing.StockAfterReturn(m, sale.Unit, ret.Qty)
	m.UpdatedAt = now
	s.medicines[m.ID] = m
	return &ret, nil
}

func (s *Store) ReturnedQty(_ context.Context, saleID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, ret := range s.returns {
		if ret.SaleID == saleID {
			total += ret.Qty
		}
	}
	return total, nil
}

func (s *Store) ListReturns(_ context.Context, from time.Time, to time.Time) ([]domain.ReturnView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReturnView, 0, 16)
	for _, ret := range s.returns {
		if !inRange(ret.CreatedAt, from, to) {
			continue
		}
		out = append(out, domain.ReturnView{Return: ret, MedicineName: s.medicines[ret.MedicineID].Name})
	}
	slices.SortFunc(out, func(a, b domain.ReturnView) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = s.now()
	s.settings = settings
	return settings, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, exists := s.usersByName[key]; exists {
		return nil, fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	s.nextUserID++
	user.ID = s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.usersByName[key] = user
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByName[key]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.PasswordHash = passwordHash
	s.usersByName[key] = user
	return nil
}

func (s *Store) DashboardStats(_ context.Context, q store.DashboardQuery) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.DashboardStats{TotalMedicines: len(s.medicines)}
	for _, m := range s.medicines {
		if m.StockPacks < q.LowStockBelow {
			stats.LowStock++
		}
		if !m.Expiry.After(q.ExpiringBy) {
			stats.ExpiryAlerts++
		}
	}
	for _, sale := range s.sales {
		if inRange(sale.CreatedAt, q.DayStart, q.DayEnd) {
			stats.TodaySalesCents += sale.TotalCents
		}
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) saleViewLocked(sale domain.Sale) domain.SaleView {
	view := domain.SaleView{Sale: sale}
	if m, ok := s.medicines[sale.MedicineID]; ok {
		view.MedicineName = m.Name
		view.MedicineBatch = m.Batch
	}
	for _, user := range s.usersByName {
		if user.ID == sale.UserID {
			view.Cashier = user.Username
			break
		}
	}
	return view
}

func sortMedicines(items []domain.Medicine) {
	slices.SortFunc(items, func(a, b domain.Medicine) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// inRange reports whether t falls in [from, to). Zero bounds are open.
func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
