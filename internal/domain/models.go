package domain

import "time"

type SaleUnit string

const (
	UnitPack SaleUnit = "Pack"
	UnitUnit SaleUnit = "Unit"
)

func (u SaleUnit) Valid() bool {
	return u == UnitPack || u == UnitUnit
}

// Suffix is the one-letter tag printed next to quantities on receipts.
func (u SaleUnit) Suffix() string {
	if u == "" {
		return ""
	}
	return string(u)[:1]
}

const (
	RoleAdmin      = "Admin"
	RolePharmacist = "Pharmacist"
	RoleCashier    = "Cashier"
)

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RolePharmacist || role == RoleCashier
}

type Medicine struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Batch          string    `json:"batch,omitempty" db:"batch"`
	Expiry         time.Time `json:"expiry" db:"expiry"`
	StockPacks     int       `json:"stock_packs" db:"stock_packs"`
	UnitsPerPack   int       `json:"units_per_pack" db:"units_per_pack"`
	PackPriceCents int64     `json:"pack_price_cents" db:"pack_price_cents"`
	UnitPriceCents int64     `json:"unit_price_cents" db:"unit_price_cents"`
	Supplier       string    `json:"supplier" db:"supplier"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// MedicineInput carries the editable medicine fields. The unit price is
// always derived from the pack price and never accepted from callers.
type MedicineInput struct {
	Name           string `json:"name"`
	Batch          string `json:"batch"`
	Expiry         string `json:"expiry"`
	StockPacks     int    `json:"stock_packs"`
	UnitsPerPack   int    `json:"units_per_pack"`
	PackPriceCents int64  `json:"pack_price_cents"`
	Supplier       string `json:"supplier"`
}

type StockAdjustRequest struct {
	DeltaPacks int `json:"delta_packs"`
}

type Sale struct {
	ID             int64     `json:"id" db:"id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	MedicineID     int64     `json:"medicine_id" db:"medicine_id"`
	Qty            int       `json:"qty" db:"qty"`
	Unit           SaleUnit  `json:"unit" db:"unit"`
	UnitPriceCents int64     `json:"unit_price_cents" db:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents" db:"total_cents"`
	UserID         int64     `json:"user_id" db:"user_id"`
}

// SaleView is a sale joined with the medicine and cashier it references.
type SaleView struct {
	Sale
	MedicineName  string `json:"medicine_name" db:"medicine_name"`
	MedicineBatch string `json:"medicine_batch,omitempty" db:"medicine_batch"`
	Cashier       string `json:"cashier" db:"cashier"`
}

type Return struct {
	ID            int64     `json:"id" db:"id"`
	SaleID        int64     `json:"sale_id" db:"sale_id"`
	MedicineID    int64     `json:"medicine_id" db:"medicine_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	Qty           int       `json:"qty" db:"qty"`
	Unit          SaleUnit  `json:"unit" db:"unit"`
	Reason        string    `json:"reason,omitempty" db:"reason"`
	RefundedCents int64     `json:"refunded_cents" db:"refunded_cents"`
}

type ReturnView struct {
	Return
	MedicineName string `json:"medicine_name" db:"medicine_name"`
}

type ReturnRequest struct {
	SaleID int64  `json:"sale_id"`
	Qty    int    `json:"qty"`
	Reason string `json:"reason"`
}

type ReturnConfirmation struct {
	ReturnID      int64     `json:"return_id"`
	SaleID        int64     `json:"sale_id"`
	MedicineName  string    `json:"medicine_name"`
	Qty           int       `json:"qty"`
	Unit          SaleUnit  `json:"unit"`
	RefundedCents int64     `json:"refunded_cents"`
	CreatedAt     time.Time `json:"created_at"`
	Text          string    `json:"text"`
}

type Settings struct {
	PharmacyName    string    `json:"pharmacy_name" db:"pharmacy_name"`
	PharmacyAddress string    `json:"pharmacy_address" db:"pharmacy_address"`
	PharmacyPhone   string    `json:"pharmacy_phone" db:"pharmacy_phone"`
	ReceiptHeader   string    `json:"receipt_header" db:"receipt_header"`
	ReceiptFooter   string    `json:"receipt_footer" db:"receipt_footer"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

func DefaultSettings() Settings {
	return Settings{
		PharmacyName:    "My Pharmacy",
		PharmacyAddress: "123 Main Street, City",
		PharmacyPhone:   "Phone: 123456",
		ReceiptHeader:   "Thank you for visiting!",
		ReceiptFooter:   "No refunds after 7 days of purchase",
	}
}

type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password"`
	Role         string    `json:"role" db:"role"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

type CartLine struct {
	LineID         int      `json:"line_id"`
	MedicineID     int64    `json:"medicine_id"`
	Name           string   `json:"name"`
	Unit           SaleUnit `json:"unit"`
	Qty            int      `json:"qty"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	TotalCents     int64    `json:"total_cents"`
}

type AddLineRequest struct {
	MedicineID int64    `json:"medicine_id"`
	Unit       SaleUnit `json:"unit"`
	Qty        int      `json:"qty"`
}

type CartResponse struct {
	Lines           []CartLine `json:"lines"`
	GrandTotalCents int64      `json:"grand_total_cents"`
}

type CheckoutResult struct {
	SaleIDs         []int64    `json:"sale_ids"`
	Lines           []CartLine `json:"lines"`
	GrandTotalCents int64      `json:"grand_total_cents"`
	Cashier         string     `json:"cashier"`
	CreatedAt       time.Time  `json:"created_at"`
	Receipt         string     `json:"receipt"`
}

type DashboardStats struct {
	TotalMedicines  int   `json:"total_medicines" db:"total_medicines"`
	LowStock        int   `json:"low_stock" db:"low_stock"`
	ExpiryAlerts    int   `json:"expiry_alerts" db:"expiry_alerts"`
	TodaySalesCents int64 `json:"today_sales_cents" db:"today_sales_cents"`
}

type SalesTotal struct {
	Period     string `json:"period"`
	TotalCents int64  `json:"total_cents"`
	Lines      int    `json:"lines"`
}

type SalesReport struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Rows       []SalesTotal `json:"rows"`
	TotalCents int64        `json:"total_cents"`
}

type StockSummaryRow struct {
	MedicineID     int64     `json:"medicine_id"`
	Name           string    `json:"name"`
	Batch          string    `json:"batch,omitempty"`
	Expiry         time.Time `json:"expiry"`
	StockPacks     int       `json:"stock_packs"`
	TotalUnits     int       `json:"total_units"`
	PackPriceCents int64     `json:"pack_price_cents"`
}

type ReturnsReport struct {
	From          string       `json:"from"`
	To            string       `json:"to"`
	Rows          []ReturnView `json:"rows"`
	RefundedCents int64        `json:"refunded_cents"`
}

type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type BackupResult struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
