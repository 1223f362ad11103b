package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StockStatusPending  StockStatus = "pending"
	StockStatusApproved StockStatus = "approved"
	StockStatusRejected StockStatus = "rejected"
)

func (s StockStatus) Valid() bool {
	switch s {
	case StockStatusPending, StockStatusApproved, StockStatusRejected:
		return true
	default:
		return false
	}
}

const (
	StockSourceManual  = "manual"
	StockSourceLoose   = "loose"
	StockSourceInvoice = "invoice"
)

const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
)

type Medicine struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	NameKey      string    `json:"-"`
	GenericName  string    `json:"generic_name,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Category     string    `json:"category,omitempty"`
	Barcode      string    `json:"barcode,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type MedicineCreateRequest struct {
	Name         string `json:"name"`
	GenericName  string `json:"generic_name"`
	Manufacturer string `json:"manufacturer"`
	Category     string `json:"category"`
	Barcode      string `json:"barcode"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NameKey   string    `json:"-"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// StockEntry is one submitted batch of medicine stock (an "add stock" record).
// Only approved entries count toward on-hand inventory.
type StockEntry struct {
	ID               string              `json:"id"`
	MedicineID       string              `json:"medicine_id"`
	MedicineName     string              `json:"medicine_name"`
	Category         string              `json:"category,omitempty"`
	SupplierID       string              `json:"supplier_id,omitempty"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	Packs            int                 `json:"packs"`
	UnitsPerPack     int                 `json:"units_per_pack"`
	TotalUnits       int                 `json:"total_units"`
	BuyPricePerPack  decimal.Decimal     `json:"buy_price_per_pack"`
	SalePricePerPack decimal.NullDecimal `json:"sale_price_per_pack"`
	UnitBuyPrice     decimal.Decimal     `json:"unit_buy_price"`
	UnitSalePrice    decimal.NullDecimal `json:"unit_sale_price"`
	TotalBuyPrice    decimal.Decimal     `json:"total_buy_price"`
	MinStock         int                 `json:"min_stock"`
	ExpiryDate       *time.Time          `json:"expiry_date,omitempty"`
	Source           string              `json:"source"`
	Status           StockStatus         `json:"status"`
	CreatedBy        string              `json:"created_by,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	ReviewedBy       string              `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time          `json:"reviewed_at,omitempty"`
}

// StockEntryInput is the submit payload. Quantities and prices are optional on
// the wire so the deriver can fill whatever the caller left out.
type StockEntryInput struct {
	MedicineID       string              `json:"medicine_id,omitempty"`
	MedicineName     string              `json:"medicine_name,omitempty"`
	GenericName      string              `json:"generic_name,omitempty"`
	Manufacturer     string              `json:"manufacturer,omitempty"`
	Category         string              `json:"category,omitempty"`
	SupplierID       string              `json:"supplier_id,omitempty"`
	SupplierName     string              `json:"supplier_name,omitempty"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	Packs            *int                `json:"packs,omitempty"`
	UnitsPerPack     *int                `json:"units_per_pack,omitempty"`
	TotalUnits       *int                `json:"total_units,omitempty"`
	BuyPricePerPack  decimal.NullDecimal `json:"buy_price_per_pack"`
	SalePricePerPack decimal.NullDecimal `json:"sale_price_per_pack"`
	UnitBuyPrice     decimal.NullDecimal `json:"unit_buy_price"`
	UnitSalePrice    decimal.NullDecimal `json:"unit_sale_price"`
	TotalBuyPrice    decimal.NullDecimal `json:"total_buy_price"`
	LastChanged      string              `json:"last_changed,omitempty"`
	MinStock         *int                `json:"min_stock,omitempty"`
	ExpiryDate       string              `json:"expiry_date,omitempty"`
}

// LooseItemInput adds units that do not make up a full pack.
type LooseItemInput struct {
	MedicineID    string              `json:"medicine_id,omitempty"`
	MedicineName  string              `json:"medicine_name,omitempty"`
	Category      string              `json:"category,omitempty"`
	SupplierID    string              `json:"supplier_id,omitempty"`
	SupplierName  string              `json:"supplier_name,omitempty"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	Units         int                 `json:"units"`
	UnitBuyPrice  decimal.NullDecimal `json:"unit_buy_price"`
	UnitSalePrice decimal.NullDecimal `json:"unit_sale_price"`
	MinStock      *int                `json:"min_stock,omitempty"`
	ExpiryDate    string              `json:"expiry_date,omitempty"`
}

// StockEntryPatch carries the fields of an edit. Nil means unchanged.
type StockEntryPatch struct {
	Category         *string             `json:"category,omitempty"`
	SupplierID       *string             `json:"supplier_id,omitempty"`
	InvoiceNumber    *string             `json:"invoice_number,omitempty"`
	Packs            *int                `json:"packs,omitempty"`
	UnitsPerPack     *int                `json:"units_per_pack,omitempty"`
	TotalUnits       *int                `json:"total_units,omitempty"`
	BuyPricePerPack  decimal.NullDecimal `json:"buy_price_per_pack"`
	SalePricePerPack decimal.NullDecimal `json:"sale_price_per_pack"`
	UnitBuyPrice     decimal.NullDecimal `json:"unit_buy_price"`
	UnitSalePrice    decimal.NullDecimal `json:"unit_sale_price"`
	TotalBuyPrice    decimal.NullDecimal `json:"total_buy_price"`
	LastChanged      string              `json:"last_changed,omitempty"`
	MinStock         *int                `json:"min_stock,omitempty"`
	ExpiryDate       *string             `json:"expiry_date,omitempty"`
}

type StockEntryPage struct {
	Items    []StockEntry `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

type BulkRequest struct {
	IDs []string `json:"ids"`
}

type BulkFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

const (
	BadgeOutOfStock   = "out_of_stock"
	BadgeExpired      = "expired"
	BadgeLowStock     = "low_stock"
	BadgeExpiringSoon = "expiring_soon"
	BadgeInStock      = "in_stock"
)

// InventoryRow is the merged, per-medicine summary of approved stock entries.
type InventoryRow struct {
	Key              string              `json:"key"`
	MedicineID       string              `json:"medicine_id,omitempty"`
	MedicineName     string              `json:"medicine_name"`
	Category         string              `json:"category,omitempty"`
	TotalPacks       int                 `json:"total_packs"`
	TotalUnits       int                 `json:"total_units"`
	UnitsPerPack     int                 `json:"units_per_pack"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	BuyPricePerPack  decimal.Decimal     `json:"buy_price_per_pack"`
	UnitSalePrice    decimal.NullDecimal `json:"unit_sale_price"`
	SalePricePerPack decimal.NullDecimal `json:"sale_price_per_pack"`
	ExpiryDate       *time.Time          `json:"expiry_date,omitempty"`
	DaysUntilExpiry  *int                `json:"days_until_expiry,omitempty"`
	MinStock         int                 `json:"min_stock"`
	EntryCount       int                 `json:"entry_count"`
	EntryIDs         []string            `json:"entry_ids"`
	LatestEntryAt    time.Time           `json:"latest_entry_at"`
	StockValue       decimal.Decimal     `json:"stock_value"`
	OutOfStock       bool                `json:"out_of_stock"`
	Expired          bool                `json:"expired"`
	LowStock         bool                `json:"low_stock"`
	ExpiringSoon     bool                `json:"expiring_soon"`
	Badge            string              `json:"badge"`
}

type InventoryQuery struct {
	Page     int
	PageSize int
	Search   string
	Flag     string
}

type InventoryView struct {
	Rows        []InventoryRow  `json:"rows"`
	Total       int             `json:"total"`
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
	StockValue  decimal.Decimal `json:"stock_value"`
	GeneratedAt string          `json:"generated_at"`
}

// InventoryChange is published whenever approved stock changes.
type InventoryChange struct {
	Event      string    `json:"event"`
	Action     string    `json:"action"`
	EntryID    string    `json:"entry_id"`
	MedicineID string    `json:"medicine_id,omitempty"`
	At         time.Time `json:"at"`
}

type ReorderSuggestion struct {
	MedicineID        string          `json:"medicine_id,omitempty"`
	MedicineName      string          `json:"medicine_name"`
	Badge             string          `json:"badge"`
	CurrentUnits      int             `json:"current_units"`
	MinStock          int             `json:"min_stock"`
	TargetUnits       int             `json:"target_units"`
	UnitsPerPack      int             `json:"units_per_pack"`
	RecommendedPacks  int             `json:"recommended_packs"`
	BuyPricePerPack   decimal.Decimal `json:"buy_price_per_pack"`
	EstimatedPurchase decimal.Decimal `json:"estimated_purchase"`
	LastInvoiceNumber string          `json:"last_invoice_number,omitempty"`
}

type ReorderSuggestionResponse struct {
	GeneratedAt string              `json:"generated_at"`
	Suggestions []ReorderSuggestion `json:"suggestions"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
