// Package inventory collapses approved stock entries into one display row per
// medicine and computes the stock status flags and valuation for those rows.
//
// The rows are a display snapshot, not a ledger: quantities are summed while
// prices and the invoice number come from the most recent entry. EntryIDs lists
// every contributing entry so callers that need batch detail can fetch it.
package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"medstock/backend/internal/domain"
)

const (
	DefaultExpiryWarningDays = 30
	DefaultPageSize          = 25
	MaxPageSize              = 200
)

type Builder struct {
	ExpiryWarningDays int
}

func NewBuilder(expiryWarningDays int) Builder {
	if expiryWarningDays < 0 {
		expiryWarningDays = DefaultExpiryWarningDays
	}
	return Builder{ExpiryWarningDays: expiryWarningDays}
}

type group struct {
	row    domain.InventoryRow
	latest domain.StockEntry
}

// Build returns one row per medicine, ordered by medicine name. Entries that
// are not approved are ignored.
func (b Builder) Build(entries []domain.StockEntry, today time.Time) []domain.InventoryRow {
	today = dateOnly(today)
	groups := make(map[string]*group)
	order := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.Status != domain.StockStatusApproved {
			continue
		}
		key := GroupKey(entry)
		g, ok := groups[key]
		if !ok {
			g = &group{row: domain.InventoryRow{Key: key}, latest: entry}
			groups[key] = g
			order = append(order, key)
		} else if isNewer(entry, g.latest) {
			g.latest = entry
		}

		g.row.TotalPacks += entry.Packs
		g.row.TotalUnits += entry.TotalUnits
		g.row.EntryCount++
		g.row.EntryIDs = append(g.row.EntryIDs, entry.ID)
		if entry.MinStock > g.row.MinStock {
			g.row.MinStock = entry.MinStock
		}
		if entry.ExpiryDate != nil {
			if g.row.ExpiryDate == nil || entry.ExpiryDate.After(*g.row.ExpiryDate) {
				exp := dateOnly(*entry.ExpiryDate)
				g.row.ExpiryDate = &exp
			}
		}
	}

	rows := make([]domain.InventoryRow, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		row := g.row
		latest := g.latest

		row.MedicineID = latest.MedicineID
		row.MedicineName = latest.MedicineName
		row.Category = latest.Category
		row.InvoiceNumber = latest.InvoiceNumber
		row.UnitsPerPack = latest.UnitsPerPack
		row.BuyPricePerPack = latest.BuyPricePerPack
		row.UnitSalePrice = latest.UnitSalePrice
		row.SalePricePerPack = latest.SalePricePerPack
		row.LatestEntryAt = latest.CreatedAt
		sort.Strings(row.EntryIDs)

		b.applyFlags(&row, today)
		row.StockValue = rowValue(row)
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		left, right := domain.NameKey(rows[i].MedicineName), domain.NameKey(rows[j].MedicineName)
		if left == right {
			return rows[i].Key < rows[j].Key
		}
		return left < right
	})
	return rows
}

// GroupKey is the medicine id, or the normalized name for entries that were
// never linked to a medicine record.
func GroupKey(entry domain.StockEntry) string {
	if id := strings.TrimSpace(entry.MedicineID); id != "" {
		return id
	}
	return "name:" + domain.NameKey(entry.MedicineName)
}

func (b Builder) applyFlags(row *domain.InventoryRow, today time.Time) {
	row.OutOfStock = row.TotalUnits <= 0
	row.LowStock = row.TotalUnits > 0 && row.TotalUnits <= row.MinStock
	row.Expired = false
	row.ExpiringSoon = false
	row.DaysUntilExpiry = nil

	if row.ExpiryDate != nil {
		days := DaysBetween(today, *row.ExpiryDate)
		row.DaysUntilExpiry = &days
		row.Expired = days < 0
		row.ExpiringSoon = days >= 0 && days <= b.ExpiryWarningDays
	}

	switch {
	case row.OutOfStock:
		row.Badge = domain.BadgeOutOfStock
	case row.Expired:
		row.Badge = domain.BadgeExpired
	case row.LowStock:
		row.Badge = domain.BadgeLowStock
	case row.ExpiringSoon:
		row.Badge = domain.BadgeExpiringSoon
	default:
		row.Badge = domain.BadgeInStock
	}
}

// Refresh recomputes the date-dependent flags of rows built on another day.
func (b Builder) Refresh(rows []domain.InventoryRow, today time.Time) []domain.InventoryRow {
	today = dateOnly(today)
	out := make([]domain.InventoryRow, len(rows))
	for i, row := range rows {
		b.applyFlags(&row, today)
		out[i] = row
	}
	return out
}

func rowValue(row domain.InventoryRow) decimal.Decimal {
	if !row.UnitSalePrice.Valid || row.TotalUnits <= 0 {
		return decimal.Zero
	}
	return row.UnitSalePrice.Decimal.Mul(decimal.NewFromInt(int64(row.TotalUnits))).Round(2)
}

// Valuation is the total stock value of rows: sum(unit sale price × units).
func Valuation(rows []domain.InventoryRow) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.StockValue)
	}
	return total.Round(2)
}

// Filter keeps rows whose name, category or invoice number contains search
// (case-insensitive) and, when flag is set, whose matching flag is true.
func Filter(rows []domain.InventoryRow, search string, flag string) []domain.InventoryRow {
	needle := domain.NameKey(search)
	flag = strings.ToLower(strings.TrimSpace(flag))
	if needle == "" && flag == "" {
		return rows
	}

	out := make([]domain.InventoryRow, 0, len(rows))
	for _, row := range rows {
		if needle != "" &&
			!strings.Contains(domain.NameKey(row.MedicineName), needle) &&
			!strings.Contains(domain.NameKey(row.Category), needle) &&
			!strings.Contains(domain.NameKey(row.InvoiceNumber), needle) {
			continue
		}
		if flag != "" && !HasFlag(row, flag) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func HasFlag(row domain.InventoryRow, flag string) bool {
	switch flag {
	case domain.BadgeOutOfStock:
		return row.OutOfStock
	case domain.BadgeExpired:
		return row.Expired
	case domain.BadgeLowStock:
		return row.LowStock
	case domain.BadgeExpiringSoon:
		return row.ExpiringSoon
	case domain.BadgeInStock:
		return row.Badge == domain.BadgeInStock
	default:
		return false
	}
}

func ValidFlag(flag string) bool {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "", domain.BadgeOutOfStock, domain.BadgeExpired, domain.BadgeLowStock, domain.BadgeExpiringSoon, domain.BadgeInStock:
		return true
	default:
		return false
	}
}

// Paginate returns the requested 1-based page and the normalized page and page
// size.
func Paginate(rows []domain.InventoryRow, page int, pageSize int) ([]domain.InventoryRow, int, int) {
	page, pageSize = NormalizePage(page, pageSize)
	// Compare page counts first so (page-1)*pageSize cannot overflow.
	if page-1 > len(rows)/pageSize {
		return []domain.InventoryRow{}, page, pageSize
	}
	start := (page - 1) * pageSize
	if start >= len(rows) {
		return []domain.InventoryRow{}, page, pageSize
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], page, pageSize
}

func NormalizePage(page int, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// DaysBetween counts calendar days from today to date; negative when date is
// in the past.
func DaysBetween(today time.Time, date time.Time) int {
	return int(dateOnly(date).Sub(dateOnly(today)).Hours() / 24)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isNewer(candidate domain.StockEntry, current domain.StockEntry) bool {
	if candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.ID > current.ID
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}
