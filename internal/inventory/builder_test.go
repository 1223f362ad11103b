package inventory

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medstock/backend/internal/domain"
)

var today = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func approved(id string, medicineID string, units int, createdAt time.Time) domain.StockEntry {
	return domain.StockEntry{
		ID:              id,
		MedicineID:      medicineID,
		MedicineName:    "Paracetamol 500mg",
		Packs:           units / 10,
		UnitsPerPack:    10,
		TotalUnits:      units,
		BuyPricePerPack: decimal.NewFromInt(20),
		Status:          domain.StockStatusApproved,
		CreatedAt:       createdAt,
	}
}

func dayOffset(days int) *time.Time {
	d := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return &d
}

func TestBuildMergesEntriesOfSameMedicine(t *testing.T) {
	first := approved("stk-1", "med-1", 50, today.Add(-48*time.Hour))
	first.InvoiceNumber = "INV-OLD"
	first.MinStock = 10
	first.ExpiryDate = dayOffset(200)
	second := approved("stk-2", "med-1", 30, today.Add(-time.Hour))
	second.InvoiceNumber = "INV-NEW"
	second.UnitSalePrice = decimal.NewNullDecimal(decimal.RequireFromString("2.50"))
	second.MinStock = 5
	second.ExpiryDate = dayOffset(90)

	rows := NewBuilder(30).Build([]domain.StockEntry{second, first}, today)

	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 80, row.TotalUnits)
	assert.Equal(t, 8, row.TotalPacks)
	assert.Equal(t, "INV-NEW", row.InvoiceNumber)
	assert.Equal(t, 10, row.MinStock)
	assert.Equal(t, *dayOffset(200), *row.ExpiryDate)
	assert.Equal(t, []string{"stk-1", "stk-2"}, row.EntryIDs)
	assert.Equal(t, 2, row.EntryCount)
	assert.True(t, decimal.RequireFromString("200").Equal(row.StockValue))
	assert.Equal(t, domain.BadgeInStock, row.Badge)
}

func TestBuildIgnoresPendingAndRejected(t *testing.T) {
	pending := approved("stk-p", "med-1", 40, today)
	pending.Status = domain.StockStatusPending
	rejected := approved("stk-r", "med-1", 70, today)
	rejected.Status = domain.StockStatusRejected
	other := approved("stk-o", "med-2", 20, today)
	other.MedicineName = "Amoxicillin"

	rows := NewBuilder(30).Build([]domain.StockEntry{pending, rejected, other}, today)

	require.Len(t, rows, 1)
	assert.Equal(t, "med-2", rows[0].MedicineID)
	assert.Equal(t, 20, rows[0].TotalUnits)
}

func TestBuildGroupsUnlinkedEntriesByNormalizedName(t *testing.T) {
	a := approved("stk-a", "", 10, today)
	a.MedicineName = "Ibuprofen  400"
	b := approved("stk-b", "", 5, today.Add(time.Minute))
	b.MedicineName = "IBUPROFEN 400"

	rows := NewBuilder(30).Build([]domain.StockEntry{a, b}, today)

	require.Len(t, rows, 1)
	assert.Equal(t, "name:ibuprofen 400", rows[0].Key)
	assert.Equal(t, 15, rows[0].TotalUnits)
	assert.Equal(t, "IBUPROFEN 400", rows[0].MedicineName)
}

func TestLowStockBoundary(t *testing.T) {
	cases := []struct {
		units      int
		lowStock   bool
		outOfStock bool
		badge      string
	}{
		{units: 20, lowStock: true, badge: domain.BadgeLowStock},
		{units: 21, lowStock: false, badge: domain.BadgeInStock},
		{units: 0, outOfStock: true, badge: domain.BadgeOutOfStock},
	}

	for _, tc := range cases {
		entry := approved("stk-1", "med-1", tc.units, today)
		entry.MinStock = 20

		rows := NewBuilder(30).Build([]domain.StockEntry{entry}, today)

		require.Len(t, rows, 1)
		assert.Equal(t, tc.lowStock, rows[0].LowStock, "units=%d", tc.units)
		assert.Equal(t, tc.outOfStock, rows[0].OutOfStock, "units=%d", tc.units)
		assert.Equal(t, tc.badge, rows[0].Badge, "units=%d", tc.units)
	}
}

func TestExpiryFlags(t *testing.T) {
	soon := approved("stk-1", "med-1", 100, today)
	soon.ExpiryDate = dayOffset(10)
	rows := NewBuilder(30).Build([]domain.StockEntry{soon}, today)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ExpiringSoon)
	assert.False(t, rows[0].Expired)
	require.NotNil(t, rows[0].DaysUntilExpiry)
	assert.Equal(t, 10, *rows[0].DaysUntilExpiry)
	assert.Equal(t, domain.BadgeExpiringSoon, rows[0].Badge)

	past := approved("stk-2", "med-1", 100, today)
	past.ExpiryDate = dayOffset(-1)
	rows = NewBuilder(30).Build([]domain.StockEntry{past}, today)
	assert.True(t, rows[0].Expired)
	assert.False(t, rows[0].ExpiringSoon)
	assert.Equal(t, domain.BadgeExpired, rows[0].Badge)

	todayExpiry := approved("stk-3", "med-1", 100, today)
	todayExpiry.ExpiryDate = dayOffset(0)
	rows = NewBuilder(30).Build([]domain.StockEntry{todayExpiry}, today)
	assert.False(t, rows[0].Expired)
	assert.True(t, rows[0].ExpiringSoon)

	far := approved("stk-4", "med-1", 100, today)
	far.ExpiryDate = dayOffset(31)
	rows = NewBuilder(30).Build([]domain.StockEntry{far}, today)
	assert.False(t, rows[0].ExpiringSoon)
}

func TestBadgePriorityOutOfStockBeatsExpired(t *testing.T) {
	entry := approved("stk-1", "med-1", 0, today)
	entry.ExpiryDate = dayOffset(-5)
	entry.MinStock = 10

	rows := NewBuilder(30).Build([]domain.StockEntry{entry}, today)

	assert.True(t, rows[0].OutOfStock)
	assert.True(t, rows[0].Expired)
	assert.False(t, rows[0].LowStock)
	assert.Equal(t, domain.BadgeOutOfStock, rows[0].Badge)
}

func TestValuationSumsRows(t *testing.T) {
	a := approved("stk-a", "med-a", 10, today)
	a.MedicineName = "Alpha"
	a.UnitSalePrice = decimal.NewNullDecimal(decimal.RequireFromString("1.25"))
	b := approved("stk-b", "med-b", 4, today)
	b.MedicineName = "Beta"
	b.UnitSalePrice = decimal.NewNullDecimal(decimal.RequireFromString("3.10"))
	c := approved("stk-c", "med-c", 7, today)
	c.MedicineName = "Gamma"

	rows := NewBuilder(30).Build([]domain.StockEntry{c, b, a}, today)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, []string{rows[0].MedicineName, rows[1].MedicineName, rows[2].MedicineName})
	assert.True(t, decimal.RequireFromString("24.90").Equal(Valuation(rows)), "got %s", Valuation(rows))
}

func TestFilterAndPaginate(t *testing.T) {
	rows := []domain.InventoryRow{
		{Key: "1", MedicineName: "Paracetamol", Category: "Analgesic", TotalUnits: 5, LowStock: true, Badge: domain.BadgeLowStock},
		{Key: "2", MedicineName: "Amoxicillin", Category: "Antibiotic", TotalUnits: 100, Badge: domain.BadgeInStock},
		{Key: "3", MedicineName: "Cetirizine", Category: "Antihistamine", InvoiceNumber: "INV-77", TotalUnits: 0, OutOfStock: true, Badge: domain.BadgeOutOfStock},
	}

	assert.Len(t, Filter(rows, "", ""), 3)
	assert.Len(t, Filter(rows, "ANTI", ""), 2)
	assert.Len(t, Filter(rows, "inv-77", ""), 1)
	assert.Len(t, Filter(rows, "", domain.BadgeLowStock), 1)
	assert.Len(t, Filter(rows, "anti", domain.BadgeOutOfStock), 1)

	page, p, size := Paginate(rows, 2, 2)
	assert.Equal(t, 2, p)
	assert.Equal(t, 2, size)
	require.Len(t, page, 1)
	assert.Equal(t, "3", page[0].Key)

	page, p, size = Paginate(rows, 0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, DefaultPageSize, size)
	assert.Len(t, page, 3)

	page, _, _ = Paginate(rows, 9, 2)
	assert.Empty(t, page)

	_, _, size = Paginate(rows, 1, 5000)
	assert.Equal(t, MaxPageSize, size)
}

func TestPaginateHugePageIsEmpty(t *testing.T) {
	rows := []domain.InventoryRow{{Key: "1"}, {Key: "2"}}

	page, p, size := Paginate(rows, 400000000000000001, 25)
	assert.Empty(t, page)
	assert.NotNil(t, page)
	assert.Equal(t, 400000000000000001, p)
	assert.Equal(t, 25, size)

	page, _, _ = Paginate(rows, math.MaxInt, MaxPageSize)
	assert.Empty(t, page)

	page, _, _ = Paginate(nil, math.MaxInt, 1)
	assert.Empty(t, page)
}

func TestRefreshRecomputesDateFlags(t *testing.T) {
	entry := approved("stk-1", "med-1", 100, today)
	entry.ExpiryDate = dayOffset(40)
	rows := NewBuilder(30).Build([]domain.StockEntry{entry}, today)
	require.False(t, rows[0].ExpiringSoon)

	later := NewBuilder(30).Refresh(rows, today.AddDate(0, 0, 15))

	assert.True(t, later[0].ExpiringSoon)
	assert.Equal(t, 25, *later[0].DaysUntilExpiry)
	assert.False(t, rows[0].ExpiringSoon)
}

func TestValidFlag(t *testing.T) {
	assert.True(t, ValidFlag(""))
	assert.True(t, ValidFlag("LOW_STOCK"))
	assert.False(t, ValidFlag("discontinued"))
}
