package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"medstock/backend/internal/cache"
	"medstock/backend/internal/domain"
	"medstock/backend/internal/metrics"
	"medstock/backend/internal/reorder"
	"medstock/backend/internal/store"
	"medstock/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *cache.MemoryInventoryCache) {
	t.Helper()
	inventoryCache := cache.NewMemoryInventoryCache()
	svc := New(memory.NewSeeded(zerolog.Nop()), inventoryCache, reorder.NewEngine(2), Options{
		StoreTimeout:      time.Second,
		InventoryCacheTTL: time.Minute,
		ExpiryWarningDays: 30,
		Logger:            zerolog.Nop(),
		Metrics:           metrics.New(),
	})
	return svc, inventoryCache
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func pharmacistCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "apoteker", Role: domain.RolePharmacist})
}

func intPtr(v int) *int {
	return &v
}

func money(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func submitParacetamol(t *testing.T, svc *Service, packs int) domain.StockEntry {
	t.Helper()
	entry, err := svc.SubmitStockEntry(pharmacistCtx(), domain.StockEntryInput{
		MedicineName:    "paracetamol 500MG",
		Packs:           intPtr(packs),
		UnitsPerPack:    intPtr(10),
		BuyPricePerPack: money("500"),
		UnitSalePrice:   money("65"),
		MinStock:        intPtr(20),
		ExpiryDate:      "2027-06-30",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return entry
}

func TestSubmitStockEntryDerivesAndStaysPending(t *testing.T) {
	svc, _ := newTestService(t)

	entry := submitParacetamol(t, svc, 10)

	if entry.Status != domain.StockStatusPending {
		t.Fatalf("expected pending, got %s", entry.Status)
	}
	if entry.MedicineID != "med-paracetamol-500" || entry.MedicineName != "Paracetamol 500mg" {
		t.Fatalf("expected seeded medicine to be matched case-insensitively, got %s %q", entry.MedicineID, entry.MedicineName)
	}
	if entry.TotalUnits != 100 {
		t.Fatalf("expected 100 units, got %d", entry.TotalUnits)
	}
	if !entry.UnitBuyPrice.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected unit buy price 50, got %s", entry.UnitBuyPrice)
	}
	if !entry.TotalBuyPrice.Equal(decimal.RequireFromString("5000")) {
		t.Fatalf("expected total buy price 5000, got %s", entry.TotalBuyPrice)
	}
	if !entry.SalePricePerPack.Valid || !entry.SalePricePerPack.Decimal.Equal(decimal.RequireFromString("650")) {
		t.Fatalf("expected sale price per pack 650, got %+v", entry.SalePricePerPack)
	}
	if entry.Source != domain.StockSourceManual || entry.CreatedBy != "apoteker" {
		t.Fatalf("unexpected source/creator %s/%s", entry.Source, entry.CreatedBy)
	}
}

func TestSubmitStockEntryCreatesMedicineOncePerName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := pharmacistCtx()

	first, err := svc.SubmitStockEntry(ctx, domain.StockEntryInput{
		MedicineName:    "Vitamin D3 1000IU",
		InvoiceNumber:   "INV-7781",
		SupplierName:    "PT Sehat Farma Distribusi",
		Packs:           intPtr(2),
		UnitsPerPack:    intPtr(30),
		UnitBuyPrice:    money("1200"),
		LastChanged:     "unit_buy_price",
		BuyPricePerPack: money("1"),
	})
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if !first.BuyPricePerPack.Equal(decimal.RequireFromString("36000")) {
		t.Fatalf("expected edited unit price to win, got pack price %s", first.BuyPricePerPack)
	}
	if first.Source != domain.StockSourceInvoice || first.SupplierID != "sup-sehat-farma" {
		t.Fatalf("unexpected source/supplier %s/%s", first.Source, first.SupplierID)
	}

	second, err := svc.SubmitStockEntry(ctx, domain.StockEntryInput{
		MedicineName:    "  VITAMIN d3   1000iu ",
		Packs:           intPtr(1),
		UnitsPerPack:    intPtr(30),
		BuyPricePerPack: money("36000"),
	})
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if second.MedicineID != first.MedicineID {
		t.Fatalf("expected one medicine, got %s and %s", first.MedicineID, second.MedicineID)
	}

	medicines, err := svc.ListMedicines(ctx, "vitamin d3", 10)
	if err != nil {
		t.Fatalf("list medicines failed: %v", err)
	}
	if len(medicines) != 1 {
		t.Fatalf("expected exactly one vitamin d3 medicine, got %d", len(medicines))
	}
}

func TestSubmitStockEntryValidation(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []struct {
		name  string
		field string
		input domain.StockEntryInput
	}{
		{
			name:  "missing medicine",
			field: "medicine_name",
			input: domain.StockEntryInput{Packs: intPtr(1), UnitsPerPack: intPtr(1), BuyPricePerPack: money("10")},
		},
		{
			name:  "missing packs",
			field: "packs",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", UnitsPerPack: intPtr(10), BuyPricePerPack: money("10")},
		},
		{
			name:  "zero units per pack",
			field: "units_per_pack",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", Packs: intPtr(1), UnitsPerPack: intPtr(0), BuyPricePerPack: money("10")},
		},
		{
			name:  "missing buy price",
			field: "buy_price_per_pack",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", Packs: intPtr(1), UnitsPerPack: intPtr(10)},
		},
		{
			name:  "negative price",
			field: "buy_price_per_pack",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", Packs: intPtr(1), UnitsPerPack: intPtr(10), BuyPricePerPack: money("-5")},
		},
		{
			name:  "bad expiry",
			field: "expiry_date",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", Packs: intPtr(1), UnitsPerPack: intPtr(10), BuyPricePerPack: money("10"), ExpiryDate: "30/06/2027"},
		},
		{
			name:  "unknown supplier",
			field: "supplier_id",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", SupplierID: "sup-missing", Packs: intPtr(1), UnitsPerPack: intPtr(10), BuyPricePerPack: money("10")},
		},
		{
			name:  "unknown hint",
			field: "last_changed",
			input: domain.StockEntryInput{MedicineName: "Asam Mefenamat", Packs: intPtr(1), UnitsPerPack: intPtr(10), BuyPricePerPack: money("10"), LastChanged: "price"},
		},
	}

	for _, tc := range cases {
		_, err := svc.SubmitStockEntry(pharmacistCtx(), tc.input)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("%s: expected field %s, got %s", tc.name, tc.field, verr.Field)
		}
	}

	medicines, err := svc.ListMedicines(pharmacistCtx(), "asam mefenamat", 10)
	if err != nil {
		t.Fatalf("list medicines failed: %v", err)
	}
	if len(medicines) != 0 {
		t.Fatalf("expected rejected submissions to leave no medicine behind, got %d", len(medicines))
	}

	if _, err := svc.SubmitStockEntry(context.Background(), domain.StockEntryInput{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
}

func TestSubmitLooseItems(t *testing.T) {
	svc, _ := newTestService(t)

	entry, err := svc.SubmitLooseItems(pharmacistCtx(), domain.LooseItemInput{
		MedicineID:    "med-cetirizine-10",
		Units:         7,
		UnitBuyPrice:  money("1500"),
		UnitSalePrice: money("2000"),
	})
	if err != nil {
		t.Fatalf("loose submit failed: %v", err)
	}
	if entry.UnitsPerPack != 1 || entry.Packs != 7 || entry.TotalUnits != 7 {
		t.Fatalf("unexpected loose quantities %+v", entry)
	}
	if !entry.BuyPricePerPack.Equal(decimal.RequireFromString("1500")) || !entry.TotalBuyPrice.Equal(decimal.RequireFromString("10500")) {
		t.Fatalf("unexpected loose prices pack=%s total=%s", entry.BuyPricePerPack, entry.TotalBuyPrice)
	}
	if entry.Source != domain.StockSourceLoose || entry.Status != domain.StockStatusPending {
		t.Fatalf("unexpected loose source/status %s/%s", entry.Source, entry.Status)
	}

	_, err = svc.SubmitLooseItems(pharmacistCtx(), domain.LooseItemInput{MedicineID: "med-cetirizine-10", Units: 0, UnitBuyPrice: money("1")})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "units" {
		t.Fatalf("expected units validation error, got %v", err)
	}
}

func TestApproveMakesStockVisibleAndIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	entry := submitParacetamol(t, svc, 10)

	view, err := svc.InventoryView(pharmacistCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 0 {
		t.Fatalf("pending stock must not be counted, got %d rows", view.Total)
	}

	approved, err := svc.ApproveStockEntry(adminCtx(), entry.ID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != domain.StockStatusApproved || approved.ReviewedBy != "admin" || approved.ReviewedAt == nil {
		t.Fatalf("unexpected approved entry %+v", approved)
	}

	again, err := svc.ApproveStockEntry(adminCtx(), entry.ID)
	if err != nil {
		t.Fatalf("second approve should be a no-op, got %v", err)
	}
	if !again.ReviewedAt.Equal(*approved.ReviewedAt) {
		t.Fatalf("second approve must not rewrite the entry")
	}

	view, err = svc.InventoryView(pharmacistCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 1 || view.Rows[0].TotalUnits != 100 {
		t.Fatalf("expected approved units in inventory, got %+v", view.Rows)
	}
	if !view.StockValue.Equal(decimal.RequireFromString("6500")) {
		t.Fatalf("expected stock value 6500, got %s", view.StockValue)
	}

	if _, err := svc.ApproveStockEntry(pharmacistCtx(), entry.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected pharmacist approve to be forbidden, got %v", err)
	}
	var nf *NotFoundError
	if _, err := svc.ApproveStockEntry(adminCtx(), "stk-missing"); !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRejectRetainsRecordButHidesIt(t *testing.T) {
	svc, _ := newTestService(t)
	entry := submitParacetamol(t, svc, 3)

	rejected, err := svc.RejectStockEntry(adminCtx(), entry.ID)
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != domain.StockStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if _, err := svc.RejectStockEntry(adminCtx(), entry.ID); err != nil {
		t.Fatalf("second reject should be a no-op, got %v", err)
	}

	pending, err := svc.ListStockEntries(pharmacistCtx(), "", 1, 25)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if pending.Total != 0 {
		t.Fatalf("expected no pending entries, got %d", pending.Total)
	}

	var stateErr *InvalidStateError
	if _, err := svc.ApproveStockEntry(adminCtx(), entry.ID); !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state approving rejected entry, got %v", err)
	}
	if _, err := svc.EditStockEntry(adminCtx(), entry.ID, domain.StockEntryPatch{Packs: intPtr(1)}); !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state editing rejected entry, got %v", err)
	}

	view, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 0 {
		t.Fatalf("rejected stock must not be counted")
	}

	kept, err := svc.GetStockEntry(adminCtx(), entry.ID)
	if err != nil || kept.Status != domain.StockStatusRejected {
		t.Fatalf("expected rejected record to be retained, got %v %+v", err, kept)
	}

	audit, err := svc.ListStockEntries(adminCtx(), "rejected", 1, 25)
	if err != nil {
		t.Fatalf("admin rejected listing failed: %v", err)
	}
	if audit.Total != 1 || audit.Items[0].ID != entry.ID {
		t.Fatalf("expected rejected entry in admin audit listing, got %+v", audit)
	}
	if _, err := svc.ListStockEntries(pharmacistCtx(), "rejected", 1, 25); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected pharmacist rejected listing to be forbidden, got %v", err)
	}
}

func TestRejectApprovedEntryIsInvalidState(t *testing.T) {
	svc, _ := newTestService(t)
	entry := submitParacetamol(t, svc, 3)
	if _, err := svc.ApproveStockEntry(adminCtx(), entry.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	_, err := svc.RejectStockEntry(adminCtx(), entry.ID)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if stateErr.Status != domain.StockStatusApproved || stateErr.Op != "reject" {
		t.Fatalf("unexpected state error %+v", stateErr)
	}
}

func TestEditPendingRederivesPrices(t *testing.T) {
	svc, _ := newTestService(t)
	entry := submitParacetamol(t, svc, 10)

	edited, err := svc.EditPending(pharmacistCtx(), entry.ID, domain.StockEntryPatch{
		UnitBuyPrice: money("60"),
		Packs:        intPtr(12),
	})
	if err != nil {
		t.Fatalf("edit pending failed: %v", err)
	}
	if edited.Status != domain.StockStatusPending {
		t.Fatalf("edit must not change status, got %s", edited.Status)
	}
	if !edited.BuyPricePerPack.Equal(decimal.RequireFromString("600")) {
		t.Fatalf("expected pack price 600 from unit price, got %s", edited.BuyPricePerPack)
	}
	if edited.TotalUnits != 120 || !edited.TotalBuyPrice.Equal(decimal.RequireFromString("7200")) {
		t.Fatalf("unexpected totals units=%d buy=%s", edited.TotalUnits, edited.TotalBuyPrice)
	}

	byTotal, err := svc.EditPending(pharmacistCtx(), entry.ID, domain.StockEntryPatch{TotalBuyPrice: money("6000")})
	if err != nil {
		t.Fatalf("edit by total failed: %v", err)
	}
	if !byTotal.BuyPricePerPack.Equal(decimal.RequireFromString("500")) || !byTotal.UnitBuyPrice.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected total buy price to drive pack price, got pack=%s unit=%s", byTotal.BuyPricePerPack, byTotal.UnitBuyPrice)
	}

	var stateErr *InvalidStateError
	if _, err := svc.EditApproved(adminCtx(), entry.ID, domain.StockEntryPatch{Packs: intPtr(1)}); !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state for edit approved on pending entry, got %v", err)
	}
}

func TestEditApprovedRefreshesInventory(t *testing.T) {
	svc, inventoryCache := newTestService(t)
	entry := submitParacetamol(t, svc, 10)
	if _, err := svc.ApproveStockEntry(adminCtx(), entry.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	var changes []domain.InventoryChange
	inventoryCache.OnChange(func(change domain.InventoryChange) {
		changes = append(changes, change)
	})

	if _, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{}); err != nil {
		t.Fatalf("warm inventory view failed: %v", err)
	}

	if _, err := svc.EditStockEntry(pharmacistCtx(), entry.ID, domain.StockEntryPatch{Packs: intPtr(5)}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected pharmacist edit of approved stock to be forbidden, got %v", err)
	}

	edited, err := svc.EditStockEntry(adminCtx(), entry.ID, domain.StockEntryPatch{Packs: intPtr(5)})
	if err != nil {
		t.Fatalf("edit approved failed: %v", err)
	}
	if edited.Status != domain.StockStatusApproved || edited.TotalUnits != 50 {
		t.Fatalf("unexpected edited entry %+v", edited)
	}
	if len(changes) != 1 || changes[0].Action != "edit" || changes[0].EntryID != entry.ID {
		t.Fatalf("expected one edit change signal, got %+v", changes)
	}

	view, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Rows[0].TotalUnits != 50 {
		t.Fatalf("expected refreshed units 50, got %d", view.Rows[0].TotalUnits)
	}
}

func TestDeleteApprovedEntryRemovesStock(t *testing.T) {
	svc, _ := newTestService(t)
	entry := submitParacetamol(t, svc, 4)
	if _, err := svc.ApproveStockEntry(adminCtx(), entry.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if err := svc.DeleteStockEntry(pharmacistCtx(), entry.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected pharmacist delete to be forbidden, got %v", err)
	}
	if err := svc.DeleteStockEntry(adminCtx(), entry.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	view, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 0 {
		t.Fatalf("expected deleted stock to leave inventory, got %d rows", view.Total)
	}

	var nf *NotFoundError
	if err := svc.DeleteStockEntry(adminCtx(), entry.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestBulkApproveIsolatesFailures(t *testing.T) {
	svc, _ := newTestService(t)
	good := submitParacetamol(t, svc, 2)
	other := submitParacetamol(t, svc, 3)
	rejected := submitParacetamol(t, svc, 1)
	if _, err := svc.RejectStockEntry(adminCtx(), rejected.ID); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	result, err := svc.BulkApprove(adminCtx(), []string{good.ID, "stk-missing", good.ID, " ", rejected.ID, other.ID})
	if err != nil {
		t.Fatalf("bulk approve failed: %v", err)
	}
	if len(result.Succeeded) != 2 || result.Succeeded[0] != good.ID || result.Succeeded[1] != other.ID {
		t.Fatalf("unexpected succeeded ids %v", result.Succeeded)
	}
	if len(result.Failed) != 4 {
		t.Fatalf("expected 4 failures, got %+v", result.Failed)
	}

	view, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Rows[0].TotalUnits != 50 || view.Rows[0].EntryCount != 2 {
		t.Fatalf("expected two merged approved entries, got %+v", view.Rows[0])
	}

	if _, err := svc.BulkReject(adminCtx(), nil); err == nil {
		t.Fatalf("expected validation error for empty bulk request")
	}
	if _, err := svc.BulkReject(pharmacistCtx(), []string{good.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected pharmacist bulk reject to be forbidden, got %v", err)
	}
}

func TestInventoryViewFlagsAndReorderSuggestions(t *testing.T) {
	svc, _ := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	ctx := pharmacistCtx()

	low, err := svc.SubmitStockEntry(ctx, domain.StockEntryInput{
		MedicineID:      "med-amoxicillin-500",
		Packs:           intPtr(1),
		UnitsPerPack:    intPtr(10),
		BuyPricePerPack: money("12000"),
		MinStock:        intPtr(20),
		ExpiryDate:      "2026-03-20",
	})
	if err != nil {
		t.Fatalf("submit low failed: %v", err)
	}
	healthy, err := svc.SubmitStockEntry(ctx, domain.StockEntryInput{
		MedicineID:      "med-omeprazole-20",
		Packs:           intPtr(10),
		UnitsPerPack:    intPtr(10),
		BuyPricePerPack: money("9000"),
		MinStock:        intPtr(10),
		ExpiryDate:      "2027-12-31",
	})
	if err != nil {
		t.Fatalf("submit healthy failed: %v", err)
	}
	if _, err := svc.BulkApprove(adminCtx(), []string{low.ID, healthy.ID}); err != nil {
		t.Fatalf("bulk approve failed: %v", err)
	}

	view, err := svc.InventoryView(ctx, domain.InventoryQuery{Flag: "low_stock"})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 1 || view.Rows[0].MedicineID != "med-amoxicillin-500" {
		t.Fatalf("expected only amoxicillin to be low, got %+v", view.Rows)
	}
	row := view.Rows[0]
	if !row.ExpiringSoon || row.Badge != domain.BadgeLowStock || row.DaysUntilExpiry == nil || *row.DaysUntilExpiry != 19 {
		t.Fatalf("unexpected flags %+v", row)
	}

	if _, err := svc.InventoryView(ctx, domain.InventoryQuery{Flag: "bogus"}); err == nil {
		t.Fatalf("expected unknown flag to be rejected")
	}

	suggestions, err := svc.ReorderSuggestions(ctx)
	if err != nil {
		t.Fatalf("reorder suggestions failed: %v", err)
	}
	if len(suggestions.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %+v", suggestions.Suggestions)
	}
	suggestion := suggestions.Suggestions[0]
	if suggestion.TargetUnits != 40 || suggestion.RecommendedPacks != 3 {
		t.Fatalf("unexpected suggestion %+v", suggestion)
	}
	if !suggestion.EstimatedPurchase.Equal(decimal.RequireFromString("36000")) {
		t.Fatalf("expected estimated purchase 36000, got %s", suggestion.EstimatedPurchase)
	}
}

func TestCatalogRequiresAdminAndRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateMedicine(pharmacistCtx(), domain.MedicineCreateRequest{Name: "Loratadine 10mg"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	created, err := svc.CreateMedicine(adminCtx(), domain.MedicineCreateRequest{Name: "Loratadine  10mg", Category: "Antihistamine"})
	if err != nil {
		t.Fatalf("create medicine failed: %v", err)
	}
	if created.Name != "Loratadine 10mg" {
		t.Fatalf("expected cleaned name, got %q", created.Name)
	}

	var verr *ValidationError
	if _, err := svc.CreateMedicine(adminCtx(), domain.MedicineCreateRequest{Name: "LORATADINE 10MG"}); !errors.As(err, &verr) {
		t.Fatalf("expected duplicate medicine validation error, got %v", err)
	}
	if _, err := svc.CreateSupplier(adminCtx(), domain.SupplierCreateRequest{Name: "cv medika jaya"}); !errors.As(err, &verr) {
		t.Fatalf("expected duplicate supplier validation error, got %v", err)
	}

	suppliers, err := svc.ListSuppliers(pharmacistCtx())
	if err != nil || len(suppliers) != 2 {
		t.Fatalf("expected two seeded suppliers, got %v %d", err, len(suppliers))
	}
}

func TestTransitionsWriteAuditLogs(t *testing.T) {
	svc, _ := newTestService(t)
	entry := submitParacetamol(t, svc, 2)
	if _, err := svc.ApproveStockEntry(adminCtx(), entry.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := make(map[string]bool)
	for _, log := range logs {
		actions[log.Action] = true
	}
	if !actions["stock_entry_submit"] || !actions["stock_entry_approve"] {
		t.Fatalf("expected submit and approve audit entries, got %+v", logs)
	}

	if _, err := svc.ListAuditLogs(pharmacistCtx(), "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected pharmacist audit access to be forbidden, got %v", err)
	}
	if _, err := svc.ListAuditLogs(adminCtx(), "yesterday", 10); err == nil {
		t.Fatalf("expected invalid date to fail")
	}
}

type unavailableRepo struct {
	store.Repository
}

func (unavailableRepo) GetStockEntry(context.Context, string) (*domain.StockEntry, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func (unavailableRepo) ListStockEntries(context.Context, domain.StockStatus) ([]domain.StockEntry, error) {
	return nil, context.DeadlineExceeded
}

func TestStoreFailuresBecomeStoreUnavailable(t *testing.T) {
	svc := New(unavailableRepo{Repository: memory.NewSeeded(zerolog.Nop())}, nil, nil, Options{Logger: zerolog.Nop()})

	_, err := svc.ApproveStockEntry(adminCtx(), "stk-any")
	var unavailable *StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if unavailable.Op != "approve" {
		t.Fatalf("unexpected op %q", unavailable.Op)
	}

	_, err = svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if !errors.As(err, &unavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
}

// flippingRepo runs hook once, right after the first stock entry is read, to
// stand in for a request that lands between load and write.
type flippingRepo struct {
	store.Repository
	hook func(entry *domain.StockEntry)
}

func (r *flippingRepo) GetStockEntry(ctx context.Context, id string) (*domain.StockEntry, error) {
	entry, err := r.Repository.GetStockEntry(ctx, id)
	if hook := r.hook; hook != nil && err == nil {
		r.hook = nil
		hook(entry)
	}
	return entry, err
}

func newFlippingService(t *testing.T) (*Service, *flippingRepo) {
	t.Helper()
	repo := &flippingRepo{Repository: memory.NewSeeded(zerolog.Nop())}
	svc := New(repo, cache.NewMemoryInventoryCache(), reorder.NewEngine(2), Options{
		StoreTimeout: time.Second,
		Logger:       zerolog.Nop(),
		Metrics:      metrics.New(),
	})
	return svc, repo
}

func TestRejectLosingRaceToApproveKeepsEntryApproved(t *testing.T) {
	svc, repo := newFlippingService(t)
	entry := submitParacetamol(t, svc, 4)

	repo.hook = func(loaded *domain.StockEntry) {
		if _, err := repo.Repository.SetStockEntryStatus(context.Background(), loaded.ID, domain.StockStatusPending, domain.StockStatusApproved, "other-admin", time.Now()); err != nil {
			t.Fatalf("concurrent approve failed: %v", err)
		}
	}

	_, err := svc.RejectStockEntry(adminCtx(), entry.ID)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if stateErr.Status != domain.StockStatusApproved {
		t.Fatalf("expected conflict to report approved status, got %+v", stateErr)
	}

	stored, err := svc.GetStockEntry(adminCtx(), entry.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.StockStatusApproved || stored.ReviewedBy != "other-admin" {
		t.Fatalf("expected the concurrent approval to stand, got %+v", stored)
	}

	view, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 1 || view.Rows[0].TotalUnits != 40 {
		t.Fatalf("expected approved units to stay counted, got %+v", view.Rows)
	}
}

func TestConcurrentApproveIsIdempotent(t *testing.T) {
	svc, repo := newFlippingService(t)
	entry := submitParacetamol(t, svc, 2)

	repo.hook = func(loaded *domain.StockEntry) {
		if _, err := repo.Repository.SetStockEntryStatus(context.Background(), loaded.ID, domain.StockStatusPending, domain.StockStatusApproved, "other-admin", time.Now()); err != nil {
			t.Fatalf("concurrent approve failed: %v", err)
		}
	}

	approved, err := svc.ApproveStockEntry(adminCtx(), entry.ID)
	if err != nil {
		t.Fatalf("expected approve of an already approved entry to succeed, got %v", err)
	}
	if approved.Status != domain.StockStatusApproved || approved.ReviewedBy != "other-admin" {
		t.Fatalf("expected stored approval to be returned unchanged, got %+v", approved)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	for _, log := range logs {
		if log.Action == "stock_entry_approve" {
			t.Fatalf("losing approve must not write an audit entry, got %+v", log)
		}
	}
}

// buildRacingRepo runs hook once, after the approved entries for an inventory
// build were read.
type buildRacingRepo struct {
	store.Repository
	hook func()
}

func (r *buildRacingRepo) ListStockEntries(ctx context.Context, status domain.StockStatus) ([]domain.StockEntry, error) {
	entries, err := r.Repository.ListStockEntries(ctx, status)
	if hook := r.hook; hook != nil {
		r.hook = nil
		hook()
	}
	return entries, err
}

func TestApproveDuringInventoryBuildIsNotHiddenByCache(t *testing.T) {
	repo := &buildRacingRepo{Repository: memory.NewSeeded(zerolog.Nop())}
	svc := New(repo, cache.NewMemoryInventoryCache(), reorder.NewEngine(2), Options{
		StoreTimeout:      time.Second,
		InventoryCacheTTL: time.Hour,
		Logger:            zerolog.Nop(),
		Metrics:           metrics.New(),
	})

	first := submitParacetamol(t, svc, 10)
	second := submitParacetamol(t, svc, 5)
	if _, err := svc.ApproveStockEntry(adminCtx(), first.ID); err != nil {
		t.Fatalf("approve first failed: %v", err)
	}

	repo.hook = func() {
		if _, err := svc.ApproveStockEntry(adminCtx(), second.ID); err != nil {
			t.Fatalf("approve during build failed: %v", err)
		}
	}
	view, err := svc.InventoryView(pharmacistCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 1 || view.Rows[0].TotalUnits != 100 {
		t.Fatalf("expected the in-flight build to see only the first entry, got %+v", view.Rows)
	}

	view, err = svc.InventoryView(pharmacistCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 1 || view.Rows[0].TotalUnits != 150 {
		t.Fatalf("expected both approvals once the build finished, got %+v", view.Rows)
	}
}

func TestBulkRejectReportsPerIDOutcome(t *testing.T) {
	svc, _ := newTestService(t)
	pending := submitParacetamol(t, svc, 1)
	approved := submitParacetamol(t, svc, 2)
	if _, err := svc.ApproveStockEntry(adminCtx(), approved.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	result, err := svc.BulkReject(adminCtx(), []string{pending.ID, approved.ID, "stk-missing"})
	if err != nil {
		t.Fatalf("bulk reject failed: %v", err)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != pending.ID {
		t.Fatalf("expected only the pending entry to be rejected, got %v", result.Succeeded)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %+v", result.Failed)
	}
	failures := make(map[string]string, len(result.Failed))
	for _, f := range result.Failed {
		failures[f.ID] = f.Error
	}
	if !strings.Contains(failures[approved.ID], "status is approved") {
		t.Fatalf("expected invalid state for approved entry, got %q", failures[approved.ID])
	}
	if !strings.Contains(failures["stk-missing"], "not found") {
		t.Fatalf("expected not found for unknown entry, got %q", failures["stk-missing"])
	}

	stillApproved, err := svc.GetStockEntry(adminCtx(), approved.ID)
	if err != nil || stillApproved.Status != domain.StockStatusApproved {
		t.Fatalf("approved entry must survive bulk reject, got %v %+v", err, stillApproved)
	}
	view, err := svc.InventoryView(adminCtx(), domain.InventoryQuery{})
	if err != nil {
		t.Fatalf("inventory view failed: %v", err)
	}
	if view.Total != 1 || view.Rows[0].TotalUnits != 20 {
		t.Fatalf("expected approved units to stay counted, got %+v", view.Rows)
	}
}
