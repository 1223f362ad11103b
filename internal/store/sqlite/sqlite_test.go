package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"medstock/backend/internal/domain"
	"medstock/backend/internal/store"
	"medstock/backend/internal/store/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	s, err := New(ctx, filepath.Join(t.TempDir(), "medstock.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if _, err := migrations.New(s.DB(), migrations.SQLite).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStockEntryLifecycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	medicine, err := s.CreateMedicine(ctx, domain.Medicine{Name: "Paracetamol 500mg", Category: "Analgesic"})
	if err != nil {
		t.Fatalf("create medicine: %v", err)
	}

	expiry := time.Date(2027, 5, 31, 0, 0, 0, 0, time.UTC)
	created, err := s.CreateStockEntry(ctx, domain.StockEntry{
		MedicineID:      medicine.ID,
		MedicineName:    medicine.Name,
		InvoiceNumber:   "INV-001",
		Packs:           10,
		UnitsPerPack:    10,
		TotalUnits:      100,
		BuyPricePerPack: decimal.RequireFromString("500"),
		UnitBuyPrice:    decimal.RequireFromString("50"),
		TotalBuyPrice:   decimal.RequireFromString("5000"),
		UnitSalePrice:   decimal.NewNullDecimal(decimal.RequireFromString("65.50")),
		ExpiryDate:      &expiry,
		Source:          domain.StockSourceInvoice,
		CreatedBy:       "pharmacist",
	})
	if err != nil {
		t.Fatalf("create stock entry: %v", err)
	}
	if created.Status != domain.StockStatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	loaded, err := s.GetStockEntry(ctx, created.ID)
	if err != nil {
		t.Fatalf("get stock entry: %v", err)
	}
	if !loaded.UnitSalePrice.Valid || !loaded.UnitSalePrice.Decimal.Equal(decimal.RequireFromString("65.5")) {
		t.Fatalf("unexpected unit sale price %+v", loaded.UnitSalePrice)
	}
	if loaded.SalePricePerPack.Valid {
		t.Fatalf("expected unknown sale price per pack, got %s", loaded.SalePricePerPack.Decimal)
	}
	if loaded.ExpiryDate == nil || !loaded.ExpiryDate.Equal(expiry) {
		t.Fatalf("unexpected expiry %v", loaded.ExpiryDate)
	}

	reviewedAt := time.Now().UTC()
	approved, err := s.SetStockEntryStatus(ctx, created.ID, domain.StockStatusPending, domain.StockStatusApproved, "admin", reviewedAt)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StockStatusApproved || approved.ReviewedBy != "admin" || approved.ReviewedAt == nil {
		t.Fatalf("unexpected approved entry %+v", approved)
	}
	if _, err := s.SetStockEntryStatus(ctx, created.ID, domain.StockStatusPending, domain.StockStatusRejected, "admin", reviewedAt); !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("expected status conflict rejecting an approved entry, got %v", err)
	}
	if _, err := s.SetStockEntryStatus(ctx, "stk-missing", domain.StockStatusPending, domain.StockStatusRejected, "admin", reviewedAt); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown entry, got %v", err)
	}

	pending, total, err := s.ListStockEntriesByStatus(ctx, domain.StockStatusPending, 1, 25)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if total != 0 || len(pending) != 0 {
		t.Fatalf("expected no pending entries, got %d", total)
	}

	loaded.Packs = 12
	loaded.TotalUnits = 120
	updated, err := s.UpdateStockEntry(ctx, *loaded)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TotalUnits != 120 || updated.Status != domain.StockStatusApproved {
		t.Fatalf("unexpected updated entry %+v", updated)
	}

	if err := s.DeleteStockEntry(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteStockEntry(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListStockEntriesByStatusOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	var newest string
	for i := 0; i < 3; i++ {
		created, err := s.CreateStockEntry(ctx, domain.StockEntry{
			MedicineName: "Loose Vitamin C",
			Packs:        i + 1,
			UnitsPerPack: 1,
			TotalUnits:   i + 1,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		newest = created.ID
	}

	page, total, err := s.ListStockEntriesByStatus(ctx, domain.StockStatusPending, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(page), total)
	}
	if page[0].ID != newest {
		t.Fatalf("expected newest first, got %s", page[0].ID)
	}

	all, err := s.ListStockEntries(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}

func TestMedicineAndSupplierUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateMedicine(ctx, domain.Medicine{Name: "Amoxicillin 500mg"}); err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	if _, err := s.CreateMedicine(ctx, domain.Medicine{Name: "AMOXICILLIN  500MG"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate medicine, got %v", err)
	}
	found, err := s.FindMedicineByNameKey(ctx, domain.NameKey("amoxicillin 500mg"))
	if err != nil || found.Name != "Amoxicillin 500mg" {
		t.Fatalf("find medicine: %v %+v", err, found)
	}
	list, err := s.ListMedicines(ctx, "amox", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list medicines: %v %d", err, len(list))
	}

	if _, err := s.CreateSupplier(ctx, domain.Supplier{Name: "CV Medika Jaya"}); err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	if _, err := s.CreateSupplier(ctx, domain.Supplier{Name: "cv medika jaya"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate supplier, got %v", err)
	}
	if _, err := s.GetSupplierByID(ctx, "sup-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found supplier, got %v", err)
	}
}

func TestUsersAndAuditLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, domain.UserAccount{Username: "Apoteker1", Password: "hash", Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "apoteker1", Password: "hash"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate user, got %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 1 || users[0].Role != domain.RolePharmacist || !users[0].Active {
		t.Fatalf("unexpected users %v %+v", err, users)
	}
	if err := s.UpdateUserPassword(ctx, "ghost", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	now := time.Now().UTC()
	if err := s.CreateAuditLog(ctx, domain.AuditLog{ActorUsername: "admin", ActorRole: "admin", Action: "stock_entry_approve", EntityType: "stock_entry", EntityID: "stk-1", CreatedAt: now}); err != nil {
		t.Fatalf("create audit log: %v", err)
	}
	logs, err := s.ListAuditLogs(ctx, now.Add(-time.Hour), now.Add(time.Hour), 10)
	if err != nil || len(logs) != 1 || logs[0].Action != "stock_entry_approve" {
		t.Fatalf("unexpected audit logs %v %+v", err, logs)
	}
}
