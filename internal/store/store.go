package store

import (
	"context"
	"errors"
	"math"
	"time"

	"medstock/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
	ErrDuplicate     = errors.New("duplicate record")

	// ErrStatusConflict means the entry no longer has the status the caller
	// expected when it asked for a transition.
	ErrStatusConflict = errors.New("stock entry status changed")
)

type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	GetMedicineByID(ctx context.Context, id string) (*domain.Medicine, error)
	FindMedicineByNameKey(ctx context.Context, nameKey string) (*domain.Medicine, error)
	ListMedicines(ctx context.Context, search string, limit int) ([]domain.Medicine, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)
	FindSupplierByNameKey(ctx context.Context, nameKey string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	// CreateStockEntry assigns a new id and stores the entry as pending.
	CreateStockEntry(ctx context.Context, entry domain.StockEntry) (*domain.StockEntry, error)
	GetStockEntry(ctx context.Context, id string) (*domain.StockEntry, error)
	// ListStockEntriesByStatus returns one page (1-based), newest first, and the
	// total number of entries with that status.
	ListStockEntriesByStatus(ctx context.Context, status domain.StockStatus, page int, pageSize int) ([]domain.StockEntry, int, error)
	// ListStockEntries returns every entry with the status, or all entries
	// when status is empty.
	ListStockEntries(ctx context.Context, status domain.StockStatus) ([]domain.StockEntry, error)
	// UpdateStockEntry replaces the stored quantities, prices and details of an
	// entry. Status and review fields are not touched.
	UpdateStockEntry(ctx context.Context, entry domain.StockEntry) (*domain.StockEntry, error)
	// SetStockEntryStatus moves an entry from status from to status to. It
	// returns ErrStatusConflict when the stored status is no longer from.
	SetStockEntryStatus(ctx context.Context, id string, from domain.StockStatus, to domain.StockStatus, reviewedBy string, at time.Time) (*domain.StockEntry, error)
	DeleteStockEntry(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// HasMedicineIdentity reports whether an entry can be tied to a medicine.
func HasMedicineIdentity(entry domain.StockEntry) bool {
	return domain.CleanName(entry.MedicineID) != "" || domain.CleanName(entry.MedicineName) != ""
}

// Offset converts a 1-based page into a row offset. Offsets that would
// overflow saturate at math.MaxInt, which selects no rows.
func Offset(page int, pageSize int) int {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0
	}
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}
