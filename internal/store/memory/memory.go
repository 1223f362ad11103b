package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"medstock/backend/internal/domain"
	"medstock/backend/internal/store"
	"medstock/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	medicinesByID    map[string]domain.Medicine
	medicineIDByKey  map[string]string
	suppliersByID    map[string]domain.Supplier
	supplierIDByKey  map[string]string
	stockEntriesByID map[string]domain.StockEntry
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD; when
// unset, dev defaults are used and a warning is logged. The memory store is
// never selected when a database driver is configured.
func seedUsers(logger zerolog.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	pharmacistPwd := envOr("SEED_PHARMACIST_PASSWORD", "pharmacist123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PHARMACIST_PASSWORD") == "" {
		logger.Warn().Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"pharmacist", pharmacistPwd, domain.RolePharmacist},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded(logger zerolog.Logger) *Store {
	logger = logger.With().Str("component", "memory-store").Logger()
	now := time.Now().UTC()

	medicines := []domain.Medicine{
		{ID: "med-paracetamol-500", Name: "Paracetamol 500mg", GenericName: "Paracetamol", Category: "Analgesic", Manufacturer: "Kimia Farma"},
		{ID: "med-amoxicillin-500", Name: "Amoxicillin 500mg", GenericName: "Amoxicillin", Category: "Antibiotic", Manufacturer: "Indofarma"},
		{ID: "med-cetirizine-10", Name: "Cetirizine 10mg", GenericName: "Cetirizine", Category: "Antihistamine", Manufacturer: "Dexa Medica"},
		{ID: "med-omeprazole-20", Name: "Omeprazole 20mg", GenericName: "Omeprazole", Category: "Antacid", Manufacturer: "Hexpharm"},
		{ID: "med-ors-sachet", Name: "Oralit Sachet", GenericName: "Oral Rehydration Salts", Category: "Electrolyte", Manufacturer: "Pharos"},
	}
	suppliers := []domain.Supplier{
		{ID: "sup-sehat-farma", Name: "PT Sehat Farma Distribusi", Phone: "021-5550101"},
		{ID: "sup-medika-jaya", Name: "CV Medika Jaya", Phone: "022-5550177"},
	}

	s := &Store{
		medicinesByID:    make(map[string]domain.Medicine, len(medicines)),
		medicineIDByKey:  make(map[string]string, len(medicines)),
		suppliersByID:    make(map[string]domain.Supplier, len(suppliers)),
		supplierIDByKey:  make(map[string]string, len(suppliers)),
		stockEntriesByID: make(map[string]domain.StockEntry),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(logger),
	}
	for _, m := range medicines {
		m.NameKey = domain.NameKey(m.Name)
		m.CreatedAt = now
		s.medicinesByID[m.ID] = m
		s.medicineIDByKey[m.NameKey] = m.ID
	}
	for _, sup := range suppliers {
		sup.NameKey = domain.NameKey(sup.Name)
		sup.CreatedAt = now
		s.suppliersByID[sup.ID] = sup
		s.supplierIDByKey[sup.NameKey] = sup.ID
	}
	return s
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	medicine.Name = domain.CleanName(medicine.Name)
	if medicine.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	medicine.NameKey = domain.NameKey(medicine.Name)
	if _, exists := s.medicineIDByKey[medicine.NameKey]; exists {
		return nil, store.ErrDuplicate
	}
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	if _, exists := s.medicinesByID[medicine.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = time.Now().UTC()
	}

	s.medicinesByID[medicine.ID] = medicine
	s.medicineIDByKey[medicine.NameKey] = medicine.ID
	copyMedicine := medicine
	return &copyMedicine, nil
}

func (s *Store) GetMedicineByID(_ context.Context, id string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medicine, exists := s.medicinesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &medicine, nil
}

func (s *Store) FindMedicineByNameKey(_ context.Context, nameKey string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.medicineIDByKey[nameKey]
	if !exists {
		return nil, store.ErrNotFound
	}
	medicine := s.medicinesByID[id]
	return &medicine, nil
}

func (s *Store) ListMedicines(_ context.Context, search string, limit int) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := domain.NameKey(search)
	medicines := make([]domain.Medicine, 0, len(s.medicinesByID))
	for _, medicine := range s.medicinesByID {
		if needle != "" && !strings.Contains(medicine.NameKey, needle) && !strings.Contains(domain.NameKey(medicine.GenericName), needle) {
			continue
		}
		medicines = append(medicines, medicine)
	}
	slices.SortFunc(medicines, func(a, b domain.Medicine) int {
		if a.NameKey == b.NameKey {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.NameKey, b.NameKey)
	})
	if limit > 0 && len(medicines) > limit {
		medicines = medicines[:limit]
	}
	return medicines, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = domain.CleanName(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	supplier.NameKey = domain.NameKey(supplier.Name)
	if _, exists := s.supplierIDByKey[supplier.NameKey]; exists {
		return nil, store.ErrDuplicate
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliersByID[supplier.ID] = supplier
	s.supplierIDByKey[supplier.NameKey] = supplier.ID
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) FindSupplierByNameKey(_ context.Context, nameKey string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.supplierIDByKey[nameKey]
	if !exists {
		return nil, store.ErrNotFound
	}
	supplier := s.suppliersByID[id]
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.NameKey == b.NameKey {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.NameKey, b.NameKey)
	})
	return suppliers, nil
}

func (s *Store) CreateStockEntry(_ context.Context, entry domain.StockEntry) (*domain.StockEntry, error) {
	if !store.HasMedicineIdentity(entry) {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	entry.ID = xid.New("stk")
	entry.Status = domain.StockStatusPending
	entry.ReviewedBy = ""
	entry.ReviewedAt = nil
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt

	s.stockEntriesByID[entry.ID] = cloneStockEntry(entry)
	created := cloneStockEntry(entry)
	return &created, nil
}

func (s *Store) GetStockEntry(_ context.Context, id string) (*domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.stockEntriesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneStockEntry(entry)
	return &found, nil
}

func (s *Store) ListStockEntriesByStatus(_ context.Context, status domain.StockStatus, page int, pageSize int) ([]domain.StockEntry, int, error) {
	if !status.Valid() || pageSize < 1 {
		return nil, 0, store.ErrInvalidRecord
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filterStockEntries(status)
	total := len(matched)
	start := store.Offset(page, pageSize)
	if start >= total {
		return []domain.StockEntry{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) ListStockEntries(_ context.Context, status domain.StockStatus) ([]domain.StockEntry, error) {
	if status != "" && !status.Valid() {
		return nil, store.ErrInvalidRecord
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterStockEntries(status), nil
}

// filterStockEntries expects the read lock to be held.
func (s *Store) filterStockEntries(status domain.StockStatus) []domain.StockEntry {
	result := make([]domain.StockEntry, 0, len(s.stockEntriesByID))
	for _, entry := range s.stockEntriesByID {
		if status != "" && entry.Status != status {
			continue
		}
		result = append(result, cloneStockEntry(entry))
	}
	slices.SortFunc(result, func(a, b domain.StockEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result
}

func (s *Store) UpdateStockEntry(_ context.Context, entry domain.StockEntry) (*domain.StockEntry, error) {
	if !store.HasMedicineIdentity(entry) {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.stockEntriesByID[entry.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	entry.Status = current.Status
	entry.ReviewedBy = current.ReviewedBy
	entry.ReviewedAt = current.ReviewedAt
	entry.CreatedAt = current.CreatedAt
	entry.CreatedBy = current.CreatedBy
	entry.UpdatedAt = time.Now().UTC()

	s.stockEntriesByID[entry.ID] = cloneStockEntry(entry)
	updated := cloneStockEntry(entry)
	return &updated, nil
}

func (s *Store) SetStockEntryStatus(_ context.Context, id string, from domain.StockStatus, to domain.StockStatus, reviewedBy string, at time.Time) (*domain.StockEntry, error) {
	if !from.Valid() || !to.Valid() {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.stockEntriesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if entry.Status != from {
		return nil, store.ErrStatusConflict
	}
	at = at.UTC()
	entry.Status = to
	entry.ReviewedBy = reviewedBy
	entry.ReviewedAt = &at
	entry.UpdatedAt = at

	s.stockEntriesByID[id] = entry
	updated := cloneStockEntry(entry)
	return &updated, nil
}

func (s *Store) DeleteStockEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stockEntriesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.stockEntriesByID, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RolePharmacist
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneStockEntry(src domain.StockEntry) domain.StockEntry {
	dst := src
	if src.ExpiryDate != nil {
		exp := *src.ExpiryDate
		dst.ExpiryDate = &exp
	}
	if src.ReviewedAt != nil {
		reviewed := *src.ReviewedAt
		dst.ReviewedAt = &reviewed
	}
	return dst
}
