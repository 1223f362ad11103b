package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"medstock/backend/internal/domain"
	"medstock/backend/internal/store"
	"medstock/backend/internal/xid"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sqlx.DB
}

// New opens (creating if needed) the database file at path. SQLite allows a
// single writer, so the pool is limited to one connection.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for schema migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type medicineRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	NameKey      string    `db:"name_key"`
	GenericName  string    `db:"generic_name"`
	Manufacturer string    `db:"manufacturer"`
	Category     string    `db:"category"`
	Barcode      string    `db:"barcode"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r medicineRow) toDomain() domain.Medicine {
	return domain.Medicine{
		ID:           r.ID,
		Name:         r.Name,
		NameKey:      r.NameKey,
		GenericName:  r.GenericName,
		Manufacturer: r.Manufacturer,
		Category:     r.Category,
		Barcode:      r.Barcode,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

const medicineColumns = `id, name, name_key, generic_name, manufacturer, category, barcode, created_at`

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	medicine.Name = domain.CleanName(medicine.Name)
	if medicine.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	medicine.NameKey = domain.NameKey(medicine.Name)
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO medicines (`+medicineColumns+`)
		VALUES (:id, :name, :name_key, :generic_name, :manufacturer, :category, :barcode, :created_at)
	`, medicineRow{
		ID:           medicine.ID,
		Name:         medicine.Name,
		NameKey:      medicine.NameKey,
		GenericName:  medicine.GenericName,
		Manufacturer: medicine.Manufacturer,
		Category:     medicine.Category,
		Barcode:      medicine.Barcode,
		CreatedAt:    medicine.CreatedAt,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := medicine
	return &created, nil
}

func (s *Store) GetMedicineByID(ctx context.Context, id string) (*domain.Medicine, error) {
	return s.getMedicine(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = ?`, id)
}

func (s *Store) FindMedicineByNameKey(ctx context.Context, nameKey string) (*domain.Medicine, error) {
	return s.getMedicine(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE name_key = ?`, nameKey)
}

func (s *Store) getMedicine(ctx context.Context, query string, arg any) (*domain.Medicine, error) {
	var row medicineRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	medicine := row.toDomain()
	return &medicine, nil
}

func (s *Store) ListMedicines(ctx context.Context, search string, limit int) ([]domain.Medicine, error) {
	if limit < 1 {
		limit = 100
	}
	needle := "%" + domain.NameKey(search) + "%"

	var rows []medicineRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+medicineColumns+`
		FROM medicines
		WHERE name_key LIKE ? OR lower(generic_name) LIKE ?
		ORDER BY name_key, id
		LIMIT ?
	`, needle, needle, limit)
	if err != nil {
		return nil, err
	}

	medicines := make([]domain.Medicine, 0, len(rows))
	for _, row := range rows {
		medicines = append(medicines, row.toDomain())
	}
	return medicines, nil
}

type supplierRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	NameKey   string         `db:"name_key"`
	Phone     sql.NullString `db:"phone"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r supplierRow) toDomain() domain.Supplier {
	return domain.Supplier{
		ID:        r.ID,
		Name:      r.Name,
		NameKey:   r.NameKey,
		Phone:     r.Phone.String,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

const supplierColumns = `id, name, name_key, phone, created_at`

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = domain.CleanName(supplier.Name)
	supplier.Phone = strings.TrimSpace(supplier.Phone)
	if supplier.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	supplier.NameKey = domain.NameKey(supplier.Name)
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES (:id, :name, :name_key, :phone, :created_at)
	`, supplierRow{
		ID:        supplier.ID,
		Name:      supplier.Name,
		NameKey:   supplier.NameKey,
		Phone:     nullString(supplier.Phone),
		CreatedAt: supplier.CreatedAt,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := supplier
	return &saved, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	return s.getSupplier(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id)
}

func (s *Store) FindSupplierByNameKey(ctx context.Context, nameKey string) (*domain.Supplier, error) {
	return s.getSupplier(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE name_key = ?`, nameKey)
}

func (s *Store) getSupplier(ctx context.Context, query string, arg any) (*domain.Supplier, error) {
	var row supplierRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	supplier := row.toDomain()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	var rows []supplierRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name_key, id`); err != nil {
		return nil, err
	}
	suppliers := make([]domain.Supplier, 0, len(rows))
	for _, row := range rows {
		suppliers = append(suppliers, row.toDomain())
	}
	return suppliers, nil
}

func (s *Store) CreateStockEntry(ctx context.Context, entry domain.StockEntry) (*domain.StockEntry, error) {
	if !store.HasMedicineIdentity(entry) {
		return nil, store.ErrInvalidRecord
	}
	entry.ID = xid.New("stk")
	entry.Status = domain.StockStatusPending
	entry.ReviewedBy = ""
	entry.ReviewedAt = nil
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.CreatedAt

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO stock_entries (`+stockEntryColumns+`)
		VALUES (
			:id, :medicine_id, :medicine_name, :category, :supplier_id, :invoice_number,
			:packs, :units_per_pack, :total_units,
			:buy_price_per_pack, :sale_price_per_pack, :unit_buy_price, :unit_sale_price, :total_buy_price,
			:min_stock, :expiry_date, :source, :status, :created_by,
			:created_at, :updated_at, :reviewed_by, :reviewed_at
		)
	`, toStockEntryRow(entry))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) GetStockEntry(ctx context.Context, id string) (*domain.StockEntry, error) {
	var row stockEntryRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+stockEntryColumns+` FROM stock_entries WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListStockEntriesByStatus(ctx context.Context, status domain.StockStatus, page int, pageSize int) ([]domain.StockEntry, int, error) {
	if !status.Valid() || pageSize < 1 {
		return nil, 0, store.ErrInvalidRecord
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_entries WHERE status = ?`, string(status)); err != nil {
		return nil, 0, err
	}

	var rows []stockEntryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+stockEntryColumns+`
		FROM stock_entries
		WHERE status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, string(status), pageSize, store.Offset(page, pageSize))
	if err != nil {
		return nil, 0, err
	}
	entries, err := toStockEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) ListStockEntries(ctx context.Context, status domain.StockStatus) ([]domain.StockEntry, error) {
	if status != "" && !status.Valid() {
		return nil, store.ErrInvalidRecord
	}

	var rows []stockEntryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+stockEntryColumns+`
		FROM stock_entries
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
	`, string(status), string(status))
	if err != nil {
		return nil, err
	}
	return toStockEntries(rows)
}

func (s *Store) UpdateStockEntry(ctx context.Context, entry domain.StockEntry) (*domain.StockEntry, error) {
	if !store.HasMedicineIdentity(entry) {
		return nil, store.ErrInvalidRecord
	}
	entry.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE stock_entries SET
			medicine_id = :medicine_id,
			medicine_name = :medicine_name,
			category = :category,
			supplier_id = :supplier_id,
			invoice_number = :invoice_number,
			packs = :packs,
			units_per_pack = :units_per_pack,
			total_units = :total_units,
			buy_price_per_pack = :buy_price_per_pack,
			sale_price_per_pack = :sale_price_per_pack,
			unit_buy_price = :unit_buy_price,
			unit_sale_price = :unit_sale_price,
			total_buy_price = :total_buy_price,
			min_stock = :min_stock,
			expiry_date = :expiry_date,
			source = :source,
			updated_at = :updated_at
		WHERE id = :id
	`, toStockEntryRow(entry))
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetStockEntry(ctx, entry.ID)
}

func (s *Store) SetStockEntryStatus(ctx context.Context, id string, from domain.StockStatus, to domain.StockStatus, reviewedBy string, at time.Time) (*domain.StockEntry, error) {
	if !from.Valid() || !to.Valid() {
		return nil, store.ErrInvalidRecord
	}
	at = at.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_entries
		SET status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), nullString(reviewedBy), at, at, id, string(from))
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		var count int
		if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM stock_entries WHERE id = ?`, id); err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, store.ErrStatusConflict
		}
		return nil, store.ErrNotFound
	}
	return s.GetStockEntry(ctx, id)
}

func (s *Store) DeleteStockEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type auditLogRow struct {
	ID            string    `db:"id"`
	ActorUsername string    `db:"actor_username"`
	ActorRole     string    `db:"actor_role"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, auditLogRow(entry))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []auditLogRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := domain.AuditLog(row)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, nil
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RolePharmacist
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`); err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		user := domain.UserAccount(row)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = ?, updated_at = ?
		WHERE username = ?
	`, password, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullString(val string) sql.NullString {
	return sql.NullString{String: val, Valid: val != ""}
}
