package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"medstock/backend/internal/domain"
	"medstock/backend/internal/store"
	"medstock/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for schema migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

const medicineColumns = `id, name, name_key, generic_name, manufacturer, category, barcode, created_at`

func scanMedicine(row interface{ Scan(...any) error }) (domain.Medicine, error) {
	var m domain.Medicine
	err := row.Scan(&m.ID, &m.Name, &m.NameKey, &m.GenericName, &m.Manufacturer, &m.Category, &m.Barcode, &m.CreatedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (`+medicineColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, medicine.ID, medicine.Name, medicine.NameKey, medicine.GenericName, medicine.Manufacturer, medicine.Category, medicine.Barcode, medicine.CreatedAt)
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
	return s.getMedicine(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id)
}

func (s *Store) FindMedicineByNameKey(ctx context.Context, nameKey string) (*domain.Medicine, error) {
	return s.getMedicine(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE name_key = $1`, nameKey)
}

func (s *Store) getMedicine(ctx context.Context, query string, arg any) (*domain.Medicine, error) {
	medicine, err := scanMedicine(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &medicine, nil
}

func (s *Store) ListMedicines(ctx context.Context, search string, limit int) ([]domain.Medicine, error) {
	if limit < 1 {
		limit = 100
	}
	needle := "%" + domain.NameKey(search) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+medicineColumns+`
		FROM medicines
		WHERE name_key LIKE $1 OR lower(generic_name) LIKE $1
		ORDER BY name_key, id
		LIMIT $2
	`, needle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, limit)
	for rows.Next() {
		medicine, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, medicine)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return medicines, nil
}

const supplierColumns = `id, name, name_key, COALESCE(phone,''), created_at`

func scanSupplier(row interface{ Scan(...any) error }) (domain.Supplier, error) {
	var item domain.Supplier
	err := row.Scan(&item.ID, &item.Name, &item.NameKey, &item.Phone, &item.CreatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	return item, err
}

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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, name_key, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.NameKey, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
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
	return s.getSupplier(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id)
}

func (s *Store) FindSupplierByNameKey(ctx context.Context, nameKey string) (*domain.Supplier, error) {
	return s.getSupplier(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE name_key = $1`, nameKey)
}

func (s *Store) getSupplier(ctx context.Context, query string, arg any) (*domain.Supplier, error) {
	supplier, err := scanSupplier(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+supplierColumns+`
		FROM suppliers
		ORDER BY name_key, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 64)
	for rows.Next() {
		item, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

const stockEntryColumns = `id, medicine_id, medicine_name, category, COALESCE(supplier_id,''), COALESCE(invoice_number,''),
	packs, units_per_pack, total_units,
	buy_price_per_pack, sale_price_per_pack, unit_buy_price, unit_sale_price, total_buy_price,
	min_stock, expiry_date, source, status, COALESCE(created_by,''),
	created_at, updated_at, COALESCE(reviewed_by,''), reviewed_at`

func scanStockEntry(row interface{ Scan(...any) error }) (domain.StockEntry, error) {
	var (
		entry      domain.StockEntry
		status     string
		expiryDate sql.NullTime
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&entry.ID, &entry.MedicineID, &entry.MedicineName, &entry.Category, &entry.SupplierID, &entry.InvoiceNumber,
		&entry.Packs, &entry.UnitsPerPack, &entry.TotalUnits,
		&entry.BuyPricePerPack, &entry.SalePricePerPack, &entry.UnitBuyPrice, &entry.UnitSalePrice, &entry.TotalBuyPrice,
		&entry.MinStock, &expiryDate, &entry.Source, &status, &entry.CreatedBy,
		&entry.CreatedAt, &entry.UpdatedAt, &entry.ReviewedBy, &reviewedAt,
	)
	if err != nil {
		return domain.StockEntry{}, err
	}
	entry.Status = domain.StockStatus(status)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	if expiryDate.Valid {
		exp := dateUTC(expiryDate.Time)
		entry.ExpiryDate = &exp
	}
	if reviewedAt.Valid {
		reviewed := reviewedAt.Time.UTC()
		entry.ReviewedAt = &reviewed
	}
	return entry, nil
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_entries (
			id, medicine_id, medicine_name, category, supplier_id, invoice_number,
			packs, units_per_pack, total_units,
			buy_price_per_pack, sale_price_per_pack, unit_buy_price, unit_sale_price, total_buy_price,
			min_stock, expiry_date, source, status, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		entry.ID, entry.MedicineID, entry.MedicineName, entry.Category, nullIfEmpty(entry.SupplierID), nullIfEmpty(entry.InvoiceNumber),
		entry.Packs, entry.UnitsPerPack, entry.TotalUnits,
		entry.BuyPricePerPack, entry.SalePricePerPack, entry.UnitBuyPrice, entry.UnitSalePrice, entry.TotalBuyPrice,
		entry.MinStock, nullDate(entry.ExpiryDate), entry.Source, string(entry.Status), nullIfEmpty(entry.CreatedBy), entry.CreatedAt, entry.UpdatedAt,
	)
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
	entry, err := scanStockEntry(s.db.QueryRowContext(ctx, `
		SELECT `+stockEntryColumns+`
		FROM stock_entries
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListStockEntriesByStatus(ctx context.Context, status domain.StockStatus, page int, pageSize int) ([]domain.StockEntry, int, error) {
	if !status.Valid() || pageSize < 1 {
		return nil, 0, store.ErrInvalidRecord
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_entries WHERE status = $1`, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	entries, err := s.queryStockEntries(ctx, `
		SELECT `+stockEntryColumns+`
		FROM stock_entries
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, string(status), pageSize, store.Offset(page, pageSize))
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) ListStockEntries(ctx context.Context, status domain.StockStatus) ([]domain.StockEntry, error) {
	if status != "" && !status.Valid() {
		return nil, store.ErrInvalidRecord
	}
	return s.queryStockEntries(ctx, `
		SELECT `+stockEntryColumns+`
		FROM stock_entries
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
	`, string(status))
}

func (s *Store) queryStockEntries(ctx context.Context, query string, args ...any) ([]domain.StockEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0, 64)
	for rows.Next() {
		entry, err := scanStockEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) UpdateStockEntry(ctx context.Context, entry domain.StockEntry) (*domain.StockEntry, error) {
	if !store.HasMedicineIdentity(entry) {
		return nil, store.ErrInvalidRecord
	}

	updated, err := scanStockEntry(s.db.QueryRowContext(ctx, `
		UPDATE stock_entries SET
			medicine_id = $2,
			medicine_name = $3,
			category = $4,
			supplier_id = $5,
			invoice_number = $6,
			packs = $7,
			units_per_pack = $8,
			total_units = $9,
			buy_price_per_pack = $10,
			sale_price_per_pack = $11,
			unit_buy_price = $12,
			unit_sale_price = $13,
			total_buy_price = $14,
			min_stock = $15,
			expiry_date = $16,
			source = $17,
			updated_at = now()
		WHERE id = $1
		RETURNING `+stockEntryColumns,
		entry.ID, entry.MedicineID, entry.MedicineName, entry.Category, nullIfEmpty(entry.SupplierID), nullIfEmpty(entry.InvoiceNumber),
		entry.Packs, entry.UnitsPerPack, entry.TotalUnits,
		entry.BuyPricePerPack, entry.SalePricePerPack, entry.UnitBuyPrice, entry.UnitSalePrice, entry.TotalBuyPrice,
		entry.MinStock, nullDate(entry.ExpiryDate), entry.Source,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) SetStockEntryStatus(ctx context.Context, id string, from domain.StockStatus, to domain.StockStatus, reviewedBy string, at time.Time) (*domain.StockEntry, error) {
	if !from.Valid() || !to.Valid() {
		return nil, store.ErrInvalidRecord
	}

	updated, err := scanStockEntry(s.db.QueryRowContext(ctx, `
		UPDATE stock_entries
		SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+stockEntryColumns,
		id, string(to), nullIfEmpty(reviewedBy), at.UTC(), string(from),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.statusMissReason(ctx, id)
		}
		return nil, err
	}
	return &updated, nil
}

// statusMissReason tells a missing entry apart from one whose status moved on.
func (s *Store) statusMissReason(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM stock_entries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrStatusConflict
}

func (s *Store) DeleteStockEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
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
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateUTC(val.UTC())
}
