package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"medstock/backend/internal/domain"
)

const stockEntryColumns = `id, medicine_id, medicine_name, category, supplier_id, invoice_number,
	packs, units_per_pack, total_units,
	buy_price_per_pack, sale_price_per_pack, unit_buy_price, unit_sale_price, total_buy_price,
	min_stock, expiry_date, source, status, created_by,
	created_at, updated_at, reviewed_by, reviewed_at`

type stockEntryRow struct {
	ID               string              `db:"id"`
	MedicineID       string              `db:"medicine_id"`
	MedicineName     string              `db:"medicine_name"`
	Category         string              `db:"category"`
	SupplierID       sql.NullString      `db:"supplier_id"`
	InvoiceNumber    sql.NullString      `db:"invoice_number"`
	Packs            int                 `db:"packs"`
	UnitsPerPack     int                 `db:"units_per_pack"`
	TotalUnits       int                 `db:"total_units"`
	BuyPricePerPack  decimal.Decimal     `db:"buy_price_per_pack"`
	SalePricePerPack decimal.NullDecimal `db:"sale_price_per_pack"`
	UnitBuyPrice     decimal.Decimal     `db:"unit_buy_price"`
	UnitSalePrice    decimal.NullDecimal `db:"unit_sale_price"`
	TotalBuyPrice    decimal.Decimal     `db:"total_buy_price"`
	MinStock         int                 `db:"min_stock"`
	ExpiryDate       sql.NullString      `db:"expiry_date"`
	Source           string              `db:"source"`
	Status           string              `db:"status"`
	CreatedBy        sql.NullString      `db:"created_by"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
	ReviewedBy       sql.NullString      `db:"reviewed_by"`
	ReviewedAt       sql.NullTime        `db:"reviewed_at"`
}

func toStockEntryRow(entry domain.StockEntry) stockEntryRow {
	row := stockEntryRow{
		ID:               entry.ID,
		MedicineID:       entry.MedicineID,
		MedicineName:     entry.MedicineName,
		Category:         entry.Category,
		SupplierID:       nullString(entry.SupplierID),
		InvoiceNumber:    nullString(entry.InvoiceNumber),
		Packs:            entry.Packs,
		UnitsPerPack:     entry.UnitsPerPack,
		TotalUnits:       entry.TotalUnits,
		BuyPricePerPack:  entry.BuyPricePerPack,
		SalePricePerPack: entry.SalePricePerPack,
		UnitBuyPrice:     entry.UnitBuyPrice,
		UnitSalePrice:    entry.UnitSalePrice,
		TotalBuyPrice:    entry.TotalBuyPrice,
		MinStock:         entry.MinStock,
		Source:           entry.Source,
		Status:           string(entry.Status),
		CreatedBy:        nullString(entry.CreatedBy),
		CreatedAt:        entry.CreatedAt.UTC(),
		UpdatedAt:        entry.UpdatedAt.UTC(),
		ReviewedBy:       nullString(entry.ReviewedBy),
	}
	if entry.ExpiryDate != nil {
		row.ExpiryDate = sql.NullString{String: entry.ExpiryDate.UTC().Format(dateLayout), Valid: true}
	}
	if entry.ReviewedAt != nil {
		row.ReviewedAt = sql.NullTime{Time: entry.ReviewedAt.UTC(), Valid: true}
	}
	return row
}

func (r stockEntryRow) toDomain() (domain.StockEntry, error) {
	entry := domain.StockEntry{
		ID:               r.ID,
		MedicineID:       r.MedicineID,
		MedicineName:     r.MedicineName,
		Category:         r.Category,
		SupplierID:       r.SupplierID.String,
		InvoiceNumber:    r.InvoiceNumber.String,
		Packs:            r.Packs,
		UnitsPerPack:     r.UnitsPerPack,
		TotalUnits:       r.TotalUnits,
		BuyPricePerPack:  r.BuyPricePerPack,
		SalePricePerPack: r.SalePricePerPack,
		UnitBuyPrice:     r.UnitBuyPrice,
		UnitSalePrice:    r.UnitSalePrice,
		TotalBuyPrice:    r.TotalBuyPrice,
		MinStock:         r.MinStock,
		Source:           r.Source,
		Status:           domain.StockStatus(r.Status),
		CreatedBy:        r.CreatedBy.String,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		ReviewedBy:       r.ReviewedBy.String,
	}
	if r.ExpiryDate.Valid && r.ExpiryDate.String != "" {
		exp, err := time.Parse(dateLayout, r.ExpiryDate.String)
		if err != nil {
			return domain.StockEntry{}, fmt.Errorf("stock entry %s: parse expiry %q: %w", r.ID, r.ExpiryDate.String, err)
		}
		entry.ExpiryDate = &exp
	}
	if r.ReviewedAt.Valid {
		reviewed := r.ReviewedAt.Time.UTC()
		entry.ReviewedAt = &reviewed
	}
	return entry, nil
}

func toStockEntries(rows []stockEntryRow) ([]domain.StockEntry, error) {
	entries := make([]domain.StockEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
