package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"medstock/backend/internal/cache"
	"medstock/backend/internal/domain"
	"medstock/backend/internal/inventory"
	"medstock/backend/internal/metrics"
	"medstock/backend/internal/pricing"
	"medstock/backend/internal/reorder"
	"medstock/backend/internal/store"
	"medstock/backend/internal/xid"
)

const (
	defaultStoreTimeout      = 5 * time.Second
	defaultInventoryCacheTTL = time.Minute
	defaultListLimit         = 50
	maxListLimit             = 500
	defaultAuditLimit        = 100
	maxAuditLimit            = 1000
	maxBulkIDs               = 500
	dateLayout               = "2006-01-02"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	StoreTimeout      time.Duration
	InventoryCacheTTL time.Duration
	ExpiryWarningDays int
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics
}

type Service struct {
	repo         store.Repository
	cache        cache.InventoryCache
	builder      inventory.Builder
	reorder      *reorder.Engine
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	storeTimeout time.Duration
	cacheTTL     time.Duration
	now          func() time.Time
}

func New(repo store.Repository, inventoryCache cache.InventoryCache, reorderEngine *reorder.Engine, opts Options) *Service {
	if inventoryCache == nil {
		inventoryCache = cache.NoopInventoryCache{}
	}
	if reorderEngine == nil {
		reorderEngine = reorder.NewEngine(0)
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.InventoryCacheTTL <= 0 {
		opts.InventoryCacheTTL = defaultInventoryCacheTTL
	}
	if opts.ExpiryWarningDays == 0 {
		opts.ExpiryWarningDays = inventory.DefaultExpiryWarningDays
	}

	return &Service{
		repo:         repo,
		cache:        inventoryCache,
		builder:      inventory.NewBuilder(opts.ExpiryWarningDays),
		reorder:      reorderEngine,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "service").Logger(),
		storeTimeout: opts.StoreTimeout,
		cacheTTL:     opts.InventoryCacheTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.Ping(storeCtx)
}

// PreviewDerivation runs the quantity/price deriver without persisting anything.
func (s *Service) PreviewDerivation(in domain.StockEntryInput) (pricing.Result, error) {
	hint, err := pricing.ParseField(in.LastChanged)
	if err != nil {
		return pricing.Result{}, invalid("last_changed", err.Error())
	}
	return pricing.Derive(inputFromSubmission(in, hint)), nil
}

func (s *Service) SubmitStockEntry(ctx context.Context, in domain.StockEntryInput) (domain.StockEntry, error) {
	actor, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist)
	if err != nil {
		return domain.StockEntry{}, err
	}

	hint, err := pricing.ParseField(in.LastChanged)
	if err != nil {
		return domain.StockEntry{}, invalid("last_changed", err.Error())
	}
	entry, err := applyDerived(domain.StockEntry{}, pricing.Derive(inputFromSubmission(in, hint)))
	if err != nil {
		return domain.StockEntry{}, err
	}
	if entry.ExpiryDate, err = parseExpiry(in.ExpiryDate); err != nil {
		return domain.StockEntry{}, err
	}
	if entry.MinStock, err = minStockValue(in.MinStock); err != nil {
		return domain.StockEntry{}, err
	}

	entry.Category = strings.TrimSpace(in.Category)
	entry.InvoiceNumber = strings.TrimSpace(in.InvoiceNumber)
	entry.Source = domain.StockSourceManual
	if entry.InvoiceNumber != "" {
		entry.Source = domain.StockSourceInvoice
	}
	entry.CreatedBy = actor.Username

	return s.createEntry(ctx, entry,
		medicineRef{
			ID:           in.MedicineID,
			Name:         in.MedicineName,
			GenericName:  in.GenericName,
			Manufacturer: in.Manufacturer,
			Category:     in.Category,
		},
		supplierRef{ID: in.SupplierID, Name: in.SupplierName},
	)
}

// SubmitLooseItems records units that do not make up a full pack as a pending
// entry with one unit per pack.
func (s *Service) SubmitLooseItems(ctx context.Context, in domain.LooseItemInput) (domain.StockEntry, error) {
	actor, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist)
	if err != nil {
		return domain.StockEntry{}, err
	}
	if in.Units < 1 {
		return domain.StockEntry{}, invalid("units", "must be at least 1")
	}
	if !in.UnitBuyPrice.Valid {
		return domain.StockEntry{}, invalid("unit_buy_price", "is required")
	}

	units := in.Units
	one := 1
	entry, err := applyDerived(domain.StockEntry{}, pricing.Derive(pricing.Input{
		Packs:         &units,
		UnitsPerPack:  &one,
		UnitBuyPrice:  in.UnitBuyPrice,
		UnitSalePrice: in.UnitSalePrice,
		LastChanged:   pricing.FieldUnitBuyPrice,
	}))
	if err != nil {
		return domain.StockEntry{}, err
	}
	if entry.ExpiryDate, err = parseExpiry(in.ExpiryDate); err != nil {
		return domain.StockEntry{}, err
	}
	if entry.MinStock, err = minStockValue(in.MinStock); err != nil {
		return domain.StockEntry{}, err
	}

	entry.Category = strings.TrimSpace(in.Category)
	entry.InvoiceNumber = strings.TrimSpace(in.InvoiceNumber)
	entry.Source = domain.StockSourceLoose
	entry.CreatedBy = actor.Username

	return s.createEntry(ctx, entry,
		medicineRef{ID: in.MedicineID, Name: in.MedicineName, Category: in.Category},
		supplierRef{ID: in.SupplierID, Name: in.SupplierName},
	)
}

func (s *Service) createEntry(ctx context.Context, entry domain.StockEntry, med medicineRef, sup supplierRef) (domain.StockEntry, error) {
	supplierID, err := s.resolveSupplier(ctx, sup)
	if err != nil {
		return domain.StockEntry{}, err
	}
	medicine, created, err := s.resolveMedicine(ctx, med)
	if err != nil {
		return domain.StockEntry{}, err
	}

	entry.SupplierID = supplierID
	entry.MedicineID = medicine.ID
	entry.MedicineName = medicine.Name
	if entry.Category == "" {
		entry.Category = medicine.Category
	}
	entry.CreatedAt = s.now()

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	saved, err := s.repo.CreateStockEntry(storeCtx, entry)
	if err != nil {
		if created {
			s.logger.Warn().Err(err).
				Str("medicine_id", medicine.ID).
				Str("medicine_name", medicine.Name).
				Msg("stock entry insert failed after medicine was created; medicine has no stock entries")
		}
		return domain.StockEntry{}, translateStoreError("submit stock entry", "stock_entry", "", err)
	}

	s.metrics.StockEntrySubmitted(saved.Source)
	s.logAudit(ctx, "stock_entry_submit", "stock_entry", saved.ID,
		fmt.Sprintf("medicine=%s,units=%d,source=%s", saved.MedicineName, saved.TotalUnits, saved.Source))
	return *saved, nil
}

// ListStockEntries pages entries of one status, pending by default. Rejected
// entries are an audit view and only admins may list them.
func (s *Service) ListStockEntries(ctx context.Context, status string, page int, pageSize int) (domain.StockEntryPage, error) {
	actor, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist)
	if err != nil {
		return domain.StockEntryPage{}, err
	}

	st := domain.StockStatus(strings.ToLower(strings.TrimSpace(status)))
	if st == "" {
		st = domain.StockStatusPending
	}
	if !st.Valid() {
		return domain.StockEntryPage{}, invalid("status", "must be pending, approved or rejected")
	}
	if st == domain.StockStatusRejected && actor.Role != domain.RoleAdmin {
		return domain.StockEntryPage{}, ErrForbidden
	}
	page, pageSize = inventory.NormalizePage(page, pageSize)

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, total, err := s.repo.ListStockEntriesByStatus(storeCtx, st, page, pageSize)
	if err != nil {
		return domain.StockEntryPage{}, translateStoreError("list stock entries", "stock_entry", "", err)
	}
	if items == nil {
		items = []domain.StockEntry{}
	}

	return domain.StockEntryPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *Service) GetStockEntry(ctx context.Context, id string) (domain.StockEntry, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.StockEntry{}, err
	}
	return s.loadEntry(ctx, id, "get stock entry")
}

// ApproveStockEntry makes a pending entry count toward inventory. Approving an
// approved entry returns it unchanged.
func (s *Service) ApproveStockEntry(ctx context.Context, id string) (domain.StockEntry, error) {
	actor, err := requireActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.StockEntry{}, err
	}

	entry, err := s.loadEntry(ctx, id, "approve")
	if err != nil {
		return domain.StockEntry{}, err
	}
	switch entry.Status {
	case domain.StockStatusApproved:
		return entry, nil
	case domain.StockStatusRejected:
		err := &InvalidStateError{ID: entry.ID, Status: entry.Status, Op: "approve"}
		s.metrics.StockEntryTransition("approve", err)
		return domain.StockEntry{}, err
	}

	saved, changed, err := s.transition(ctx, entry, domain.StockStatusApproved, actor, "approve")
	if err != nil || !changed {
		return saved, err
	}

	s.notifyInventoryChanged(ctx, "approve", saved)
	s.logAudit(ctx, "stock_entry_approve", "stock_entry", saved.ID,
		fmt.Sprintf("medicine=%s,units=%d", saved.MedicineName, saved.TotalUnits))
	return saved, nil
}

// RejectStockEntry marks a pending entry rejected. The record is kept for the
// audit trail but never shows up in pending, approved or inventory views.
func (s *Service) RejectStockEntry(ctx context.Context, id string) (domain.StockEntry, error) {
	actor, err := requireActor(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.StockEntry{}, err
	}

	entry, err := s.loadEntry(ctx, id, "reject")
	if err != nil {
		return domain.StockEntry{}, err
	}
	switch entry.Status {
	case domain.StockStatusRejected:
		return entry, nil
	case domain.StockStatusApproved:
		err := &InvalidStateError{ID: entry.ID, Status: entry.Status, Op: "reject"}
		s.metrics.StockEntryTransition("reject", err)
		return domain.StockEntry{}, err
	}

	saved, changed, err := s.transition(ctx, entry, domain.StockStatusRejected, actor, "reject")
	if err != nil || !changed {
		return saved, err
	}

	s.logAudit(ctx, "stock_entry_reject", "stock_entry", saved.ID,
		fmt.Sprintf("medicine=%s,units=%d", saved.MedicineName, saved.TotalUnits))
	return saved, nil
}

// transition moves entry from the status it was loaded with to the target
// status. When another request changed the entry in between, the stored status
// wins: an entry already at the target is returned with changed=false, any
// other status is an InvalidStateError.
func (s *Service) transition(ctx context.Context, entry domain.StockEntry, to domain.StockStatus, actor domain.Actor, op string) (domain.StockEntry, bool, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	saved, err := s.repo.SetStockEntryStatus(storeCtx, entry.ID, entry.Status, to, actor.Username, s.now())
	if errors.Is(err, store.ErrStatusConflict) {
		current, loadErr := s.loadEntry(ctx, entry.ID, op)
		if loadErr != nil {
			s.metrics.StockEntryTransition(op, loadErr)
			return domain.StockEntry{}, false, loadErr
		}
		if current.Status == to {
			return current, false, nil
		}
		stateErr := &InvalidStateError{ID: current.ID, Status: current.Status, Op: op}
		s.metrics.StockEntryTransition(op, stateErr)
		return domain.StockEntry{}, false, stateErr
	}
	s.metrics.StockEntryTransition(op, err)
	if err != nil {
		return domain.StockEntry{}, false, translateStoreError(op, "stock_entry", entry.ID, err)
	}
	return *saved, true, nil
}

// EditStockEntry dispatches to EditPending or EditApproved based on the
// stored status.
func (s *Service) EditStockEntry(ctx context.Context, id string, patch domain.StockEntryPatch) (domain.StockEntry, error) {
	actor, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist)
	if err != nil {
		return domain.StockEntry{}, err
	}

	entry, err := s.loadEntry(ctx, id, "edit")
	if err != nil {
		return domain.StockEntry{}, err
	}
	switch entry.Status {
	case domain.StockStatusPending:
		return s.applyEdit(ctx, entry, patch, "edit_pending")
	case domain.StockStatusApproved:
		if actor.Role != domain.RoleAdmin {
			return domain.StockEntry{}, ErrForbidden
		}
		return s.applyEdit(ctx, entry, patch, "edit_approved")
	default:
		return domain.StockEntry{}, &InvalidStateError{ID: entry.ID, Status: entry.Status, Op: "edit"}
	}
}

func (s *Service) EditPending(ctx context.Context, id string, patch domain.StockEntryPatch) (domain.StockEntry, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.StockEntry{}, err
	}

	entry, err := s.loadEntry(ctx, id, "edit pending")
	if err != nil {
		return domain.StockEntry{}, err
	}
	if entry.Status != domain.StockStatusPending {
		return domain.StockEntry{}, &InvalidStateError{ID: entry.ID, Status: entry.Status, Op: "edit pending"}
	}
	return s.applyEdit(ctx, entry, patch, "edit_pending")
}

// EditApproved corrects quantities, prices or expiry of stock that is already
// counted in inventory. The entry stays approved.
func (s *Service) EditApproved(ctx context.Context, id string, patch domain.StockEntryPatch) (domain.StockEntry, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return domain.StockEntry{}, err
	}

	entry, err := s.loadEntry(ctx, id, "edit approved")
	if err != nil {
		return domain.StockEntry{}, err
	}
	if entry.Status != domain.StockStatusApproved {
		return domain.StockEntry{}, &InvalidStateError{ID: entry.ID, Status: entry.Status, Op: "edit approved"}
	}
	return s.applyEdit(ctx, entry, patch, "edit_approved")
}

func (s *Service) applyEdit(ctx context.Context, current domain.StockEntry, patch domain.StockEntryPatch, op string) (domain.StockEntry, error) {
	in, err := mergePatch(current, patch)
	if err != nil {
		return domain.StockEntry{}, err
	}
	updated, err := applyDerived(current, pricing.Derive(in))
	if err != nil {
		return domain.StockEntry{}, err
	}

	if patch.Category != nil {
		updated.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.InvoiceNumber != nil {
		updated.InvoiceNumber = strings.TrimSpace(*patch.InvoiceNumber)
	}
	if patch.MinStock != nil {
		if updated.MinStock, err = minStockValue(patch.MinStock); err != nil {
			return domain.StockEntry{}, err
		}
	}
	if patch.ExpiryDate != nil {
		if updated.ExpiryDate, err = parseExpiry(*patch.ExpiryDate); err != nil {
			return domain.StockEntry{}, err
		}
	}
	if patch.SupplierID != nil {
		if updated.SupplierID, err = s.resolveSupplier(ctx, supplierRef{ID: *patch.SupplierID}); err != nil {
			return domain.StockEntry{}, err
		}
	}
	updated.UpdatedAt = s.now()

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	saved, err := s.repo.UpdateStockEntry(storeCtx, updated)
	s.metrics.StockEntryTransition(op, err)
	if err != nil {
		return domain.StockEntry{}, translateStoreError(strings.ReplaceAll(op, "_", " "), "stock_entry", current.ID, err)
	}

	if saved.Status == domain.StockStatusApproved {
		s.notifyInventoryChanged(ctx, "edit", *saved)
	}
	s.logAudit(ctx, "stock_entry_"+op, "stock_entry", saved.ID,
		fmt.Sprintf("packs=%d->%d,units=%d->%d,buy_price_per_pack=%s->%s",
			current.Packs, saved.Packs, current.TotalUnits, saved.TotalUnits,
			current.BuyPricePerPack.StringFixed(2), saved.BuyPricePerPack.StringFixed(2)))
	return *saved, nil
}

// DeleteStockEntry removes an entry of any status. This is the only way to take
// approved stock out of inventory.
func (s *Service) DeleteStockEntry(ctx context.Context, id string) error {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return err
	}

	entry, err := s.loadEntry(ctx, id, "delete")
	if err != nil {
		return err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	err = s.repo.DeleteStockEntry(storeCtx, entry.ID)
	s.metrics.StockEntryTransition("delete", err)
	if err != nil {
		return translateStoreError("delete", "stock_entry", entry.ID, err)
	}

	if entry.Status == domain.StockStatusApproved {
		s.notifyInventoryChanged(ctx, "delete", entry)
	}
	s.logAudit(ctx, "stock_entry_delete", "stock_entry", entry.ID,
		fmt.Sprintf("medicine=%s,units=%d,status=%s", entry.MedicineName, entry.TotalUnits, entry.Status))
	return nil
}

func (s *Service) BulkApprove(ctx context.Context, ids []string) (domain.BulkResult, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return domain.BulkResult{}, err
	}
	return s.bulk(ctx, "approve", ids, s.ApproveStockEntry)
}

func (s *Service) BulkReject(ctx context.Context, ids []string) (domain.BulkResult, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return domain.BulkResult{}, err
	}
	return s.bulk(ctx, "reject", ids, s.RejectStockEntry)
}

// bulk applies fn to every id. A failing id is reported and the rest are still
// processed.
func (s *Service) bulk(ctx context.Context, op string, ids []string, fn func(context.Context, string) (domain.StockEntry, error)) (domain.BulkResult, error) {
	if len(ids) == 0 {
		return domain.BulkResult{}, invalid("ids", "at least one id is required")
	}
	if len(ids) > maxBulkIDs {
		return domain.BulkResult{}, invalid("ids", fmt.Sprintf("at most %d ids per request", maxBulkIDs))
	}

	result := domain.BulkResult{
		Succeeded: make([]string, 0, len(ids)),
		Failed:    []domain.BulkFailure{},
	}
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			result.Failed = append(result.Failed, domain.BulkFailure{ID: raw, Error: "id is required"})
			continue
		}
		if _, dup := seen[id]; dup {
			result.Failed = append(result.Failed, domain.BulkFailure{ID: id, Error: "duplicate id in request"})
			continue
		}
		seen[id] = struct{}{}

		if _, err := fn(ctx, id); err != nil {
			result.Failed = append(result.Failed, domain.BulkFailure{ID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	s.logger.Info().
		Str("op", op).
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Msg("bulk stock entry operation finished")
	return result, nil
}

func (s *Service) InventoryView(ctx context.Context, q domain.InventoryQuery) (domain.InventoryView, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.InventoryView{}, err
	}

	flag := strings.ToLower(strings.TrimSpace(q.Flag))
	if !inventory.ValidFlag(flag) {
		return domain.InventoryView{}, invalid("flag", fmt.Sprintf("unknown flag %q", q.Flag))
	}

	now := s.now()
	rows, err := s.inventoryRows(ctx, now)
	if err != nil {
		return domain.InventoryView{}, err
	}

	filtered := inventory.Filter(rows, q.Search, flag)
	pageRows, page, pageSize := inventory.Paginate(filtered, q.Page, q.PageSize)
	return domain.InventoryView{
		Rows:        pageRows,
		Total:       len(filtered),
		Page:        page,
		PageSize:    pageSize,
		StockValue:  inventory.Valuation(filtered),
		GeneratedAt: now.Format(time.RFC3339),
	}, nil
}

func (s *Service) ReorderSuggestions(ctx context.Context) (domain.ReorderSuggestionResponse, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}

	now := s.now()
	rows, err := s.inventoryRows(ctx, now)
	if err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}

	return domain.ReorderSuggestionResponse{
		GeneratedAt: now.Format(time.RFC3339),
		Suggestions: s.reorder.Suggest(rows),
	}, nil
}

// inventoryRows returns today's unfiltered rows, from the cache when possible.
func (s *Service) inventoryRows(ctx context.Context, now time.Time) ([]domain.InventoryRow, error) {
	day := now.Format(dateLayout)

	cacheCtx, cancelCache := s.storeCtx(ctx)
	rows, hit, err := s.cache.Get(cacheCtx, day)
	cancelCache()
	if err != nil {
		s.logger.Warn().Err(err).Str("day", day).Msg("inventory cache read failed")
	}
	s.metrics.InventoryCacheLookup(hit && err == nil)
	if hit && err == nil {
		return s.builder.Refresh(rows, now), nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	// The generation is read before the entries so a change committed while
	// the rows are built keeps them out of the cache.
	generation, genErr := s.cache.Generation(storeCtx)
	if genErr != nil {
		s.logger.Warn().Err(genErr).Str("day", day).Msg("inventory cache generation read failed")
	}

	entries, err := s.repo.ListStockEntries(storeCtx, domain.StockStatusApproved)
	if err != nil {
		return nil, translateStoreError("inventory view", "stock_entry", "", err)
	}
	rows = s.builder.Build(entries, now)

	if genErr != nil {
		return rows, nil
	}
	err = s.cache.Set(storeCtx, day, generation, rows, s.cacheTTL)
	switch {
	case errors.Is(err, cache.ErrStaleGeneration):
		s.logger.Debug().Str("day", day).Msg("inventory changed during build, rows not cached")
	case err != nil:
		s.logger.Warn().Err(err).Str("day", day).Msg("inventory cache write failed")
	}
	return rows, nil
}

// notifyInventoryChanged drops cached rows and publishes the change signal. It
// runs even when the request context is already cancelled.
func (s *Service) notifyInventoryChanged(ctx context.Context, action string, entry domain.StockEntry) {
	change := domain.InventoryChange{
		Event:      cache.EventInventoryUpdated,
		Action:     action,
		EntryID:    entry.ID,
		MedicineID: entry.MedicineID,
		At:         s.now(),
	}

	notifyCtx, cancel := s.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.cache.InventoryChanged(notifyCtx, change); err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("entry_id", entry.ID).
			Msg("inventory change signal failed")
		return
	}
	s.metrics.InventoryChange("sent", action)
}

func (s *Service) ListMedicines(ctx context.Context, search string, limit int) ([]domain.Medicine, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	medicines, err := s.repo.ListMedicines(storeCtx, strings.TrimSpace(search), clampLimit(limit, defaultListLimit, maxListLimit))
	if err != nil {
		return nil, translateStoreError("list medicines", "medicine", "", err)
	}
	return medicines, nil
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.Medicine, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return domain.Medicine{}, err
	}

	name := domain.CleanName(req.Name)
	if name == "" {
		return domain.Medicine{}, invalid("name", "is required")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	created, err := s.repo.CreateMedicine(storeCtx, domain.Medicine{
		Name:         name,
		GenericName:  strings.TrimSpace(req.GenericName),
		Manufacturer: strings.TrimSpace(req.Manufacturer),
		Category:     strings.TrimSpace(req.Category),
		Barcode:      strings.TrimSpace(req.Barcode),
		CreatedAt:    s.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Medicine{}, invalid("name", "medicine already exists")
	}
	if err != nil {
		return domain.Medicine{}, translateStoreError("create medicine", "medicine", "", err)
	}

	s.logAudit(ctx, "medicine_create", "medicine", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	suppliers, err := s.repo.ListSuppliers(storeCtx)
	if err != nil {
		return nil, translateStoreError("list suppliers", "supplier", "", err)
	}
	return suppliers, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return domain.Supplier{}, err
	}

	name := domain.CleanName(req.Name)
	if name == "" {
		return domain.Supplier{}, invalid("name", "is required")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	created, err := s.repo.CreateSupplier(storeCtx, domain.Supplier{
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: s.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Supplier{}, invalid("name", "supplier already exists")
	}
	if err != nil {
		return domain.Supplier{}, translateStoreError("create supplier", "supplier", "", err)
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

// ListAuditLogs returns the entries of one UTC day, or of the last 24 hours when
// date is empty.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(dateLayout, strings.TrimSpace(date))
		if err != nil {
			return nil, invalid("date", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	logs, err := s.repo.ListAuditLogs(storeCtx, from, to, clampLimit(limit, defaultAuditLimit, maxAuditLimit))
	if err != nil {
		return nil, translateStoreError("list audit logs", "audit_log", "", err)
	}
	return logs, nil
}

type medicineRef struct {
	ID           string
	Name         string
	GenericName  string
	Manufacturer string
	Category     string
}

// resolveMedicine looks the medicine up by id, or by normalized name, creating
// it when the name is new. created reports whether this call inserted it.
func (s *Service) resolveMedicine(ctx context.Context, ref medicineRef) (domain.Medicine, bool, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if id := strings.TrimSpace(ref.ID); id != "" {
		medicine, err := s.repo.GetMedicineByID(storeCtx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Medicine{}, false, invalid("medicine_id", "unknown medicine "+id)
		}
		if err != nil {
			return domain.Medicine{}, false, translateStoreError("resolve medicine", "medicine", id, err)
		}
		return *medicine, false, nil
	}

	name := domain.CleanName(ref.Name)
	if name == "" {
		return domain.Medicine{}, false, invalid("medicine_name", "medicine id or name is required")
	}
	key := domain.NameKey(name)

	existing, err := s.repo.FindMedicineByNameKey(storeCtx, key)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Medicine{}, false, translateStoreError("resolve medicine", "medicine", "", err)
	}

	created, err := s.repo.CreateMedicine(storeCtx, domain.Medicine{
		Name:         name,
		GenericName:  strings.TrimSpace(ref.GenericName),
		Manufacturer: strings.TrimSpace(ref.Manufacturer),
		Category:     strings.TrimSpace(ref.Category),
		CreatedAt:    s.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent submit created the same name first.
		existing, err = s.repo.FindMedicineByNameKey(storeCtx, key)
		if err != nil {
			return domain.Medicine{}, false, translateStoreError("resolve medicine", "medicine", "", err)
		}
		return *existing, false, nil
	}
	if err != nil {
		return domain.Medicine{}, false, translateStoreError("create medicine", "medicine", "", err)
	}

	s.logger.Info().Str("medicine_id", created.ID).Str("medicine_name", created.Name).Msg("medicine created from stock entry")
	s.logAudit(ctx, "medicine_create", "medicine", created.ID, fmt.Sprintf("name=%s,source=stock_entry", created.Name))
	return *created, true, nil
}

type supplierRef struct {
	ID   string
	Name string
}

// resolveSupplier returns the supplier id to store. Suppliers are optional, so
// an empty reference resolves to "".
func (s *Service) resolveSupplier(ctx context.Context, ref supplierRef) (string, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if id := strings.TrimSpace(ref.ID); id != "" {
		_, err := s.repo.GetSupplierByID(storeCtx, id)
		if errors.Is(err, store.ErrNotFound) {
			return "", invalid("supplier_id", "unknown supplier "+id)
		}
		if err != nil {
			return "", translateStoreError("resolve supplier", "supplier", id, err)
		}
		return id, nil
	}

	name := domain.CleanName(ref.Name)
	if name == "" {
		return "", nil
	}
	key := domain.NameKey(name)

	existing, err := s.repo.FindSupplierByNameKey(storeCtx, key)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", translateStoreError("resolve supplier", "supplier", "", err)
	}

	created, err := s.repo.CreateSupplier(storeCtx, domain.Supplier{Name: name, CreatedAt: s.now()})
	if errors.Is(err, store.ErrDuplicate) {
		existing, err = s.repo.FindSupplierByNameKey(storeCtx, key)
		if err != nil {
			return "", translateStoreError("resolve supplier", "supplier", "", err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", translateStoreError("create supplier", "supplier", "", err)
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s,source=stock_entry", created.Name))
	return created.ID, nil
}

func (s *Service) loadEntry(ctx context.Context, id string, op string) (domain.StockEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.StockEntry{}, invalid("id", "is required")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	entry, err := s.repo.GetStockEntry(storeCtx, id)
	if err != nil {
		return domain.StockEntry{}, translateStoreError(op, "stock_entry", id, err)
	}
	return *entry, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	auditCtx, cancel := s.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.repo.CreateAuditLog(auditCtx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func requireActor(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, ErrForbidden
}

func inputFromSubmission(in domain.StockEntryInput, hint pricing.Field) pricing.Input {
	return pricing.Input{
		Packs:            in.Packs,
		UnitsPerPack:     in.UnitsPerPack,
		TotalUnits:       in.TotalUnits,
		BuyPricePerPack:  in.BuyPricePerPack,
		SalePricePerPack: in.SalePricePerPack,
		UnitBuyPrice:     in.UnitBuyPrice,
		UnitSalePrice:    in.UnitSalePrice,
		TotalBuyPrice:    in.TotalBuyPrice,
		LastChanged:      hint,
	}
}

// mergePatch overlays the patch on the stored values. When the patch sets only
// one side of a pack/unit price pair, the stored counterpart is dropped so the
// deriver recomputes it from the edited value.
func mergePatch(current domain.StockEntry, patch domain.StockEntryPatch) (pricing.Input, error) {
	hint, err := pricing.ParseField(patch.LastChanged)
	if err != nil {
		return pricing.Input{}, invalid("last_changed", err.Error())
	}

	packs := current.Packs
	unitsPerPack := current.UnitsPerPack
	in := pricing.Input{
		Packs:            &packs,
		UnitsPerPack:     &unitsPerPack,
		BuyPricePerPack:  decimal.NewNullDecimal(current.BuyPricePerPack),
		SalePricePerPack: current.SalePricePerPack,
		UnitBuyPrice:     decimal.NewNullDecimal(current.UnitBuyPrice),
		UnitSalePrice:    current.UnitSalePrice,
		TotalBuyPrice:    decimal.NewNullDecimal(current.TotalBuyPrice),
		LastChanged:      hint,
	}
	if patch.Packs != nil {
		in.Packs = patch.Packs
	}
	if patch.UnitsPerPack != nil {
		in.UnitsPerPack = patch.UnitsPerPack
	}
	if patch.TotalUnits != nil {
		in.TotalUnits = patch.TotalUnits
	}

	in.BuyPricePerPack, in.UnitBuyPrice = overlayPair(in.BuyPricePerPack, in.UnitBuyPrice, patch.BuyPricePerPack, patch.UnitBuyPrice)
	in.SalePricePerPack, in.UnitSalePrice = overlayPair(in.SalePricePerPack, in.UnitSalePrice, patch.SalePricePerPack, patch.UnitSalePrice)

	if patch.TotalBuyPrice.Valid {
		in.TotalBuyPrice = patch.TotalBuyPrice
		if hint == pricing.FieldNone && !patch.BuyPricePerPack.Valid && !patch.UnitBuyPrice.Valid {
			in.LastChanged = pricing.FieldTotalBuyPrice
		}
	}
	return in, nil
}

func overlayPair(pack decimal.NullDecimal, unit decimal.NullDecimal, newPack decimal.NullDecimal, newUnit decimal.NullDecimal) (decimal.NullDecimal, decimal.NullDecimal) {
	switch {
	case newPack.Valid && newUnit.Valid:
		return newPack, newUnit
	case newPack.Valid:
		return newPack, decimal.NullDecimal{}
	case newUnit.Valid:
		return decimal.NullDecimal{}, newUnit
	default:
		return pack, unit
	}
}

// applyDerived validates a deriver result and copies it onto entry.
func applyDerived(entry domain.StockEntry, r pricing.Result) (domain.StockEntry, error) {
	if r.Packs == nil {
		return domain.StockEntry{}, invalid("packs", "is required")
	}
	if *r.Packs < 0 {
		return domain.StockEntry{}, invalid("packs", "must not be negative")
	}
	if r.UnitsPerPack == nil || *r.UnitsPerPack < 1 {
		return domain.StockEntry{}, invalid("units_per_pack", "must be at least 1")
	}
	if !r.BuyPricePerPack.Valid {
		return domain.StockEntry{}, invalid("buy_price_per_pack", "is required")
	}

	for _, money := range []struct {
		field string
		value decimal.NullDecimal
	}{
		{"buy_price_per_pack", r.BuyPricePerPack},
		{"sale_price_per_pack", r.SalePricePerPack},
		{"unit_buy_price", r.UnitBuyPrice},
		{"unit_sale_price", r.UnitSalePrice},
		{"total_buy_price", r.TotalBuyPrice},
	} {
		if money.value.Valid && money.value.Decimal.IsNegative() {
			return domain.StockEntry{}, invalid(money.field, "must not be negative")
		}
	}

	entry.Packs = *r.Packs
	entry.UnitsPerPack = *r.UnitsPerPack
	entry.TotalUnits = entry.Packs * entry.UnitsPerPack
	if r.TotalUnits != nil {
		entry.TotalUnits = *r.TotalUnits
	}
	entry.BuyPricePerPack = r.BuyPricePerPack.Decimal
	entry.UnitBuyPrice = r.UnitBuyPrice.Decimal
	entry.TotalBuyPrice = r.TotalBuyPrice.Decimal
	entry.SalePricePerPack = r.SalePricePerPack
	entry.UnitSalePrice = r.UnitSalePrice
	return entry, nil
}

func parseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, invalid("expiry_date", "must be YYYY-MM-DD")
	}
	return &parsed, nil
}

func minStockValue(v *int) (int, error) {
	if v == nil {
		return 0, nil
	}
	if *v < 0 {
		return 0, invalid("min_stock", "must not be negative")
	}
	return *v, nil
}

func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
