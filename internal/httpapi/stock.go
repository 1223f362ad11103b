package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medstock/backend/internal/domain"
)

func (a *API) handleSubmitStockEntry(w http.ResponseWriter, r *http.Request) {
	var req domain.StockEntryInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.SubmitStockEntry(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleSubmitLooseItems(w http.ResponseWriter, r *http.Request) {
	var req domain.LooseItemInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.SubmitLooseItems(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleDerive(w http.ResponseWriter, r *http.Request) {
	var req domain.StockEntryInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.PreviewDerivation(req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListStockEntries(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "page_size")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := a.service.ListStockEntries(r.Context(), r.URL.Query().Get("status"), page, pageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetStockEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.GetStockEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleEditStockEntry(w http.ResponseWriter, r *http.Request) {
	var patch domain.StockEntryPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.EditStockEntry(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleDeleteStockEntry(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteStockEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleApproveStockEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.ApproveStockEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleRejectStockEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.RejectStockEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.BulkApprove(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleBulkReject(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.BulkReject(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
