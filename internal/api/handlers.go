package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/engine"
	"github.com/cardvault/reconciler/internal/ingestion"
	"github.com/cardvault/reconciler/internal/metrics"
	"github.com/cardvault/reconciler/internal/reconcile"
	"github.com/cardvault/reconciler/internal/repository"
)

const (
	maxValidationErrors = 100
	maxRiskFlags        = 50
	maxInlineResults    = 10
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	vaultRepo    *repository.VaultRepo
	batchRepo    *repository.BatchRepo
	resultRepo   *repository.ResultRepo
	orchestrator *engine.BatchOrchestrator
	reconciler   *reconcile.Service
	feedSvc      *ingestion.Service
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSchemaErrors(w http.ResponseWriter, violations []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":      "schema validation failed",
		"violations": violations,
	})
}

// --- request bodies ---

type batchInfo struct {
	BatchID    string `json:"batch_id"`
	TotalCards int    `json:"total_cards"`
	Source     string `json:"source,omitempty"`
}

type cardUpdatesRequest struct {
	BatchInfo         batchInfo                 `json:"batch_info"`
	CardUpdates       []domain.CardUpdateRecord `json:"card_updates"`
	ProcessingOptions domain.ProcessingOptions  `json:"processing_options"`
}

type exportData struct {
	ExportID     string                    `json:"export_id"`
	ExportDate   string                    `json:"export_date"`
	ExportType   string                    `json:"export_type"`
	TotalRecords int                       `json:"total_records"`
	VaultRecords []domain.VaultRecord      `json:"vault_records"`
	ACUUpdates   []domain.CardUpdateRecord `json:"acu_updates,omitempty"`
	DeltaChanges []domain.DeltaChange      `json:"delta_changes,omitempty"`
}

type vaultExportRequest struct {
	ExportData        exportData               `json:"export_data"`
	ProcessingOptions domain.ProcessingOptions `json:"processing_options"`
}

type retryRequest struct {
	BatchID   string   `json:"batch_id"`
	UpdateIDs []string `json:"update_ids"`
}

type validateRequest struct {
	CardUpdates []domain.CardUpdateRecord `json:"card_updates"`
}

// --- ProcessCardUpdates ---

func (h *Handlers) ProcessCardUpdates(w http.ResponseWriter, r *http.Request) {
	var req cardUpdatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var violations []string
	if req.BatchInfo.BatchID == "" {
		violations = append(violations, "batch_info.batch_id is required")
	}
	if len(req.CardUpdates) == 0 {
		violations = append(violations, "card_updates must not be empty")
	}
	if len(req.CardUpdates) != req.BatchInfo.TotalCards {
		violations = append(violations, fmt.Sprintf(
			"batch_info.total_cards is %d but %d card_updates were submitted",
			req.BatchInfo.TotalCards, len(req.CardUpdates)))
	}
	if len(violations) > 0 {
		writeSchemaErrors(w, violations)
		return
	}

	if err := h.batchRepo.Insert(req.BatchInfo.BatchID, "card_updates",
		req.BatchInfo.TotalCards, req.CardUpdates); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary, results, err := h.orchestrator.ProcessBatch(
		r.Context(), req.BatchInfo.BatchID, req.CardUpdates,
		req.BatchInfo.TotalCards, req.ProcessingOptions)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.resultRepo.SaveResults(req.BatchInfo.BatchID, results); err != nil {
		log.Printf("[api] WARNING: persist results for %s: %v", req.BatchInfo.BatchID, err)
	}
	metrics.BatchesProcessed.WithLabelValues("card_updates").Inc()

	sample := results
	if len(sample) > maxInlineResults {
		sample = sample[:maxInlineResults]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"batch_id":      req.BatchInfo.BatchID,
		"summary":       summary,
		"results":       sample,
		"total_results": len(results),
	})
}

// --- ProcessVaultExport ---

func (h *Handlers) ProcessVaultExport(w http.ResponseWriter, r *http.Request) {
	var req vaultExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	data := &req.ExportData
	var violations []string
	if data.ExportID == "" {
		violations = append(violations, "export_data.export_id is required")
	}
	if len(data.VaultRecords) != data.TotalRecords {
		violations = append(violations, fmt.Sprintf(
			"export_data.total_records is %d but %d vault_records were submitted",
			data.TotalRecords, len(data.VaultRecords)))
	}
	if len(violations) > 0 {
		writeSchemaErrors(w, violations)
		return
	}

	// Sync the exported vault records before processing anything keyed on them.
	for i := range data.VaultRecords {
		rec := &data.VaultRecords[i]
		if rec.VaultID == "" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("vault_records[%d] is missing vault_id", i))
			return
		}
		if err := h.vaultRepo.Upsert(nil, rec); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	var summary *domain.BatchSummary
	var results []domain.ProcessingResult
	if len(data.ACUUpdates) > 0 {
		if err := h.batchRepo.Insert(data.ExportID, "vault_export",
			len(data.ACUUpdates), data.ACUUpdates); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		var err error
		summary, results, err = h.orchestrator.ProcessBatch(
			r.Context(), data.ExportID, data.ACUUpdates,
			len(data.ACUUpdates), req.ProcessingOptions)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := h.resultRepo.SaveResults(data.ExportID, results); err != nil {
			log.Printf("[api] WARNING: persist results for %s: %v", data.ExportID, err)
		}
	}

	var deltaSummary *domain.DeltaSummary
	if len(data.DeltaChanges) > 0 {
		var err error
		deltaSummary, err = h.reconciler.Reconcile(r.Context(), data.DeltaChanges)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	metrics.BatchesProcessed.WithLabelValues("vault_export").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"export_id":         data.ExportID,
		"processing_result": buildExportResult(data, summary, results, deltaSummary),
	})
}

func buildExportResult(
	data *exportData,
	summary *domain.BatchSummary,
	results []domain.ProcessingResult,
	deltaSummary *domain.DeltaSummary,
) map[string]any {
	var validationErrors []string
	var riskFlags []string
	succeeded, failed := 0, 0

	for i := range results {
		res := &results[i]
		switch res.Status {
		case domain.StatusSuccess:
			succeeded++
		case domain.StatusFailed:
			failed++
		}
		for _, e := range res.Validation.Errors {
			if len(validationErrors) < maxValidationErrors {
				validationErrors = append(validationErrors,
					fmt.Sprintf("%s: %s", res.UpdateID, e))
			}
		}
		if res.Validation.RiskScore > 50 && len(riskFlags) < maxRiskFlags {
			riskFlags = append(riskFlags,
				fmt.Sprintf("%s: risk score %d", res.UpdateID, res.Validation.RiskScore))
		}
	}

	deltasProcessed := 0
	if deltaSummary != nil {
		deltasProcessed = deltaSummary.Total
	}
	totalProcessed := len(data.VaultRecords) + len(results) + deltasProcessed

	summaryText := fmt.Sprintf("synced %d vault records, applied %d of %d acu updates, reconciled %d deltas",
		len(data.VaultRecords), succeeded, len(results), deltasProcessed)

	result := map[string]any{
		"processing_status":       "completed",
		"total_processed":         totalProcessed,
		"successful_records":      len(data.VaultRecords) + succeeded,
		"failed_records":          failed,
		"acu_updates_applied":     succeeded,
		"delta_changes_processed": deltasProcessed,
		"validation_errors":       validationErrors,
		"risk_flags":              riskFlags,
		"processing_summary":      summaryText,
		"processed_at":            time.Now().UTC().Format(time.RFC3339),
	}
	if summary != nil {
		result["batch_summary"] = summary
	}
	if deltaSummary != nil {
		result["delta_summary"] = deltaSummary
	}
	return result
}

// --- status endpoints ---

func (h *Handlers) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, chi.URLParam(r, "batchID"), "batch_id")
}

func (h *Handlers) GetExportStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, chi.URLParam(r, "exportID"), "export_id")
}

func (h *Handlers) writeStatus(w http.ResponseWriter, id, idField string) {
	info, err := h.batchRepo.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results, err := h.resultRepo.GetByBatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info == nil && len(results) == 0 {
		writeError(w, http.StatusNotFound, "unknown batch: "+id)
		return
	}

	summary := domain.BatchSummary{BatchID: id}
	for i := range results {
		summary.Tally(&results[i])
	}
	status := "accepted"
	if len(results) > 0 {
		status = "completed"
		summary.ProcessedAt = results[len(results)-1].ProcessedAt
	}

	snapshot := map[string]any{
		idField:   id,
		"status":  status,
		"summary": summary,
	}
	if info != nil {
		snapshot["declared_count"] = info.DeclaredCount
		snapshot["submitted_at"] = info.CreatedAt
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// --- RetryCardUpdates ---

func (h *Handlers) RetryCardUpdates(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BatchID == "" || len(req.UpdateIDs) == 0 {
		writeSchemaErrors(w, []string{"batch_id and update_ids are required"})
		return
	}

	records, err := h.batchRepo.Records(req.BatchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		writeError(w, http.StatusNotFound, "unknown batch: "+req.BatchID)
		return
	}

	wanted := make(map[string]bool, len(req.UpdateIDs))
	for _, id := range req.UpdateIDs {
		wanted[id] = true
	}
	var subset []domain.CardUpdateRecord
	for i := range records {
		if wanted[records[i].UpdateID] {
			subset = append(subset, records[i])
		}
	}
	if len(subset) == 0 {
		writeError(w, http.StatusBadRequest, "none of the requested update_ids belong to this batch")
		return
	}

	// declared < 0: a retry is a deliberate subset, not a full batch.
	summary, results, err := h.orchestrator.ProcessBatch(
		r.Context(), req.BatchID, subset, -1, domain.ProcessingOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.resultRepo.SaveResults(req.BatchID, results); err != nil {
		log.Printf("[api] WARNING: persist retry results for %s: %v", req.BatchID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"batch_id": req.BatchID,
		"summary":  summary,
		"results":  results,
	})
}

// --- ValidateCardUpdates ---

// ValidateCardUpdates is the dry-run endpoint: validator, scorer, and policy
// only, no vault mutation.
func (h *Handlers) ValidateCardUpdates(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.CardUpdates) == 0 {
		writeSchemaErrors(w, []string{"card_updates must not be empty"})
		return
	}

	assessments := h.orchestrator.ValidateOnly(req.CardUpdates)

	type entry struct {
		UpdateID   string                  `json:"update_id"`
		Validation domain.ValidationResult `json:"validation"`
	}
	out := make([]entry, len(assessments))
	for i := range assessments {
		out[i] = entry{UpdateID: req.CardUpdates[i].UpdateID, Validation: assessments[i]}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": out,
		"total":   len(out),
	})
}

// --- IngestFeed ---

func (h *Handlers) IngestFeed(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	source := r.FormValue("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.feedSvc.IngestFeed(r.Context(), data, source, domain.ProcessingOptions{
		NotifyCustomers: true,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	counts, err := h.vaultRepo.CountByStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"vault":  counts,
	})
}
