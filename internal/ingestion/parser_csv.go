package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cardvault/reconciler/internal/domain"
)

// ParseACUFeedCSV parses the flat-file format card networks use to deliver
// bulk updater results.
//
// Expected header:
//
//	update_id,vault_id,customer_id,prev_last4,prev_exp_month,prev_exp_year,new_last4,new_exp_month,new_exp_year,update_type,confidence
func ParseACUFeedCSV(data []byte) ([]domain.CardUpdateRecord, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 11 {
		return nil, fmt.Errorf("expected 11 columns, got %d", len(header))
	}

	var records []domain.CardUpdateRecord
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < 11 {
			continue
		}

		prevMonth, err := strconv.Atoi(strings.TrimSpace(row[4]))
		if err != nil {
			return nil, fmt.Errorf("line %d prev_exp_month: %w", lineNum, err)
		}
		prevYear, err := strconv.Atoi(strings.TrimSpace(row[5]))
		if err != nil {
			return nil, fmt.Errorf("line %d prev_exp_year: %w", lineNum, err)
		}
		newMonth, err := strconv.Atoi(strings.TrimSpace(row[7]))
		if err != nil {
			return nil, fmt.Errorf("line %d new_exp_month: %w", lineNum, err)
		}
		newYear, err := strconv.Atoi(strings.TrimSpace(row[8]))
		if err != nil {
			return nil, fmt.Errorf("line %d new_exp_year: %w", lineNum, err)
		}
		confidence, err := strconv.Atoi(strings.TrimSpace(row[10]))
		if err != nil {
			return nil, fmt.Errorf("line %d confidence: %w", lineNum, err)
		}

		rec := domain.CardUpdateRecord{
			UpdateID:   strings.TrimSpace(row[0]),
			VaultID:    strings.TrimSpace(row[1]),
			CustomerID: strings.TrimSpace(row[2]),
			PreviousCard: domain.CardInfo{
				Last4:    strings.TrimSpace(row[3]),
				ExpMonth: prevMonth,
				ExpYear:  prevYear,
			},
			UpdatedCard: domain.CardInfo{
				Last4:            strings.TrimSpace(row[6]),
				ExpMonth:         newMonth,
				ExpYear:          newYear,
				UpdateConfidence: confidence,
			},
			UpdateDetails: domain.UpdateDetails{
				UpdateType: domain.UpdateType(strings.TrimSpace(row[9])),
			},
		}
		records = append(records, rec)
	}

	return records, nil
}
