// Package loader reads voucher and external record fixtures from CSV files
// for the CLI host. Malformed rows are collected as row errors rather than
// failing the whole file; callers decide how many errors they tolerate.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/pkg/errors"
	"voucher-reconciliation-engine/pkg/logger"
)

// RowError describes one rejected CSV row
type RowError struct {
	Line    int
	Message string
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// LoadStats summarizes one file load
type LoadStats struct {
	RowsRead  int
	RowsValid int
	Errors    []RowError
}

// AddError records a rejected row
func (s *LoadStats) AddError(line int, message string) {
	s.Errors = append(s.Errors, RowError{Line: line, Message: message})
}

// Loader reads reconciliation fixtures from CSV files
type Loader struct {
	tenantID string
	log      logger.Logger
}

// NewLoader creates a loader that stamps every loaded record with the given
// tenant when the file carries no tenant_id column.
func NewLoader(tenantID string) *Loader {
	return &Loader{
		tenantID: tenantID,
		log:      logger.WithComponent("loader"),
	}
}

var voucherColumns = []string{"id", "date", "amount"}

// LoadVouchers reads source vouchers from a CSV file.
//
// Required columns: id, date, amount. Optional: tenant_id, narration, type,
// reference. Amounts tolerate currency symbols and thousand separators.
func (l *Loader) LoadVouchers(filePath string) ([]*models.Voucher, *LoadStats, error) {
	stats := &LoadStats{}

	rows, header, err := l.open(filePath, voucherColumns)
	if err != nil {
		return nil, stats, err
	}

	var vouchers []*models.Voucher
	for i, row := range rows {
		line := i + 2
		stats.RowsRead++

		voucher, rowErr := l.voucherFromRow(header, row)
		if rowErr != "" {
			stats.AddError(line, rowErr)
			continue
		}

		if err := voucher.Validate(); err != nil {
			stats.AddError(line, err.Error())
			continue
		}

		vouchers = append(vouchers, voucher)
		stats.RowsValid++
	}

	l.logLoad(filePath, "vouchers", stats)
	return vouchers, stats, nil
}

var targetColumns = []string{"id", "date", "amount"}

// LoadTargets reads external target records from a CSV file.
//
// Required columns: id, date, amount. Optional: tenant_id, narration,
// reference, status (defaults to UNMATCHED).
func (l *Loader) LoadTargets(filePath string) ([]*models.ExternalRecord, *LoadStats, error) {
	stats := &LoadStats{}

	rows, header, err := l.open(filePath, targetColumns)
	if err != nil {
		return nil, stats, err
	}

	var targets []*models.ExternalRecord
	for i, row := range rows {
		line := i + 2
		stats.RowsRead++

		target, rowErr := l.targetFromRow(header, row)
		if rowErr != "" {
			stats.AddError(line, rowErr)
			continue
		}

		if err := target.Validate(); err != nil {
			stats.AddError(line, err.Error())
			continue
		}

		targets = append(targets, target)
		stats.RowsValid++
	}

	l.logLoad(filePath, "targets", stats)
	return targets, stats, nil
}

// open reads the whole file and validates the header against the required
// columns. Fixture files are small; streaming is not worth the complexity
// here.
func (l *Loader) open(filePath string, required []string) ([][]string, map[string]int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headerRow, err := reader.Read()
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeInvalidFormat, filePath, err)
	}

	header := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, name := range required {
		if _, ok := header[name]; !ok {
			return nil, nil, errors.FileError(errors.CodeMissingColumn, filePath, nil).
				WithContext("column", name)
		}
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.FileError(errors.CodeInvalidFormat, filePath, err)
		}
		rows = append(rows, row)
	}

	return rows, header, nil
}

func (l *Loader) voucherFromRow(header map[string]int, row []string) (*models.Voucher, string) {
	amount, err := models.ParseDecimalFromString(field(header, row, "amount"))
	if err != nil {
		return nil, fmt.Sprintf("invalid amount: %v", err)
	}

	date, err := models.ParseTimeWithFormats(field(header, row, "date"))
	if err != nil {
		return nil, fmt.Sprintf("invalid date: %v", err)
	}

	tenantID := field(header, row, "tenant_id")
	if tenantID == "" {
		tenantID = l.tenantID
	}

	return &models.Voucher{
		ID:        field(header, row, "id"),
		TenantID:  tenantID,
		Date:      date,
		Amount:    amount,
		Narration: field(header, row, "narration"),
		Type:      field(header, row, "type"),
		Reference: field(header, row, "reference"),
	}, ""
}

func (l *Loader) targetFromRow(header map[string]int, row []string) (*models.ExternalRecord, string) {
	amount, err := models.ParseDecimalFromString(field(header, row, "amount"))
	if err != nil {
		return nil, fmt.Sprintf("invalid amount: %v", err)
	}

	date, err := models.ParseTimeWithFormats(field(header, row, "date"))
	if err != nil {
		return nil, fmt.Sprintf("invalid date: %v", err)
	}

	tenantID := field(header, row, "tenant_id")
	if tenantID == "" {
		tenantID = l.tenantID
	}

	status := models.RecordStatus(strings.ToUpper(field(header, row, "status")))
	if status == "" {
		status = models.StatusUnmatched
	}
	if !status.IsValid() {
		return nil, fmt.Sprintf("invalid status: %s", status)
	}

	return &models.ExternalRecord{
		ID:        field(header, row, "id"),
		TenantID:  tenantID,
		Date:      date,
		Amount:    amount,
		Narration: field(header, row, "narration"),
		Reference: field(header, row, "reference"),
		Status:    status,
	}, ""
}

func field(header map[string]int, row []string, name string) string {
	idx, ok := header[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (l *Loader) logLoad(filePath, kind string, stats *LoadStats) {
	entry := l.log.WithFields(logger.Fields{
		"file_path":  filePath,
		"kind":       kind,
		"rows_read":  stats.RowsRead,
		"rows_valid": stats.RowsValid,
	})

	if len(stats.Errors) > 0 {
		entry.WithField("error_count", len(stats.Errors)).Warn("Fixture load completed with row errors")
		return
	}

	entry.Info("Fixture load completed")
}
