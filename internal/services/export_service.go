package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ruralpay/offline-wallet/internal/models"
)

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"

	exportDateLayout = "2006-01-02 15:04:05"
)

var exportHeader = []string{"Transaction ID", "Date", "Destination Address", "Amount (XLM)", "Memo", "Status"}

// TransactionLister is the read side of the queue
type TransactionLister interface {
	ListAll(ctx context.Context) []models.PendingTransaction
}

// Export is a rendered file ready to download
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type ExportService struct {
	txs TransactionLister
	loc *time.Location
	now func() time.Time
}

func NewExportService(txs TransactionLister, loc *time.Location) *ExportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ExportService{txs: txs, loc: loc, now: time.Now}
}

func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportCSV:
		return ExportCSV, nil
	case ExportJSON:
		return ExportJSON, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Export renders every stored record in the requested format
func (s *ExportService) Export(ctx context.Context, format ExportFormat) (*Export, error) {
	txs := s.txs.ListAll(ctx)

	var (
		body        []byte
		contentType string
		err         error
	)
	switch format {
	case ExportCSV:
		body, err = s.renderCSV(txs)
		contentType = "text/csv"
	case ExportJSON:
		body, err = json.MarshalIndent(txs, "", "  ")
		contentType = "application/json"
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render export: %w", err)
	}

	return &Export{
		Filename:    fmt.Sprintf("stellar-transactions-%s.%s", s.now().In(s.loc).Format("2006-01-02"), format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

func (s *ExportService) renderCSV(txs []models.PendingTransaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, tx := range txs {
		row := []string{
			tx.ID,
			tx.CreatedAt().In(s.loc).Format(exportDateLayout),
			tx.Destination,
			tx.Amount,
			tx.Memo,
			string(tx.Status),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
