package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/export"
)

type alertLister interface {
	List(ctx context.Context, ownerID string, filter models.AlertFilter) ([]models.Alert, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

var alertExportHeaders = []string{"Date", "Patient", "Questionnaire", "Pathologie", "Score", "Réponses critiques", "Statut", "Assigné à", "Note"}

// ExportService renders triage data for download.
type ExportService struct {
	alerts alertLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(alerts alertLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{alerts: alerts, csv: csv, pdf: pdf, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// AlertsCSV renders the filtered alert list and returns the file name to serve it under.
func (s *ExportService) AlertsCSV(ctx context.Context, ownerID string, filter models.AlertFilter) ([]byte, string, error) {
	data, err := s.dataset(ctx, ownerID, filter)
	if err != nil {
		return nil, "", err
	}
	content, err := s.csv.Render(data)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render alerts")
	}
	s.logger.Sugar().Debugw("alerts exported", "owner_id", ownerID, "format", "csv", "rows", len(data.Rows))
	return content, s.filename("csv"), nil
}

// AlertsPDF renders the same table as AlertsCSV as a printable document.
func (s *ExportService) AlertsPDF(ctx context.Context, ownerID string, filter models.AlertFilter) ([]byte, string, error) {
	data, err := s.dataset(ctx, ownerID, filter)
	if err != nil {
		return nil, "", err
	}
	title := fmt.Sprintf("Alertes critiques au %s", s.now().Format("02/01/2006"))
	content, err := s.pdf.Render(data, title)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render alerts")
	}
	s.logger.Sugar().Debugw("alerts exported", "owner_id", ownerID, "format", "pdf", "rows", len(data.Rows))
	return content, s.filename("pdf"), nil
}

func (s *ExportService) dataset(ctx context.Context, ownerID string, filter models.AlertFilter) (export.Dataset, error) {
	alerts, err := s.alerts.List(ctx, ownerID, filter)
	if err != nil {
		return export.Dataset{}, err
	}
	data := export.Dataset{Headers: alertExportHeaders}
	for _, a := range alerts {
		data.AddRow(
			a.SubmittedAt.UTC().Format("2006-01-02 15:04"),
			derefString(a.RecipientEmail),
			a.Title,
			a.Pathology,
			strconv.FormatFloat(a.Score, 'f', 1, 64),
			formatCriticalAnswers(a.CriticalAnswers),
			string(a.Resolution.Status),
			derefString(a.Resolution.AssignedTo),
			derefString(a.Resolution.Note),
		)
	}
	return data, nil
}

func (s *ExportService) filename(ext string) string {
	return fmt.Sprintf("alertes-%s.%s", s.now().Format("20060102"), ext)
}

func formatCriticalAnswers(answers []models.CriticalAnswer) string {
	parts := make([]string, 0, len(answers))
	for _, a := range answers {
		label := a.Question
		if label == "" {
			label = fmt.Sprintf("Q%d", a.Index+1)
		}
		parts = append(parts, fmt.Sprintf("%s: %d", label, a.Answer))
	}
	return strings.Join(parts, " | ")
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
