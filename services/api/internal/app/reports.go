package app

import (
	"context"
	"errors"
	"io"
	"strings"

	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/export"
	"interviewprep/pkg/ledger"
	"interviewprep/pkg/store"
)

// CreateReportRequest flags generated cells of one version.
type CreateReportRequest struct {
	QAVersionID string           `json:"qaVersionId"`
	Questions   []domain.ItemRef `json:"questions"`
	Answers     []domain.ItemRef `json:"answers"`
	Description string           `json:"description"`
}

// CreateReport records a pending report. Slots without content are dropped;
// a report with nothing left is rejected.
func (a *App) CreateReport(ctx context.Context, userID string, req CreateReportRequest) (domain.Report, error) {
	v, err := a.GetVersion(ctx, userID, strings.TrimSpace(req.QAVersionID))
	if err != nil {
		return domain.Report{}, err
	}
	items := domain.ReportItems{
		Questions: reportItems(req.Questions, v.Question),
		Answers:   reportItems(req.Answers, v.Answer),
	}
	if items.Count() == 0 {
		return domain.Report{}, invalidf("no reportable items selected")
	}
	now := a.now()
	r := domain.Report{
		ID:          util.NewID(),
		UserID:      userID,
		InterviewID: v.InterviewID,
		QAVersionID: v.ID,
		Items:       items,
		Description: strings.TrimSpace(req.Description),
		Status:      domain.ReportPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateReport(ctx, r); err != nil {
		return domain.Report{}, err
	}
	return r, nil
}

func reportItems(refs []domain.ItemRef, content func(domain.ItemRef) string) []domain.ReportItem {
	seen := make(map[domain.ItemRef]struct{}, len(refs))
	out := make([]domain.ReportItem, 0, len(refs))
	for _, ref := range refs {
		ref.Category = strings.TrimSpace(ref.Category)
		if !domain.ValidSlot(ref) || content(ref) == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, domain.ReportItem{Category: ref.Category, Index: ref.Index})
	}
	return out
}

// ListReports returns the user's own reports.
func (a *App) ListReports(ctx context.Context, userID string, limit, offset int) ([]domain.Report, int64, error) {
	return a.store.ListReports(ctx, store.ReportFilter{UserID: userID, Limit: limit, Offset: offset})
}

// AdminListReports pages through every report.
func (a *App) AdminListReports(ctx context.Context, filter store.ReportFilter) ([]domain.Report, int64, error) {
	return a.store.ListReports(ctx, filter)
}

func (a *App) AdminGetReport(ctx context.Context, id string) (domain.Report, error) {
	r, ok, err := a.store.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if !ok {
		return domain.Report{}, ErrReportNotFound
	}
	return r, nil
}

// UpdateReportStatus sets the review status and the admin's response.
func (a *App) UpdateReportStatus(ctx context.Context, id string, status domain.ReportStatus, response string) (domain.Report, error) {
	if !status.Valid() {
		return domain.Report{}, invalidf("invalid report status %q", status)
	}
	if err := a.store.UpdateReportStatus(ctx, id, status, strings.TrimSpace(response), a.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Report{}, ErrReportNotFound
		}
		return domain.Report{}, err
	}
	return a.AdminGetReport(ctx, id)
}

// RefundReportItem flags one reported cell refunded and credits its owner in
// the same transaction. A second call for the same cell is rejected.
func (a *App) RefundReportItem(ctx context.Context, reportID string, kind domain.ItemKind, category string, index int) (domain.Report, error) {
	if kind != domain.ItemQuestion && kind != domain.ItemAnswer {
		return domain.Report{}, invalidf("invalid item type %q", kind)
	}
	category = strings.TrimSpace(category)
	amount := ItemRefundAmount(kind)
	r, entry, err := a.store.RefundReportItem(ctx, store.RefundItemRequest{
		ReportID: reportID,
		Kind:     kind,
		Category: category,
		Index:    index,
		At:       a.now(),
		Entry: a.ledger.RefundEntry("", amount, ledger.Entry{
			Key:      ledger.ReportRefundKey(reportID, kind, category, index),
			Reason:   "report item refund",
			ReportID: reportID,
		}),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Report{}, ErrReportNotFound
	case errors.Is(err, store.ErrItemNotFound):
		return domain.Report{}, ErrReportItemNotFound
	case errors.Is(err, store.ErrAlreadyRefunded), errors.Is(err, store.ErrDuplicateTransaction):
		return domain.Report{}, ErrAlreadyRefunded
	case err != nil:
		return domain.Report{}, err
	}
	util.LoggerFromContext(ctx).Info("report_item_refunded",
		"report_id", reportID, "user_id", r.UserID, "kind", kind, "category", category, "index", index,
		"amount", amount.String(), "balance_after", entry.BalanceAfter.String())
	return r, nil
}

// ExportReports writes matching reports as an xlsx workbook.
func (a *App) ExportReports(ctx context.Context, w io.Writer, status domain.ReportStatus) error {
	reports, _, err := a.store.ListReports(ctx, store.ReportFilter{Status: status, Limit: 200})
	if err != nil {
		return err
	}
	return export.WriteReports(w, reports)
}
