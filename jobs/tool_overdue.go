package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/tools"
)

// ToolOverdueJob nags the holder of every open checkout past its due date.
type ToolOverdueJob struct {
	Tenants  *stock.Repository
	Repo     tools.Repository
	Notifier alerts.Notifier
	Logger   *slog.Logger

	clock func() time.Time
}

// Handle implements the Asynq handler contract.
func (j *ToolOverdueJob) Handle(ctx context.Context, task *asynq.Task) error {
	now := j.now()
	tenants, err := j.Tenants.ListTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("tool overdue scan: list tenants: %w", err)
	}
	for _, tenantID := range tenants {
		overdue, err := j.Repo.ListOverdue(ctx, tenantID, now, 200)
		if err != nil {
			return fmt.Errorf("tool overdue scan: tenant %d: %w", tenantID, err)
		}
		for _, c := range overdue {
			userID := c.UserID
			alert := alerts.Alert{
				TenantID:    tenantID,
				Kind:        alerts.KindToolOverdue,
				Severity:    alerts.SeverityWarning,
				Title:       "Tool overdue",
				Message:     fmt.Sprintf("tool %d checked out since %s is past its due date", c.ToolID, c.CheckedOutAt.Format(time.RFC3339)),
				RecipientID: &userID,
				Meta: map[string]any{
					"checkout_id": c.ID,
					"tool_id":     c.ToolID,
					"due_at":      c.DueAt,
				},
				DedupKey:  fmt.Sprintf("checkout:%d", c.ID),
				CreatedAt: now,
			}
			if err := j.Notifier.Notify(ctx, alert); err != nil {
				j.logger().Warn("overdue alert enqueue failed",
					slog.Int64("tenant_id", tenantID),
					slog.Int64("checkout_id", c.ID),
					slog.Any("error", err))
			}
		}
	}
	return nil
}

func (j *ToolOverdueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ToolOverdueJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
