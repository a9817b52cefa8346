package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"org-planner/internal/model"
	"org-planner/internal/planner"
)

// ReportService builds human-readable summaries for notifications.
type ReportService struct {
	taskSvc *TaskService
}

func NewReportService(taskSvc *TaskService) *ReportService {
	return &ReportService{taskSvc: taskSvc}
}

// DailySummary renders the user's tree with urgency markers and the
// effective importance of every category.
func (s *ReportService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	forest, err := s.taskSvc.Forest(ctx, &user)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Ежедневный отчёт</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("02.01.2006")))

	if len(forest) == 0 {
		builder.WriteString("— дерево задач пока пусто\n")
		return strings.TrimSpace(builder.String()), nil
	}

	for _, root := range forest {
		writeNode(&builder, root, now, 0)
	}

	return strings.TrimSpace(builder.String()), nil
}

func writeNode(builder *strings.Builder, n *model.Node, now time.Time, depth int) {
	indent := strings.Repeat("   ", depth)

	if !n.IsTask() {
		builder.WriteString(fmt.Sprintf("%s📂 <b>%s</b> · важность %d\n",
			indent, escapeText(n.Name), planner.EffectiveImportance(n)))
		for _, child := range n.Children {
			writeNode(builder, child, now, depth+1)
		}
		return
	}

	if n.IsCompleted {
		return
	}

	enriched := planner.Enrich(*n, now)
	builder.WriteString(fmt.Sprintf("%s%s #%d %s", indent, tierIcon(enriched.UrgencyTier), n.ID, escapeText(n.Name)))
	if n.InRecurringLineage() {
		builder.WriteString(" ♻️")
	}
	builder.WriteByte('\n')

	if n.Deadline != nil {
		if enriched.Overdue {
			builder.WriteString(fmt.Sprintf("%s   ⏰ до %s — <b>просрочено</b>\n", indent, n.Deadline.Format("2006-01-02")))
		} else {
			builder.WriteString(fmt.Sprintf("%s   ⏰ до %s · осталось %d дн.\n", indent, n.Deadline.Format("2006-01-02"), *enriched.DaysUntilDeadline))
		}
	}
	if n.Details != "" {
		builder.WriteString(fmt.Sprintf("%s   📝 %s\n", indent, escapeText(n.Details)))
	}
}

// CapacitySummary renders the required-vs-available hours report over the
// coming days for tasks inside the importance band.
func (s *ReportService) CapacitySummary(ctx context.Context, user model.User, band planner.ImportanceBand, days int, now time.Time) (string, error) {
	tasks, err := s.taskSvc.ScheduledTasks(ctx, &user)
	if err != nil {
		return "", err
	}

	window := planner.Window{Start: now, End: now.AddDate(0, 0, days)}
	report := planner.BuildReport(tasks, window, band, now)

	var builder strings.Builder
	builder.WriteString("📊 <b>Отчёт по загрузке</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 Окно: %d дн. · важность: %s\n\n", days, band.Name))

	if report.TaskCount == 0 {
		builder.WriteString("— в окне нет задач с дедлайном и оценкой времени\n")
		return strings.TrimSpace(builder.String()), nil
	}

	for _, load := range report.Tasks {
		builder.WriteString(fmt.Sprintf("• <b>%s</b>", escapeText(load.Task.Name)))
		switch {
		case load.Overdue:
			builder.WriteString(fmt.Sprintf(" — %.1f ч, <b>просрочено на %d дн.</b>\n", load.RequiredHours, -load.DaysUntilDeadline))
		case load.Partial:
			builder.WriteString(fmt.Sprintf(" — %.1f ч из %.1f ч (дедлайн через %d дн., частично в окне)\n",
				load.RequiredHours, load.TotalHours, load.DaysUntilDeadline))
		default:
			builder.WriteString(fmt.Sprintf(" — %.1f ч, дедлайн через %d дн.\n", load.RequiredHours, load.DaysUntilDeadline))
		}
	}

	builder.WriteByte('\n')
	builder.WriteString(fmt.Sprintf("⏱ Требуется: <b>%.1f ч</b>\n", report.TotalRequiredHours))
	builder.WriteString(fmt.Sprintf("🔋 Доступно: <b>%.1f ч</b>\n", report.TotalAvailableHours))
	builder.WriteString(fmt.Sprintf("⚖️ Загрузка: <b>%.0f%%</b>", report.LoadRatio*100))
	if report.LoadRatio > 1 {
		builder.WriteString(" — план не помещается в окно")
	}

	return strings.TrimSpace(builder.String()), nil
}

func tierIcon(tier string) string {
	switch tier {
	case planner.TierCritical:
		return "🔴"
	case planner.TierHigh:
		return "🟠"
	case planner.TierElevated:
		return "🟡"
	default:
		return "🟢"
	}
}

func escapeText(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
