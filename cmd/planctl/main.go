// planctl is a local maintenance CLI over the planner database: it
// renders the task tree, runs capacity reports, and completes tasks
// without going through the bot.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"org-planner/internal/model"
	"org-planner/internal/planner"
	"org-planner/internal/repository"
	"org-planner/internal/service"
)

var (
	flagDB     string
	flagUserID uint
)

var (
	styleCritical = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleHigh     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleElevated = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleLow      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleCategory = lipgloss.NewStyle().Bold(true)
	styleMuted    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	root := &cobra.Command{
		Use:           "planctl",
		Short:         "Inspect and manage the planner database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDB, "db", "org_planner.db", "path to the SQLite database")
	root.PersistentFlags().UintVar(&flagUserID, "user", 1, "internal user id to operate on")

	root.AddCommand(treeCmd(), reportCmd(), completeCmd(), nextCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "planctl:", err)
		os.Exit(1)
	}
}

func openServices() (*service.TaskService, func(), error) {
	db, err := repository.NewDB(flagDB)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	nodes := repository.NewNodeRepository(db)
	taskSvc := service.NewTaskService(nodes, service.NewRecurringService(nodes))
	return taskSvc, closeDB, nil
}

func cliUser() *model.User {
	return &model.User{ID: flagUserID}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the task tree with urgency and importance",
		RunE: func(cmd *cobra.Command, args []string) error {
			taskSvc, closeDB, err := openServices()
			if err != nil {
				return err
			}
			defer closeDB()

			forest, err := taskSvc.Forest(cmd.Context(), cliUser())
			if err != nil {
				return err
			}
			if len(forest) == 0 {
				fmt.Println(styleMuted.Render("no nodes yet"))
				return nil
			}

			now := time.Now()
			for _, rootNode := range forest {
				printNode(rootNode, now, 0)
			}
			return nil
		},
	}
}

func printNode(n *model.Node, now time.Time, depth int) {
	indent := strings.Repeat("  ", depth)
	if !n.IsTask() {
		fmt.Printf("%s%s  importance %d · urgency %d\n",
			indent,
			styleCategory.Render(fmt.Sprintf("%s (#%d)", n.Name, n.ID)),
			planner.EffectiveImportance(n),
			planner.EffectiveUrgency(n, now))
		for _, child := range n.Children {
			printNode(child, now, depth+1)
		}
		return
	}

	if n.IsCompleted {
		fmt.Printf("%s%s\n", indent, styleMuted.Render(fmt.Sprintf("✔ #%d %s", n.ID, n.Name)))
		return
	}

	enriched := planner.Enrich(*n, now)
	line := fmt.Sprintf("#%d %s [u%d]", n.ID, n.Name, enriched.UrgencyLevel)
	if n.InRecurringLineage() {
		line += " ↻"
	}
	if enriched.DaysUntilDeadline != nil {
		if enriched.Overdue {
			line += fmt.Sprintf("  overdue by %dd", -*enriched.DaysUntilDeadline)
		} else {
			line += fmt.Sprintf("  due in %dd", *enriched.DaysUntilDeadline)
		}
	}
	fmt.Printf("%s%s\n", indent, tierStyle(enriched.UrgencyTier).Render(line))
}

func tierStyle(tier string) lipgloss.Style {
	switch tier {
	case planner.TierCritical:
		return styleCritical
	case planner.TierHigh:
		return styleHigh
	case planner.TierElevated:
		return styleElevated
	default:
		return styleLow
	}
}

func reportCmd() *cobra.Command {
	var days int
	var bandName string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Required vs available hours over the coming window",
		RunE: func(cmd *cobra.Command, args []string) error {
			band, err := planner.ParseBand(bandName)
			if err != nil {
				return err
			}

			taskSvc, closeDB, err := openServices()
			if err != nil {
				return err
			}
			defer closeDB()

			tasks, err := taskSvc.ScheduledTasks(cmd.Context(), cliUser())
			if err != nil {
				return err
			}

			now := time.Now()
			window := planner.Window{Start: now, End: now.AddDate(0, 0, days)}
			report := planner.BuildReport(tasks, window, band, now)

			fmt.Printf("capacity report · next %dd · importance %s\n\n", days, band.Name)
			if report.TaskCount == 0 {
				fmt.Println(styleMuted.Render("no scheduled tasks with time estimates"))
				return nil
			}

			for _, load := range report.Tasks {
				label := fmt.Sprintf("%-30s %6.1fh", truncate(load.Task.Name, 30), load.RequiredHours)
				switch {
				case load.Overdue:
					label += styleCritical.Render(fmt.Sprintf("  overdue by %dd", -load.DaysUntilDeadline))
				case load.Partial:
					label += styleMuted.Render(fmt.Sprintf("  of %.1fh, due in %dd (partial)", load.TotalHours, load.DaysUntilDeadline))
				default:
					label += styleMuted.Render(fmt.Sprintf("  due in %dd", load.DaysUntilDeadline))
				}
				fmt.Println(label)
			}

			fmt.Printf("\nrequired  %.1fh\navailable %.1fh\nload      %.0f%%\n",
				report.TotalRequiredHours, report.TotalAvailableHours, report.LoadRatio*100)
			if report.LoadRatio > 1 {
				fmt.Println(styleCritical.Render("the window is overbooked"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 28, "window length in days")
	cmd.Flags().StringVar(&bandName, "importance", "all", "importance band: all, minimal, low, moderate, high, critical")
	return cmd
}

func completeCmd() *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed (spawns the next occurrence if recurring)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			taskSvc, closeDB, err := openServices()
			if err != nil {
				return err
			}
			defer closeDB()

			task, spawned, err := taskSvc.Complete(cmd.Context(), cliUser(), id, comment, time.Now())
			if err != nil {
				if task != nil {
					fmt.Printf("completed #%d %s\n", task.ID, task.Name)
					return fmt.Errorf("next occurrence failed: %w", err)
				}
				return err
			}

			fmt.Printf("completed #%d %s\n", task.ID, task.Name)
			if spawned != nil {
				fmt.Printf("spawned  #%d due %s\n", spawned.ID, spawned.Deadline.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "completion comment")
	return cmd
}

func nextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next <id>",
		Short: "Preview the next occurrence of a recurring task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			taskSvc, closeDB, err := openServices()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := context.Background()
			task, err := taskSvc.GetNode(ctx, cliUser(), id)
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					return fmt.Errorf("node #%d not found", id)
				}
				return err
			}

			next, err := taskSvc.NextOccurrence(task, time.Now())
			if err != nil {
				return err
			}
			if next == nil {
				fmt.Println("no further occurrences")
				return nil
			}
			fmt.Printf("%s, %s\n", next.Format("2006-01-02"), planner.Describe(planner.RuleOf(task)))
			return nil
		},
	}
}

func parseID(raw string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(v), nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
