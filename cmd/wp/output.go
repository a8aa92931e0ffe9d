package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"workopilot/internal/domain"
	"workopilot/internal/engine"
	"workopilot/internal/progress"
)

var (
	stateStyles = map[progress.State]lipgloss.Style{
		progress.ReadyToStart:  lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa")),
		progress.InExecution:   lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af")).Bold(true),
		progress.AIWorking:     lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af")),
		progress.NeedsReview:   lipgloss.NewStyle().Foreground(lipgloss.Color("#fab387")),
		progress.ReadyToReview: lipgloss.NewStyle().Foreground(lipgloss.Color("#fab387")).Bold(true),
		progress.ReadyToCommit: lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")).Bold(true),
		progress.Started:       lipgloss.NewStyle().Foreground(lipgloss.Color("#94e2d5")),
		progress.Done:          lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086")),
	}
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086"))
)

func renderState(s progress.State) string {
	label := s.Label()
	if s.Indicator() == progress.IndicatorSpinner {
		label = "◐ " + label
	}
	if style, ok := stateStyles[s]; ok {
		return style.Render(label)
	}
	return label
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Path", "Created"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Path, p.CreatedAt})
	}
	tw.Render()
	return nil
}

func printTasks(items []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Substatus", "Structured", "Modified by"})
	for _, t := range items {
		sub := ""
		if t.Substatus != nil {
			sub = string(*t.Substatus)
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, sub, t.AIMetadata.StructuringComplete, t.ModifiedBy})
	}
	tw.Render()
	return nil
}

func printTaskFull(t domain.TaskFull, sum progress.Summary) error {
	if viper.GetBool("json") {
		return printJSON(struct {
			domain.TaskFull
			Progress progress.Summary `json:"progress"`
		}{t, sum})
	}
	fmt.Printf("%s  %s\n", t.Title, dimStyle.Render(t.ID))
	fmt.Printf("Status:   %s", t.Status)
	if t.Substatus != nil {
		fmt.Printf(" (%s)", *t.Substatus)
	}
	fmt.Println()
	fmt.Printf("Progress: %s -> %s\n", renderState(sum.State), sum.Action)
	if t.Context.Description != "" {
		fmt.Printf("\n%s\n", t.Context.Description)
	}
	if len(t.Subtasks) == 0 {
		return nil
	}
	fmt.Println()
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Status"})
	for _, s := range t.Subtasks {
		tw.AppendRow(table.Row{s.Order, s.ID, s.Title, s.Status})
	}
	tw.Render()
	return nil
}

func printSubtasks(items []domain.Subtask) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Status"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.Order, s.ID, s.Title, s.Status})
	}
	tw.Render()
	return nil
}

func printProgress(taskID string, sum progress.Summary) error {
	if viper.GetBool("json") {
		return printJSON(struct {
			TaskID string `json:"task_id"`
			progress.Summary
		}{taskID, sum})
	}
	fmt.Printf("%s  %s  next: %s  (%d/%d subtasks)\n", taskID, renderState(sum.State), sum.Action, sum.SubtasksDone, sum.SubtasksTotal)
	return nil
}

func printQuickLinks(links []engine.QuickLink) error {
	if viper.GetBool("json") {
		return printJSON(links)
	}
	if len(links) == 0 {
		fmt.Println(dimStyle.Render("nothing to do"))
		return nil
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Task", "Title", "State", "Action", "Subtasks"})
	for _, l := range links {
		tw.AppendRow(table.Row{
			l.Task.ID, l.Task.Title, renderState(l.Progress.State), l.Progress.Action,
			fmt.Sprintf("%d/%d", l.Progress.SubtasksDone, l.Progress.SubtasksTotal),
		})
	}
	tw.Render()
	return nil
}

func printExecutions(items []domain.TaskExecution) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Task", "Subtask", "Status", "Started", "Heartbeat", "Error"})
	for _, x := range items {
		sub := ""
		if x.SubtaskID != nil {
			sub = *x.SubtaskID
		}
		tw.AppendRow(table.Row{x.ID, x.TaskID, sub, x.Status, x.StartedAt, x.HeartbeatAt, x.Error})
	}
	tw.Render()
	return nil
}

func printLogs(items []domain.LogEntry) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Time", "Event", "Entity", "Actor"})
	for _, l := range items {
		tw.AppendRow(table.Row{l.ID, l.TS, l.Event, l.EntityKind + ":" + l.EntityID, l.Actor})
	}
	tw.Render()
	return nil
}
