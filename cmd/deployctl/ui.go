package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetshift/deployd/internal/api"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// ui writes styled console output.
type ui struct {
	out io.Writer
	err io.Writer
}

func (u *ui) Success(msg string) { fmt.Fprintln(u.out, successStyle.Render("✓ "+msg)) }
func (u *ui) Error(msg string)   { fmt.Fprintln(u.err, errorStyle.Render("✗ "+msg)) }
func (u *ui) Warning(msg string) { fmt.Fprintln(u.out, warningStyle.Render("⚠ "+msg)) }
func (u *ui) Subtle(msg string)  { fmt.Fprintln(u.out, subtleStyle.Render(msg)) }
func (u *ui) Header(msg string)  { fmt.Fprintln(u.out, headerStyle.Render(msg)) }

func (u *ui) KeyValue(key, value string) {
	fmt.Fprintf(u.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Table prints rows under headers with padded columns.
func (u *ui) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(headers))
		for i := range headers {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			parts[i] = c + strings.Repeat(" ", widths[i]-len(c))
		}
		return strings.Join(parts, "  ")
	}

	fmt.Fprintln(u.out, headerStyle.Render(line(headers)))
	for _, row := range rows {
		fmt.Fprintln(u.out, line(row))
	}
}

func (u *ui) Workspace(ws api.Workspace) {
	u.Header("Workspace " + ws.ID)
	u.KeyValue("created", ws.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, p := range ws.Paths {
		u.KeyValue("path", p)
	}
}

func (u *ui) Deployment(d api.Deployment) {
	u.Header("Deployment " + d.ID)
	u.KeyValue("workspace", d.WorkspaceID)
	u.KeyValue("state", d.State)
	u.KeyValue("topology", fmt.Sprintf("%d shard(s) x %d replica(s)", d.Shards, d.Replicas))
	if d.LastError != "" {
		u.KeyValue("last error", errorStyle.Render(d.LastError))
	}

	keys := make([]string, 0, len(d.Arguments))
	for k := range d.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		u.KeyValue("arg "+k, d.Arguments[k])
	}

	if len(d.Slots) == 0 {
		return
	}
	fmt.Fprintln(u.out)
	rows := make([][]string, 0, len(d.Slots))
	for _, s := range d.Slots {
		rows = append(rows, []string{
			strconv.Itoa(s.Shard),
			strconv.FormatInt(s.Ordinal, 10),
			s.Health,
			s.Handle,
		})
	}
	u.Table([]string{"SHARD", "ORDINAL", "HEALTH", "POD"}, rows)
}

func (u *ui) Deployments(ds []api.Deployment) {
	rows := make([][]string, 0, len(ds))
	for _, d := range ds {
		rows = append(rows, []string{
			d.ID,
			d.State,
			strconv.Itoa(d.Shards),
			strconv.Itoa(d.Replicas),
			d.WorkspaceID,
		})
	}
	u.Table([]string{"ID", "STATE", "SHARDS", "REPLICAS", "WORKSPACE"}, rows)
}
