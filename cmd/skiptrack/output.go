package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/service"
)

// Color palette
var (
	plexOrange = lipgloss.Color("#E5A00D")
	dimGray    = lipgloss.Color("#6B7280")
	white      = lipgloss.Color("#F9FAFB")
	green      = lipgloss.Color("#10B981")
	red        = lipgloss.Color("#EF4444")
)

var (
	headingStyle = lipgloss.NewStyle().Foreground(plexOrange).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(white).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Foreground(dimGray)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
)

// cli is what every command runs against
type cli struct {
	svc         *service.MarkerService
	out         io.Writer
	in          io.Reader
	interactive bool // stdin is a terminal, so prompts can be answered
}

func (c *cli) heading(format string, args ...any) {
	fmt.Fprintln(c.out, headingStyle.Render(fmt.Sprintf(format, args...)))
}

func (c *cli) success(format string, args ...any) {
	fmt.Fprintln(c.out, successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

func (c *cli) note(format string, args ...any) {
	fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf(format, args...)))
}

func (c *cli) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		c.note("(none)")
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(dimGray)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(c.out, t.Render())
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

var markerHeaders = []string{"ID", "Item", "#", "Type", "Start", "End", "User"}

func markerRow(m domain.Marker) []string {
	return []string{
		id(m.ID), id(m.EpisodeID), strconv.Itoa(m.Index), string(m.Type),
		domain.FormatTimestamp(m.Start), domain.FormatTimestamp(m.End), yesNo(m.UserCreated),
	}
}

func (c *cli) markers(markers []domain.Marker) {
	rows := make([][]string, len(markers))
	for i, m := range markers {
		rows[i] = markerRow(m)
	}
	c.table(markerHeaders, rows)
}

func (c *cli) grouped(byEpisode map[int64][]domain.Marker) {
	var all []domain.Marker
	for _, epID := range domain.SortedKeys(byEpisode) {
		all = append(all, byEpisode[epID]...)
	}
	c.markers(all)
}

func (c *cli) buckets(b domain.Buckets) {
	counts := make([]int, 0, len(b))
	for k := range b {
		counts = append(counts, k)
	}
	sort.Ints(counts)
	rows := make([][]string, 0, len(counts))
	for _, k := range counts {
		if b[k] == 0 {
			continue
		}
		rows = append(rows, []string{strconv.Itoa(k), strconv.Itoa(b[k])})
	}
	c.table([]string{"Markers", "Items"}, rows)
}

var actionHeaders = []string{"Marker", "Op", "Item", "Type", "Start", "End", "Recorded"}

func actionRow(a domain.Action) []string {
	return []string{
		id(a.MarkerID), a.Op.String(), id(a.EpisodeID), string(a.Type),
		domain.FormatTimestamp(a.Start), domain.FormatTimestamp(a.End), formatUnix(a.RecordedAt),
	}
}

func (c *cli) actions(actions []domain.Action) {
	rows := make([][]string, len(actions))
	for i, a := range actions {
		rows[i] = actionRow(a)
	}
	c.table(actionHeaders, rows)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, v := range ids {
		parts[i] = id(v)
	}
	return strings.Join(parts, ", ")
}
