package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailwatch/internal/theme"
)

// Layout splits the terminal into header, optional banner, content and
// status bar rows.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	BannerHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions and no
// banner.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// WithBanner returns a copy that reserves a row for the banner when
// shown is true.
func (l Layout) WithBanner(shown bool) Layout {
	l.BannerHeight = 0
	if shown {
		l.BannerHeight = 1
	}
	return l
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left for the main content area.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.BannerHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the top bar with the title on the left and the
// monitor status on the right.
func (l Layout) RenderHeader(title string, status string) string {
	return l.spread(theme.HeaderStyle, theme.HeaderStyle.Render(title), theme.HeaderStyle.Render(status))
}

// RenderBanner renders a full-width notice row, or nothing when text is
// empty.
func (l Layout) RenderBanner(text string) string {
	if text == "" {
		return ""
	}
	return theme.BannerStyle.Width(l.Width).MaxHeight(1).Render(text)
}

// RenderStatusBar renders the bottom bar with hints on the left and
// extra information, such as the public IP, on the right.
func (l Layout) RenderStatusBar(hints string, info string) string {
	return l.spread(theme.StatusBarStyle, theme.StatusBarStyle.Render(hints), theme.StatusBarStyle.Render(info))
}

// spread joins left and right with a filler in the bar's background.
func (l Layout) spread(bar lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(bar.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame stacks the rows, skipping an empty banner.
func (l Layout) RenderWithFrame(
	header string,
	banner string,
	content string,
	statusBar string,
) string {
	rows := []string{header}
	if banner != "" {
		rows = append(rows, banner)
	}
	rows = append(rows, content, statusBar)
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
