package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chatd/internal/session"
)

var badgeColors = map[session.StatusColor]lipgloss.Color{
	session.StatusSuccess: lipgloss.Color("42"),
	session.StatusWarning: lipgloss.Color("214"),
	session.StatusNeutral: lipgloss.Color("245"),
}

// statusBadge renders the session status label in its display color.
func statusBadge(st session.Status) string {
	c, ok := badgeColors[st.Color]
	if !ok {
		c = badgeColors[session.StatusNeutral]
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c).Render("● " + st.Label)
}

// splitCSV splits a comma separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
