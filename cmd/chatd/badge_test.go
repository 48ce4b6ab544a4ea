package main

import (
	"strings"
	"testing"

	"chatd/internal/session"
)

func TestStatusBadge_ShowsLabel(t *testing.T) {
	for _, st := range []session.Status{
		{Label: "Ready", Color: session.StatusSuccess},
		{Label: "Loading model", Color: session.StatusWarning},
		{Label: "Not loaded", Color: session.StatusNeutral},
		{Label: "Odd", Color: "unknown"},
	} {
		if got := statusBadge(st); !strings.Contains(got, st.Label) {
			t.Fatalf("badge %q does not contain %q", got, st.Label)
		}
	}
}
