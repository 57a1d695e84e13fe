// Package catalog renders the routing store for the CLI.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dyluth/chanrelay/internal/store"
)

// FormatTable writes collections as a table. Returns the number of rows.
func FormatTable(w io.Writer, collections []store.Collection, instanceName string) int {
	if len(collections) == 0 {
		fmt.Fprintf(w, "No collections found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Collections for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-20s %-12s %-24s %s\n", "ID", "NAME", "OWNER", "DESTINATION", "MEMBERS")
	fmt.Fprintf(w, "%-10s %-20s %-12s %-24s %s\n",
		"----------", "--------------------", "------------", "------------------------", "-------")

	for _, c := range collections {
		fmt.Fprintf(w, "%-10s %-20s %-12s %-24s %d\n",
			formatID(c.ID),
			truncate(c.Name, 20),
			orDash(truncate(c.Owner, 12)),
			orDash(truncate(c.Destination, 24)),
			c.MemberCount,
		)
	}

	noun := "collection"
	if len(collections) != 1 {
		noun = "collections"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(collections), noun)
	return len(collections)
}

// FormatJSONL writes one collection per line.
func FormatJSONL(w io.Writer, collections []store.Collection) error {
	for _, c := range collections {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal collection to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// Detail is one collection with its members.
type Detail struct {
	store.Collection
	Members []string `json:"members"`
}

// FormatDetail writes a collection and its members as pretty-printed JSON.
func FormatDetail(w io.Writer, d *Detail) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal collection to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID shows the first 8 characters; any 6+ prefix resolves back.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to max runes so multi-byte names stay valid UTF-8.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
