package main

import (
	"fmt"
	"io"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/lumen-blog/blogctl/blog"
)

var styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var styleCell = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})
}

func renderArticles(w io.Writer, items []blog.ArticleSummary) {
	t := newTable("ID", "TITLE", "DATE")
	for _, a := range items {
		t.Row(a.ID, a.Title, a.Date)
	}
	fmt.Fprintln(w, t.String())
}

func renderFriends(w io.Writer, items []blog.Friend) {
	t := newTable("ID", "NAME", "URL", "TAGS")
	for _, f := range items {
		t.Row(f.ID, f.Name, f.URL, strings.Join(f.Tags, ", "))
	}
	fmt.Fprintln(w, t.String())
}

func renderArtworks(w io.Writer, items []blog.Artwork) {
	t := newTable("ID", "TITLE", "DATE", "THUMBNAIL")
	for _, a := range items {
		t.Row(a.ID, a.Title, a.Date, a.Thumbnail)
	}
	fmt.Fprintln(w, t.String())
}
