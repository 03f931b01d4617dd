package cachestore

import (
	"fmt"
	"strings"
)

// filter builds a `where` clause and its bound args the way appview/db.go's
// filter helper composes query fragments: a slice of clause/args pairs
// joined with "and", skipped entirely when there are none.
type filter struct {
	clauses []string
	args    []any
}

func newFilter() *filter {
	return &filter{}
}

// Eq adds `column = ?` if value is non-zero (empty string, zero int).
func (f *filter) Eq(column string, value any) *filter {
	switch v := value.(type) {
	case string:
		if v == "" {
			return f
		}
	case int:
		if v == 0 {
			return f
		}
	}
	f.clauses = append(f.clauses, column+" = ?")
	f.args = append(f.args, value)
	return f
}

// In adds `column in (?, ?, ...)` if values is non-empty.
func (f *filter) In(column string, values []string) *filter {
	if len(values) == 0 {
		return f
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		f.args = append(f.args, v)
	}
	f.clauses = append(f.clauses, column+" in ("+strings.Join(placeholders, ", ")+")")
	return f
}

// HasTag adds an `exists (select 1 from tag ...)` clause if tag is set,
// correlated against table (the knot table currently being queried: a
// knot's id column lives in knot_hot, knot_warm, or cold_catalog
// depending on tier, but the tag table itself is shared across all
// three).
func (f *filter) HasTag(tag, table string) *filter {
	if tag == "" {
		return f
	}
	f.clauses = append(f.clauses, fmt.Sprintf("exists (select 1 from tag where tag.knot_id = %s.id and tag.tag = ?)", table))
	f.args = append(f.args, tag)
	return f
}

// Like adds a `column like ?` substring match against query (spec.md §4.3
// "predicates over ... query substring"), escaping the SQLite LIKE
// wildcards % and _ in the user's query so a literal search for e.g.
// "50%" doesn't accidentally match unrelated rows.
func (f *filter) Like(table, column, query string) *filter {
	if query == "" {
		return f
	}
	escaped := likeEscaper.Replace(query)
	f.clauses = append(f.clauses, fmt.Sprintf("%s.%s like ? escape '\\'", table, column))
	f.args = append(f.args, "%"+escaped+"%")
	return f
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// SQL renders the accumulated clauses, or "1 = 1" if there are none.
func (f *filter) SQL() string {
	if len(f.clauses) == 0 {
		return "1 = 1"
	}
	return strings.Join(f.clauses, " and ")
}

// Args returns the bound args in the order their clauses were added.
func (f *filter) Args() []any {
	return f.args
}

// ListFilter is the set of optional predicates List accepts, per spec.md
// §4.2 "listing/filtering by state, type, tag, profile, query substring"
// and SPEC_FULL.md §6.2. By default List excludes terminal (shipped/
// deferred/abandoned) knots entirely, including anything only present in
// cold_catalog; IncludeTerminal widens the listing to those as well.
type ListFilter struct {
	State           string
	Type            string
	Tag             string
	ProfileID       string
	Query           string
	IDs             []string
	IncludeTerminal bool
}

// buildFor composes the where-clause for table, which must be one of
// knot_hot, knot_warm, or cold_catalog. type/profile_id are only ever
// materialized on knot_hot (spec.md §3.5's warm/cold rows are headline-
// only); callers filtering on either skip the warm/cold queries entirely
// rather than rely on buildFor to exclude those rows.
func (lf ListFilter) buildFor(table string) *filter {
	f := newFilter().
		Eq("state", lf.State).
		In("id", lf.IDs).
		HasTag(lf.Tag, table).
		Like(table, "title", lf.Query)
	if table == "knot_hot" {
		f.Eq("type", lf.Type).Eq("profile_id", lf.ProfileID)
	}
	if !lf.IncludeTerminal && (table == "knot_hot" || table == "knot_warm") {
		f.clauses = append(f.clauses, "terminal = 0")
	}
	return f
}
