// Package search describes which record fields are indexed and ranks
// candidate records against a query.
package search

import (
	"sort"
	"strings"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// FieldKind separates scored text fields from exact-match filters.
type FieldKind int

const (
	Text FieldKind = iota
	Filter
)

// Field is one indexed attribute. Related text fields use a dotted name such
// as "tags.name".
type Field struct {
	Name         string
	Kind         FieldKind
	PartialMatch bool
	Boost        float64
}

func SearchField(name string, partial bool, boost float64) Field {
	return Field{Name: name, Kind: Text, PartialMatch: partial, Boost: boost}
}

func FilterField(name string) Field {
	return Field{Name: name, Kind: Filter}
}

// RelatedFields prefixes each nested field with the relation name.
func RelatedFields(relation string, fields ...Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		f.Name = relation + "." + f.Name
		out = append(out, f)
	}
	return out
}

// CollectionMemberFields are indexed for every record that belongs to a
// collection.
func CollectionMemberFields() []Field {
	return []Field{FilterField("collection")}
}

// DefaultMediaFields is the index definition of the built-in media type.
func DefaultMediaFields() []Field {
	fields := CollectionMemberFields()
	fields = append(fields, SearchField("title", true, 10))
	fields = append(fields, RelatedFields("tags", SearchField("name", true, 10))...)
	fields = append(fields, FilterField("uploaded_by_user"))
	return fields
}

// HasFilter reports whether name is declared as a filter field.
func HasFilter(fields []Field, name string) bool {
	for _, f := range fields {
		if f.Kind == Filter && f.Name == name {
			return true
		}
	}
	return false
}

// Terms splits a query into lower-cased words.
func Terms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Score sums the boost of every text field that matches a term.
func Score(fields []Field, m *models.Media, terms []string) float64 {
	var score float64
	for _, f := range fields {
		if f.Kind != Text {
			continue
		}
		values := fieldValues(f.Name, m)
		for _, term := range terms {
			for _, v := range values {
				if matches(strings.ToLower(v), term, f.PartialMatch) {
					score += boostOf(f)
					break
				}
			}
		}
	}
	return score
}

// Rank drops records that match no term and orders the rest by score, newest
// first on ties. An empty query keeps every record in recency order.
func Rank(fields []Field, records []*models.Media, query string) []*models.Media {
	terms := Terms(query)
	type scored struct {
		m     *models.Media
		score float64
	}
	hits := make([]scored, 0, len(records))
	for _, m := range records {
		s := Score(fields, m, terms)
		if len(terms) > 0 && s == 0 {
			continue
		}
		hits = append(hits, scored{m: m, score: s})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].m.CreatedAt.After(hits[j].m.CreatedAt)
	})
	out := make([]*models.Media, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out
}

func fieldValues(name string, m *models.Media) []string {
	switch name {
	case "title":
		return []string{m.Title}
	case "tags.name":
		return m.Tags
	case "file":
		return []string{m.Filename()}
	}
	return nil
}

func matches(value, term string, partial bool) bool {
	if partial {
		for _, word := range strings.Fields(value) {
			if strings.HasPrefix(word, term) {
				return true
			}
		}
		return strings.Contains(value, term)
	}
	for _, word := range strings.Fields(value) {
		if word == term {
			return true
		}
	}
	return false
}

func boostOf(f Field) float64 {
	if f.Boost == 0 {
		return 1
	}
	return f.Boost
}
