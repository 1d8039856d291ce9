package schema

import (
	"fmt"
	"strings"
	"unicode"

	pluralizer "github.com/gertd/go-pluralize"
)

var pluralizeClient = pluralizer.NewClient()

// NamingStrategy maps Go identifiers to column and relation names.
type NamingStrategy interface {
	ColumnName(fieldName string) string
	TableName(typeName string) string
}

// SnakeCase maps UserID to user_id. Relation names are pluralized when Plural
// is set (BlogPost -> blog_posts).
type SnakeCase struct{ Plural bool }

func (s SnakeCase) ColumnName(fieldName string) string { return toSnakeCase(fieldName) }

func (s SnakeCase) TableName(typeName string) string {
	name := toSnakeCase(typeName)
	if s.Plural {
		return pluralizeLast(name, "_")
	}
	return name
}

// CamelCase maps UserID to userId.
type CamelCase struct{ Plural bool }

func (c CamelCase) ColumnName(fieldName string) string { return toCamelCase(fieldName) }

func (c CamelCase) TableName(typeName string) string {
	name := toCamelCase(typeName)
	if c.Plural {
		return pluralizeLast(name, "")
	}
	return name
}

// Verbatim leaves identifiers untouched.
type Verbatim struct{}

func (Verbatim) ColumnName(fieldName string) string { return fieldName }
func (Verbatim) TableName(typeName string) string   { return typeName }

// DefaultNamingStrategy is snake_case columns with plural relation names.
func DefaultNamingStrategy() NamingStrategy { return SnakeCase{Plural: true} }

// NamingStrategyByName resolves the names accepted in configuration files.
func NamingStrategyByName(name string) (NamingStrategy, error) {
	switch strings.ToLower(name) {
	case "", "snake", "snake_case":
		return SnakeCase{Plural: true}, nil
	case "snake_singular":
		return SnakeCase{}, nil
	case "camel", "camel_case":
		return CamelCase{Plural: true}, nil
	case "camel_singular":
		return CamelCase{}, nil
	case "verbatim", "none":
		return Verbatim{}, nil
	default:
		return nil, fmt.Errorf("schema: unknown naming strategy %q", name)
	}
}

var acronyms = map[string]string{
	"ID":     "id",
	"UUID":   "uuid",
	"ULID":   "ulid",
	"URL":    "url",
	"API":    "api",
	"JSON":   "json",
	"SQL":    "sql",
	"OAuth":  "o_auth",
	"OAuth2": "o_auth2",
}

func toSnakeCase(name string) string {
	if name == "" {
		return ""
	}
	if s, ok := acronyms[name]; ok {
		return s
	}
	if strings.Contains(name, "_") && !hasUpper(name) {
		return name
	}

	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// aB -> a_b, a1B -> a1_b, ABc -> a_bc
			if (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) && prev != '_' {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func toCamelCase(name string) string {
	parts := strings.Split(toSnakeCase(name), "_")
	var b strings.Builder
	b.Grow(len(name))
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// pluralizeLast pluralizes the final word of a compound name.
func pluralizeLast(name, sep string) string {
	if sep != "" {
		if i := strings.LastIndex(name, sep); i >= 0 {
			return name[:i+len(sep)] + pluralizeClient.Pluralize(name[i+len(sep):], 2, false)
		}
		return pluralizeClient.Pluralize(name, 2, false)
	}
	last := 0
	for i, r := range name {
		if unicode.IsUpper(r) {
			last = i
		}
	}
	head, tail := name[:last], name[last:]
	plural := pluralizeClient.Pluralize(strings.ToLower(tail), 2, false)
	if last > 0 {
		plural = strings.ToUpper(plural[:1]) + plural[1:]
	}
	return head + plural
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
