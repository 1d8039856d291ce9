package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// ParsedTag is the mapping configuration read from one struct field tag.
type ParsedTag struct {
	ColumnName string // explicit or derived through the naming strategy
	Skip       bool   // db:"-"
	Type       string // provider type hint, e.g. numeric(10,2)
	Default    string // text coerced into the member when the column is NULL

	Null     bool
	NotNull  bool
	Primary  bool
	Identity bool

	Generator string // uuid, ulid, nanoid, snowflake
	Handler   string // name of a registered value handler

	Size      int
	Precision int
	Scale     int
}

// TagParser parses and caches field tags of the form
//
//	`db:"column;flag;key:value"`
//
// Recognized flags: primary, identity, null, not_null, auto_generate.
// Recognized keys: column, type, default, generator, handler, size,
// precision, scale.
type TagParser struct {
	tagName string
	naming  NamingStrategy

	mu    sync.RWMutex
	cache map[string]*ParsedTag
}

func NewTagParser(tagName string, naming NamingStrategy) *TagParser {
	return &TagParser{
		tagName: tagName,
		naming:  naming,
		cache:   make(map[string]*ParsedTag, 64),
	}
}

// ParseTag returns the configuration for a struct field.
//
//	`db:"user_id"`                     // column name only
//	`db:"id;primary;identity"`         // server generated key
//	`db:"amount;type:numeric(10,2)"`   // type hint for parameters
//	`db:"ref;generator:ulid"`          // filled on write when zero
//	`db:"tags;handler:csv"`            // named value handler
//	`db:"-"`                           // not mapped
func (p *TagParser) ParseTag(fieldName string, tag reflect.StructTag) (*ParsedTag, error) {
	value, ok := tag.Lookup(p.tagName)
	if !ok || value == "" {
		return &ParsedTag{ColumnName: p.naming.ColumnName(fieldName)}, nil
	}

	key := fieldName + "\x00" + value
	p.mu.RLock()
	cached, hit := p.cache[key]
	p.mu.RUnlock()
	if hit {
		return cached, nil
	}

	parsed, err := p.parse(fieldName, value)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldName, err)
	}

	p.mu.Lock()
	p.cache[key] = parsed
	p.mu.Unlock()
	return parsed, nil
}

func (p *TagParser) parse(fieldName, value string) (*ParsedTag, error) {
	if value == "-" {
		return &ParsedTag{Skip: true}, nil
	}

	parsed := &ParsedTag{ColumnName: p.naming.ColumnName(fieldName)}
	for i, option := range strings.Split(value, ";") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		if k, v, found := strings.Cut(option, ":"); found {
			if err := parsed.setKey(strings.TrimSpace(k), strings.TrimSpace(v)); err != nil {
				return nil, err
			}
			continue
		}
		if !parsed.setFlag(option) {
			if i != 0 {
				return nil, fmt.Errorf("unknown tag option %q", option)
			}
			parsed.ColumnName = option
		}
	}
	if parsed.Null && parsed.NotNull {
		return nil, fmt.Errorf("tag marks column %s both null and not_null", parsed.ColumnName)
	}
	return parsed, nil
}

func (t *ParsedTag) setFlag(flag string) bool {
	switch flag {
	case "primary", "primary_key":
		t.Primary = true
	case "identity", "auto_increment":
		t.Identity = true
	case "null":
		t.Null = true
	case "not_null", "not null":
		t.NotNull = true
	case "auto_generate", "auto":
		if t.Generator == "" {
			t.Generator = "uuid"
		}
	default:
		return false
	}
	return true
}

func (t *ParsedTag) setKey(key, value string) error {
	switch key {
	case "column", "name":
		t.ColumnName = value
	case "type":
		t.Type = value
	case "default":
		t.Default = value
	case "generator", "gen":
		t.Generator = value
	case "handler":
		t.Handler = value
	case "size":
		return parseNonNegative(key, value, &t.Size)
	case "precision":
		return parseNonNegative(key, value, &t.Precision)
	case "scale":
		return parseNonNegative(key, value, &t.Scale)
	default:
		return fmt.Errorf("unknown tag key %q", key)
	}
	return nil
}

func parseNonNegative(key, value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: must be integer", key, value)
	}
	if n < 0 {
		return fmt.Errorf("invalid %s value %d: must be non-negative", key, n)
	}
	*dst = n
	return nil
}
