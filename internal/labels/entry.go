package labels

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Field names of a persisted entry.
const (
	FieldName     = "name"
	FieldGloss    = "gloss"
	FieldText     = "text"
	FieldLength   = "length"
	FieldImgsPath = "imgs_path"
)

// Entry is one persisted label.
type Entry struct {
	Name     string
	Gloss    string
	Text     string
	Length   int
	ImgsPath []string

	// Extra holds fields a prior archive carried beyond the five above.
	Extra map[string]any
}

// Archive maps a sample key to its entry for one partition.
type Archive map[string]Entry

// Overrides are the fields replaced when an entry is rebuilt.
type Overrides struct {
	Name     string
	Gloss    string
	Text     string
	ImgsPath []string
}

// NewEntry builds an entry from scratch.
func NewEntry(o Overrides) Entry {
	return Entry{}.With(o)
}

// With returns a new entry holding e's extra fields and the overrides.
// Length is always recomputed from the gloss.
func (e Entry) With(o Overrides) Entry {
	out := e.Clone()
	out.Name = o.Name
	out.Gloss = o.Gloss
	out.Text = o.Text
	out.Length = WordCount(o.Gloss)
	out.ImgsPath = append(make([]string, 0, len(o.ImgsPath)), o.ImgsPath...)
	return out
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	out.ImgsPath = append(make([]string, 0, len(e.ImgsPath)), e.ImgsPath...)
	if e.Extra != nil {
		out.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// WordCount is the whitespace token count of a gloss.
func WordCount(gloss string) int {
	return len(strings.Fields(gloss))
}

// EnsurePrefix prepends "<tag>/" unless name already starts with it.
func EnsurePrefix(name, tag string) string {
	prefix := tag + "/"
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

// BareName strips a leading "<partition>/" segment from a key.
func BareName(key string) string {
	if i := strings.Index(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Keys returns the archive keys in sorted order.
func (a Archive) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fields flattens an entry into the dictionary shape stored on disk.
func (e Entry) Fields() map[string]any {
	out := make(map[string]any, len(e.Extra)+5)
	for k, v := range e.Extra {
		out[k] = v
	}
	imgs := make([]any, len(e.ImgsPath))
	for i, p := range e.ImgsPath {
		imgs[i] = p
	}
	out[FieldName] = e.Name
	out[FieldGloss] = e.Gloss
	out[FieldText] = e.Text
	out[FieldLength] = e.Length
	out[FieldImgsPath] = imgs
	return out
}

// EntryFromFields is the inverse of Fields. Unknown keys land in Extra.
func EntryFromFields(fields map[string]any) (Entry, error) {
	var e Entry
	var err error
	for k, v := range fields {
		switch k {
		case FieldName:
			e.Name, err = asString(k, v)
		case FieldGloss:
			e.Gloss, err = asString(k, v)
		case FieldText:
			e.Text, err = asString(k, v)
		case FieldLength:
			e.Length, err = asInt(k, v)
		case FieldImgsPath:
			e.ImgsPath, err = asStrings(k, v)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[k] = v
		}
		if err != nil {
			return Entry{}, err
		}
	}
	if e.ImgsPath == nil {
		e.ImgsPath = []string{}
	}
	return e, nil
}

func asString(field string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("field %s: expected string, got %T", field, v)
	}
}

func asInt(field string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", field, err)
		}
		return int(i), nil
	case *big.Int:
		return int(n.Int64()), nil
	default:
		return 0, fmt.Errorf("field %s: expected integer, got %T", field, v)
	}
}

func asStrings(field string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, err := asString(fmt.Sprintf("%s[%d]", field, i), item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("field %s: expected list, got %T", field, v)
	}
}
