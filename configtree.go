package habitat

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Kind tags a Value as a scalar or a nested mapping
type Kind int

const (
	// KindScalar is a leaf value: string, number, bool, date or list
	KindScalar Kind = iota
	// KindMapping is a nested Tree
	KindMapping
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	if k == KindMapping {
		return "mapping"
	}
	return "scalar"
}

// Value is one entry of a configuration Tree: either a scalar or a nested
// Tree. The zero Value is a nil scalar.
type Value struct {
	kind    Kind
	scalar  any
	mapping Tree
}

// Tree is a configuration document: unique string keys mapped to scalars
// or nested trees. Key order carries no meaning.
type Tree map[string]Value

// ScalarValue returns a scalar Value. Numbers are normalised so that
// values decoded from JSON, TOML and YAML compare equal.
func ScalarValue(v any) (Value, error) {
	n, err := normalizeScalar(v)
	if err != nil {
		return Value{}, err
	}
	return Value{kind: KindScalar, scalar: n}, nil
}

// MappingValue returns a Value wrapping a nested tree
func MappingValue(t Tree) Value {
	if t == nil {
		t = Tree{}
	}
	return Value{kind: KindMapping, mapping: t}
}

// Kind returns the variant of the value
func (v Value) Kind() Kind {
	return v.kind
}

// IsMapping reports whether the value holds a nested tree
func (v Value) IsMapping() bool {
	return v.kind == KindMapping
}

// Mapping returns the nested tree, or nil for scalars
func (v Value) Mapping() Tree {
	if v.kind != KindMapping {
		return nil
	}
	return v.mapping
}

// Scalar returns the normalised scalar, or nil for mappings
func (v Value) Scalar() any {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// Equal reports structural equality
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindMapping {
		return v.mapping.Equal(o.mapping)
	}
	return scalarEqual(v.scalar, o.scalar)
}

func (v Value) clone() Value {
	if v.kind == KindMapping {
		return MappingValue(v.mapping.Clone())
	}
	return Value{kind: KindScalar, scalar: cloneScalar(v.scalar)}
}

func (v Value) plain() any {
	if v.kind == KindMapping {
		return v.mapping.ToMap()
	}
	return cloneScalar(v.scalar)
}

// FromMap converts a decoded document into a Tree. Nested maps become
// mappings, with non-string keys such as YAML integers turned into their
// decimal text; everything else is a scalar. Null leaves are dropped since
// TOML cannot express them.
func FromMap(m map[string]any) (Tree, error) {
	t := make(Tree, len(m))
	for k, raw := range m {
		if raw == nil {
			continue
		}
		v, err := valueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		t[k] = v
	}
	return t, nil
}

// MustFromMap is FromMap that panics on error, for literals in tests and
// examples
func MustFromMap(m map[string]any) Tree {
	t, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return t
}

func valueOf(raw any) (Value, error) {
	sub, ok, err := asStringMap(raw)
	if err != nil {
		return Value{}, err
	}
	if ok {
		t, err := FromMap(sub)
		if err != nil {
			return Value{}, err
		}
		return MappingValue(t), nil
	}
	return ScalarValue(raw)
}

// ToMap converts the tree back to plain maps, suitable for encoders
func (t Tree) ToMap() map[string]any {
	m := make(map[string]any, len(t))
	for k, v := range t {
		m[k] = v.plain()
	}
	return m
}

// Clone returns a deep copy of the tree
func (t Tree) Clone() Tree {
	c := make(Tree, len(t))
	for k, v := range t {
		c[k] = v.clone()
	}
	return c
}

// Equal reports structural equality of two trees
func (t Tree) Equal(o Tree) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the top-level keys in sorted order
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup walks the tree along path and returns the value found there
func (t Tree) Lookup(path ...string) (Value, bool) {
	cur := t
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return Value{}, false
		}
		if i == len(path)-1 {
			return v, true
		}
		if !v.IsMapping() {
			return Value{}, false
		}
		cur = v.mapping
	}
	return MappingValue(cur), true
}

// MarshalJSON encodes the tree as a JSON object
func (t Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToMap())
}

// UnmarshalJSON decodes a JSON object into the tree. A JSON null yields
// an empty tree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := decodeJSONNumbers(data, &raw); err != nil {
		return err
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func asStringMap(raw any) (map[string]any, bool, error) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true, nil
	case Tree:
		return m.ToMap(), true, nil
	}
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() || rv.Kind() != reflect.Map {
		return nil, false, nil
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, false, err
		}
		if _, dup := out[key]; dup {
			return nil, false, fmt.Errorf("duplicate key %q after conversion to string", key)
		}
		out[key] = iter.Value().Interface()
	}
	return out, true, nil
}

// mapKey renders a map key as the string TOML and the gateway use
func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", errors.New("null map key")
		}
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(k.Interface()), nil
	default:
		return "", fmt.Errorf("unsupported map key of type %s", k.Type())
	}
}

func normalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, errors.New("null has no TOML representation")
	case bool, string:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return normalizeUint(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return normalizeUint(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return f, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			el := rv.Index(i).Interface()
			sub, ok, err := asStringMap(el)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			if ok {
				t, err := FromMap(sub)
				if err != nil {
					return nil, fmt.Errorf("index %d: %w", i, err)
				}
				out[i] = t.ToMap()
				continue
			}
			n, err := normalizeScalar(el)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("unsupported config value of type %T", v)
	}
	// Dates and other comparable leaf types decoded by TOML or YAML
	return v, nil
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func scalarEqual(a, b any) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !scalarEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !scalarEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func cloneScalar(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneScalar(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, xv := range x {
			out[k] = cloneScalar(xv)
		}
		return out
	}
	return v
}
