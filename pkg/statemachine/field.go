package statemachine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
)

// TagName is the struct tag used to mark the state and id fields:
//
//	type Order struct {
//	    ID    uuid.UUID `fsm:"id" db:"id"`
//	    State string    `fsm:"state" db:"state"`
//	}
const TagName = "fsm"

const (
	tagState    = "state"
	tagID       = "id"
	tagEmbedded = "embedded"
)

// StateAccessor reads and writes the state slot of an entity.
// Get returns "" when no state has been assigned yet.
type StateAccessor[T any] struct {
	Column string
	Get    func(entity T) string
	Set    func(entity T, state string)
}

// IsZero reports whether the accessor has not been configured.
func (a StateAccessor[T]) IsZero() bool {
	return a.Get == nil || a.Set == nil
}

// IDAccessor reads the identity of an entity. Columns and the values returned
// by Get line up one to one; composite identities have several of each.
// Get reports false when the entity has no identity yet.
type IDAccessor[T any] struct {
	Columns []string
	Get     func(entity T) ([]any, bool)
}

func (a IDAccessor[T]) IsZero() bool {
	return a.Get == nil || len(a.Columns) == 0
}

// FieldOption controls how column names are derived from struct fields.
type FieldOption func(*fieldOptions)

type fieldOptions struct {
	tags     []string
	fallback func(field string) string
	nested   bool
}

func newFieldOptions(opts []FieldOption) *fieldOptions {
	o := &fieldOptions{
		tags:     []string{"db", "bson"},
		fallback: toSnakeCase,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithColumnTags sets the struct tags consulted, in order, for a column name.
// The default is db, then bson.
func WithColumnTags(tags ...string) FieldOption {
	return func(o *fieldOptions) {
		if len(tags) > 0 {
			o.tags = tags
		}
	}
}

// WithFallbackName names untagged fields. The default is snake_case.
func WithFallbackName(fn func(field string) string) FieldOption {
	return func(o *fieldOptions) {
		if fn != nil {
			o.fallback = fn
		}
	}
}

// WithNestedColumns names the fields of an `fsm:"id,embedded"` struct
// "<parent>.<field>" instead of "<field>", for stores that address
// sub-documents by dotted path.
func WithNestedColumns() FieldOption {
	return func(o *fieldOptions) {
		o.nested = true
	}
}

// StateFieldByName builds a StateAccessor for the exported field called name.
func StateFieldByName[T any](name string, opts ...FieldOption) (StateAccessor[T], error) {
	st, err := entityStruct[T]()
	if err != nil {
		return StateAccessor[T]{}, err
	}

	f, ok := st.FieldByName(name)
	if !ok {
		return StateAccessor[T]{}, fmt.Errorf("%w: %s has no field %q", ErrStateFieldNotFound, st, name)
	}
	return stateAccessor[T](f, newFieldOptions(opts))
}

// StateFieldByTag builds a StateAccessor for the single field tagged `fsm:"state"`.
func StateFieldByTag[T any](opts ...FieldOption) (StateAccessor[T], error) {
	st, err := entityStruct[T]()
	if err != nil {
		return StateAccessor[T]{}, err
	}

	fields := taggedFields(st, tagState, nil)
	switch len(fields) {
	case 0:
		return StateAccessor[T]{}, fmt.Errorf("%w: %s", ErrStateFieldNotFound, st)
	case 1:
		return stateAccessor[T](fields[0], newFieldOptions(opts))
	default:
		return StateAccessor[T]{}, fmt.Errorf("%w: %s", ErrAmbiguousStateField, st)
	}
}

// IDFieldByTag builds an IDAccessor from the fields tagged `fsm:"id"`.
// Several tagged fields form a composite identity in declaration order.
// A struct field tagged `fsm:"id,embedded"` is expanded into its exported fields.
//
// An entity counts as unsaved, and Get reports false, when every component is
// zero or any pointer component is nil. A composite key such as
// (order_id=42, line_no=0) is a saved identity.
func IDFieldByTag[T any](opts ...FieldOption) (IDAccessor[T], error) {
	st, err := entityStruct[T]()
	if err != nil {
		return IDAccessor[T]{}, err
	}
	o := newFieldOptions(opts)

	var (
		columns []string
		indexes [][]int
	)
	for _, f := range taggedFields(st, tagID, nil) {
		if hasTagOption(f, tagEmbedded) && f.Type.Kind() == reflect.Struct {
			parent := o.columnName(f)
			for i := range f.Type.NumField() {
				sub := f.Type.Field(i)
				if !sub.IsExported() {
					continue
				}
				column := o.columnName(sub)
				if o.nested {
					column = parent + "." + column
				}
				columns = append(columns, column)
				indexes = append(indexes, append(append([]int{}, f.Index...), sub.Index...))
			}
			continue
		}
		if !f.IsExported() {
			return IDAccessor[T]{}, fmt.Errorf("%w: field %s must be exported", ErrIDFieldNotFound, f.Name)
		}
		columns = append(columns, o.columnName(f))
		indexes = append(indexes, f.Index)
	}
	if len(columns) == 0 {
		return IDAccessor[T]{}, fmt.Errorf("%w: %s", ErrIDFieldNotFound, st)
	}

	return IDAccessor[T]{
		Columns: columns,
		Get: func(entity T) ([]any, bool) {
			v := reflect.ValueOf(entity)
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
			values := make([]any, 0, len(indexes))
			allZero := true
			for _, idx := range indexes {
				fv, err := v.FieldByIndexErr(idx)
				if err != nil {
					return nil, false
				}
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						return nil, false
					}
					allZero = false
					fv = fv.Elem()
				} else if !fv.IsZero() {
					allZero = false
				}
				values = append(values, fv.Interface())
			}
			if allZero {
				return nil, false
			}
			return values, true
		},
	}, nil
}

func stateAccessor[T any](f reflect.StructField, o *fieldOptions) (StateAccessor[T], error) {
	if !f.IsExported() {
		return StateAccessor[T]{}, fmt.Errorf("%w: field %s", ErrInvalidStateField, f.Name)
	}

	idx := f.Index
	switch {
	case f.Type.Kind() == reflect.String:
		return StateAccessor[T]{
			Column: o.columnName(f),
			Get: func(entity T) string {
				return reflect.ValueOf(entity).Elem().FieldByIndex(idx).String()
			},
			Set: func(entity T, state string) {
				reflect.ValueOf(entity).Elem().FieldByIndex(idx).SetString(state)
			},
		}, nil
	case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.String:
		return StateAccessor[T]{
			Column: o.columnName(f),
			Get: func(entity T) string {
				fv := reflect.ValueOf(entity).Elem().FieldByIndex(idx)
				if fv.IsNil() {
					return ""
				}
				return fv.Elem().String()
			},
			Set: func(entity T, state string) {
				fv := reflect.ValueOf(entity).Elem().FieldByIndex(idx)
				ptr := reflect.New(f.Type.Elem())
				ptr.Elem().SetString(state)
				fv.Set(ptr)
			},
		}, nil
	default:
		return StateAccessor[T]{}, fmt.Errorf("%w: field %s is %s", ErrInvalidStateField, f.Name, f.Type)
	}
}

func entityStruct[T any]() (reflect.Type, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, errors.Join(ErrInvalidEntityType, fmt.Errorf("got %s", t))
	}
	return t.Elem(), nil
}

// taggedFields walks st, descending into anonymous struct fields, and
// collects the fields whose fsm tag starts with name.
func taggedFields(st reflect.Type, name string, prefix []int) []reflect.StructField {
	var out []reflect.StructField
	for i := range st.NumField() {
		f := st.Field(i)
		f.Index = append(append([]int{}, prefix...), f.Index...)

		if tag, ok := f.Tag.Lookup(TagName); ok && strings.Split(tag, ",")[0] == name {
			out = append(out, f)
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeFor[time.Time]() {
			out = append(out, taggedFields(f.Type, name, f.Index)...)
		}
	}
	return out
}

func hasTagOption(f reflect.StructField, option string) bool {
	parts := strings.Split(f.Tag.Get(TagName), ",")
	for _, p := range parts[1:] {
		if strings.TrimSpace(p) == option {
			return true
		}
	}
	return false
}

// columnName takes the first configured tag naming the field, falling back
// to the derived name.
func (o *fieldOptions) columnName(f reflect.StructField) string {
	for _, key := range o.tags {
		if tag, ok := f.Tag.Lookup(key); ok {
			if name := strings.Split(tag, ",")[0]; name != "" && name != "-" {
				return name
			}
		}
	}
	return o.fallback(f.Name)
}

func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
