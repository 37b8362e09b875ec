// Package safejson encodes arbitrary values as JSON, breaking reference cycles instead of
// failing on them.
//
// A pointer, map or slice which refers back to a value that is still being encoded on the
// current path is written as the string Circular. Shared references which do not form a
// cycle are encoded in full each time they appear.
package safejson

import (
	"bytes"
	"encoding"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Circular replaces a reference back into the value being encoded.
const Circular = "[Circular]"

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Marshal returns the JSON encoding of v with reference cycles elided.
// Struct fields are selected the way encoding/json selects them, including embedded
// struct promotion and the omitempty, string and "-" tag options. json.Marshaler and
// encoding.TextMarshaler implementations are delegated to.
func Marshal(v interface{}) ([]byte, error) {
	w := &walker{path: make(map[visit]struct{})}
	tree, err := w.walk(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// visit identifies a reference on the current encoding path.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walker struct {
	path map[visit]struct{}
}

// enter records k on the path, returning false when it is already there.
func (w *walker) enter(k visit) bool {
	if _, ok := w.path[k]; ok {
		return false
	}
	w.path[k] = struct{}{}
	return true
}

func (w *walker) leave(k visit) {
	delete(w.path, k)
}

// walk converts v into a tree of values encoding/json can encode without recursion.
func (w *walker) walk(v reflect.Value) (interface{}, error) {
	if !v.IsValid() {
		return nil, nil
	}

	if m, ok := marshaler(v); ok {
		if m == nil {
			return nil, nil
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return w.walk(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		k := visit{ptr: v.Pointer(), typ: v.Type()}
		if !w.enter(k) {
			return Circular, nil
		}
		defer w.leave(k)
		return w.walk(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		k := visit{ptr: v.Pointer(), typ: v.Type()}
		if !w.enter(k) {
			return Circular, nil
		}
		defer w.leave(k)
		return w.walkMap(v)
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), nil // base64, cannot hold references.
		}
		k := visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if !w.enter(k) {
			return Circular, nil
		}
		defer w.leave(k)
		return w.walkList(v)
	case reflect.Array:
		return w.walkList(v)
	case reflect.Struct:
		return w.walkStruct(v)
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, &json.UnsupportedTypeError{Type: v.Type()}
	}

	return scalar(v), nil
}

// scalar returns the value held by v, including values only reachable
// through unexported embedded structs.
func scalar(v reflect.Value) interface{} {
	if v.CanInterface() {
		return v.Interface()
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	}
	return nil
}

// marshaler returns the value encoding/json would hand its own marshaling to, if any.
// A nil result with ok set means the value encodes as null.
func marshaler(v reflect.Value) (interface{}, bool) {
	if !v.CanInterface() {
		return nil, false
	}

	t := v.Type()
	if t.Kind() != reflect.Interface && (t.Implements(marshalerType) || t.Implements(textMarshalerType)) {
		if t.Kind() == reflect.Pointer && v.IsNil() {
			return nil, true
		}
		return v.Interface(), true
	}

	if t.Kind() != reflect.Pointer && v.CanAddr() {
		pt := reflect.PointerTo(t)
		if pt.Implements(marshalerType) || pt.Implements(textMarshalerType) {
			return v.Addr().Interface(), true
		}
	}
	return nil, false
}

func (w *walker) walkList(v reflect.Value) (interface{}, error) {
	out := make([]interface{}, v.Len())
	for i := range out {
		e, err := w.walk(v.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (w *walker) walkMap(v reflect.Value) (interface{}, error) {
	out := make(map[string]interface{}, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		e, err := w.walk(iter.Value())
		if err != nil {
			return nil, err
		}
		out[key] = e
	}
	return out, nil
}

// mapKey resolves a map key the way encoding/json does.
func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if k.Kind() == reflect.Pointer && k.IsNil() {
				return "", nil
			}
			b, err := tm.MarshalText()
			return string(b), err
		}
	}

	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", &json.UnsupportedTypeError{Type: k.Type()}
}

func (w *walker) walkStruct(v reflect.Value) (interface{}, error) {
	var obj object
	for _, f := range typeFields(v.Type()) {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue // behind a nil embedded pointer.
		}
		if f.omitEmpty && isEmpty(fv) {
			continue
		}

		var (
			e   interface{}
			err error
		)
		if f.quoted {
			e, err = w.quote(fv)
		} else {
			e, err = w.walk(fv)
		}
		if err != nil {
			return nil, err
		}
		obj = append(obj, member{key: f.name, value: e})
	}
	return obj, nil
}

// field is an encodable struct field, possibly promoted from an embedded struct.
type field struct {
	name      string
	index     []int
	tagged    bool
	omitEmpty bool
	quoted    bool
}

// typeFields lists the fields encoding/json would encode for struct type t, in the same
// order. Embedded structs are expanded breadth first and every struct type is expanded at
// most once, so embedded pointers back to an enclosing type are never followed.
func typeFields(t reflect.Type) []field {
	type embed struct {
		typ   reflect.Type
		index []int
	}

	var candidates []field
	visited := make(map[reflect.Type]bool)

	for level := []embed{{typ: t}}; len(level) > 0; {
		var next []embed
		for _, e := range level {
			if visited[e.typ] {
				continue
			}
			for i := 0; i < e.typ.NumField(); i++ {
				sf := e.typ.Field(i)
				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}

				ft := sf.Type
				if ft.Name() == "" && ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if sf.Anonymous {
					if !sf.IsExported() && ft.Kind() != reflect.Struct {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}

				name, opts, _ := strings.Cut(tag, ",")
				index := append(append([]int(nil), e.index...), i)
				if name == "" && sf.Anonymous && ft.Kind() == reflect.Struct {
					next = append(next, embed{typ: ft, index: index})
					continue
				}

				f := field{
					name:      name,
					index:     index,
					tagged:    name != "",
					omitEmpty: hasOption(opts, "omitempty"),
					quoted:    hasOption(opts, "string") && quotable(ft),
				}
				if !f.tagged {
					f.name = sf.Name
				}
				candidates = append(candidates, f)
			}
		}
		// mark after the whole level, the same type embedded twice at one depth conflicts.
		for _, e := range level {
			visited[e.typ] = true
		}
		level = next
	}

	return dominantFields(candidates)
}

// dominantFields resolves name clashes: the shallowest field wins, a tagged field beats
// untagged ones at the same depth and any other tie hides the name altogether.
func dominantFields(candidates []field) []field {
	byName := make(map[string][]field, len(candidates))
	var names []string
	for _, f := range candidates {
		if _, ok := byName[f.name]; !ok {
			names = append(names, f.name)
		}
		byName[f.name] = append(byName[f.name], f)
	}

	fields := make([]field, 0, len(names))
	for _, name := range names {
		if f, ok := dominant(byName[name]); ok {
			fields = append(fields, f)
		}
	}

	sort.Slice(fields, func(i, j int) bool {
		a, b := fields[i].index, fields[j].index
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
	return fields
}

func dominant(fields []field) (field, bool) {
	depth := len(fields[0].index)
	for _, f := range fields[1:] {
		if len(f.index) < depth {
			depth = len(f.index)
		}
	}

	var shallow, tagged []field
	for _, f := range fields {
		if len(f.index) != depth {
			continue
		}
		shallow = append(shallow, f)
		if f.tagged {
			tagged = append(tagged, f)
		}
	}

	switch {
	case len(shallow) == 1:
		return shallow[0], true
	case len(tagged) == 1:
		return tagged[0], true
	}
	return field{}, false
}

// fieldByIndex follows index through embedded structs, ok is false when a nil
// embedded pointer is in the way.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for k, i := range index {
		if k > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

func hasOption(opts, name string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == name {
			return true
		}
	}
	return false
}

// quotable reports whether the ",string" option applies to fields of kind t.
func quotable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	}
	return false
}

// quote encodes a ",string" field as a JSON string holding its JSON encoding.
func (w *walker) quote(v reflect.Value) (interface{}, error) {
	if _, ok := marshaler(v); ok {
		return w.walk(v)
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	b, err := json.Marshal(scalar(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// isEmpty mirrors the omitempty rule of encoding/json.
func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

type member struct {
	key   string
	value interface{}
}

// object is a JSON object which keeps struct field order.
type object []member

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		b, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
