package render

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"
)

// renderTable prints a struct or map as "key: value" rows and a slice as
// a header row followed by one row per element.
func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	v := indirect(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			fmt.Fprintln(w, "(no results)")
			return nil
		}
		names, _ := columns(v.Index(0))
		fmt.Fprintln(w, strings.Join(names, "\t"))
		for i := range v.Len() {
			_, values := columns(v.Index(i))
			fmt.Fprintln(w, strings.Join(values, "\t"))
		}
	case reflect.Struct, reflect.Map:
		names, values := columns(v)
		for i, name := range names {
			fmt.Fprintf(w, "%s:\t%s\n", name, values[i])
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return nil
}

// columns flattens one row. Struct fields are named by their json tag.
// Map keys are sorted so rows line up with the header.
func columns(v reflect.Value) (names, values []string) {
	v = indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, skip := fieldName(f)
			if skip {
				continue
			}
			names = append(names, name)
			values = append(values, cell(v.Field(i)))
		}
	case reflect.Map:
		keys := v.MapKeys()
		strs := make([]string, len(keys))
		byName := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			strs[i] = fmt.Sprint(k.Interface())
			byName[strs[i]] = v.MapIndex(k)
		}
		slices.Sort(strs)
		for _, s := range strs {
			names = append(names, s)
			values = append(values, cell(byName[s]))
		}
	default:
		names = []string{"value"}
		values = []string{cell(v)}
	}
	return names, values
}

func fieldName(f reflect.StructField) (string, bool) {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", true
		}
		if name != "" {
			return name, false
		}
	}
	return strings.ToLower(f.Name), false
}

func cell(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		if v.Type().Elem().Kind() == reflect.String && v.Len() <= 3 {
			parts := make([]string, v.Len())
			for i := range v.Len() {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%.4g", v.Float())
	default:
		return fmt.Sprint(v.Interface())
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
