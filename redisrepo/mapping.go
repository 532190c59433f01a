package redisrepo

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joomcode/errorx"
	"github.com/mitchellh/mapstructure"
)

// Flatten converts entity into flat hash:
// nested properties become "a.b", map entries "m.[key]", list elements "l.[0]".
func Flatten(entity interface{}) (map[string]string, error) {
	out := make(map[string]string)
	if err := flatten(out, "", reflect.ValueOf(entity), map[uintptr]bool{}); err != nil {
		return nil, err
	}
	return out, nil
}

// flatten fails on reference cycles: visiting holds pointers on the current path.
func flatten(out map[string]string, prefix string, v reflect.Value, visiting map[uintptr]bool) *errorx.Error {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Ptr {
			p := v.Pointer()
			if visiting[p] {
				return ErrMapping.New("reference cycle").WithProperty(EKPath, prefix)
			}
			visiting[p] = true
			defer delete(visiting, p)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	if s, ok := scalar(v); ok {
		out[prefix] = s
		return nil
	}
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			tag := parseTag(f)
			if tag.skip {
				continue
			}
			fv := v.Field(i)
			path := join(prefix, tag.name)
			if tag.squash && deref(f.Type).Kind() == reflect.Struct {
				path = prefix
			}
			if err := flatten(out, path, fv, visiting); err != nil {
				return err
			}
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			ks, ok := scalar(k)
			if !ok {
				return ErrMapping.New("map key should be scalar, got %s", k.Type()).WithProperty(EKPath, prefix)
			}
			if err := flatten(out, prefix+".["+ks+"]", v.MapIndex(k), visiting); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := flatten(out, prefix+".["+strconv.Itoa(i)+"]", v.Index(i), visiting); err != nil {
				return err
			}
		}
	default:
		return ErrMapping.New("unsupported type %s", v.Type()).WithProperty(EKPath, prefix)
	}
	return nil
}

// scalar formats value stored as single hash field.
func scalar(v reflect.Value) (string, bool) {
	if v.Type() == timeType {
		return v.Interface().(time.Time).Format(time.RFC3339Nano), true
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), true
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes()), true
		}
	}
	return "", false
}

// formatValue formats query value the same way as stored property.
func formatValue(val interface{}) (string, bool) {
	v := reflect.ValueOf(val)
	for v.IsValid() && v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return "", false
	}
	return scalar(v)
}

// Unflatten decodes flat hash into entity pointed by target.
func Unflatten(hash map[string]string, target interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ErrMapping.New("target should be non-nil pointer")
	}
	if h, ok := target.(*Hash); ok {
		*h = make(Hash, len(hash))
		for k, v := range hash {
			(*h)[k] = v
		}
		return nil
	}
	tree := make(map[string]interface{})
	// sorted to make "a" vs "a.b" conflicts deterministic: nested value wins
	keys := make([]string, 0, len(hash))
	for k := range hash {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		insert(tree, splitPath(k), hash[k])
	}
	shaped := shapeFor(tree, rv.Type().Elem())

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "redis",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:           target,
	})
	if err != nil {
		return ErrMapping.Wrap(err, "decoder")
	}
	if err = dec.Decode(shaped); err != nil {
		return ErrMapping.Wrap(err, "could not decode %s", rv.Type().Elem())
	}
	return nil
}

// splitPath splits "a.[x.y].b" into "a", "[x.y]", "b".
func splitPath(path string) []string {
	var segs []string
	for len(path) > 0 {
		var seg string
		if path[0] == '[' {
			end := strings.Index(path, "]")
			for end >= 0 && end+1 < len(path) && path[end+1] != '.' {
				next := strings.Index(path[end+1:], "]")
				if next < 0 {
					end = -1
					break
				}
				end += next + 1
			}
			if end < 0 {
				end = len(path) - 1
			}
			seg, path = path[:end+1], path[end+1:]
		} else if dot := strings.IndexByte(path, '.'); dot >= 0 {
			seg, path = path[:dot], path[dot:]
		} else {
			seg, path = path, ""
		}
		segs = append(segs, seg)
		path = strings.TrimPrefix(path, ".")
	}
	return segs
}

func insert(tree map[string]interface{}, segs []string, value string) {
	for i, seg := range segs {
		if i == len(segs)-1 {
			if _, isNode := tree[seg].(map[string]interface{}); !isNode {
				tree[seg] = value
			}
			return
		}
		child, ok := tree[seg].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			tree[seg] = child
		}
		tree = child
	}
}

func bracketed(seg string) (string, bool) {
	if len(seg) >= 2 && seg[0] == '[' && seg[len(seg)-1] == ']' {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

// shapeFor converts tree of path segments into structure mapstructure could decode into t.
func shapeFor(n interface{}, t reflect.Type) interface{} {
	node, ok := n.(map[string]interface{})
	if !ok {
		return n
	}
	t = deref(t)
	switch t.Kind() {
	case reflect.Struct:
		fields := fieldsOf(t)
		res := make(map[string]interface{}, len(node))
		for k, child := range node {
			if f, ok := fields[k]; ok {
				res[k] = shapeFor(child, f.Type)
			}
		}
		return res
	case reflect.Slice, reflect.Array:
		last := -1
		items := make(map[int]interface{}, len(node))
		for k, child := range node {
			key, ok := bracketed(k)
			if !ok {
				continue
			}
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 {
				continue
			}
			items[i] = shapeFor(child, t.Elem())
			if i > last {
				last = i
			}
		}
		res := make([]interface{}, last+1)
		for i, item := range items {
			res[i] = item
		}
		return res
	default:
		var elem reflect.Type
		if t.Kind() == reflect.Map {
			elem = t.Elem()
		} else {
			elem = reflect.TypeOf((*interface{})(nil)).Elem()
		}
		res := make(map[string]interface{}, len(node))
		for k, child := range node {
			if key, ok := bracketed(k); ok {
				k = key
			}
			res[k] = shapeFor(child, elem)
		}
		return res
	}
}

type geoEntry struct {
	path  string
	point Point
}

// indexEntries returns keys of simple index sets and geo positions for flattened entity.
func (ks *Keyspace) indexEntries(hash map[string]string) ([]string, []geoEntry) {
	var keys []string
	var geo []geoEntry
	for _, idx := range ks.indexes {
		switch idx.shape {
		case shapeScalar:
			if v, ok := hash[idx.Path]; ok {
				keys = append(keys, ks.indexKey(idx.Path, v))
			}
		case shapeList, shapeMap:
			prefix := idx.Path + "."
			for k, v := range hash {
				if !strings.HasPrefix(k, prefix) {
					continue
				}
				segs := splitPath(k[len(prefix):])
				if len(segs) != 1 {
					continue
				}
				elem, ok := bracketed(segs[0])
				if !ok {
					continue
				}
				if idx.shape == shapeList {
					keys = append(keys, ks.indexKey(idx.Path, v))
				} else {
					keys = append(keys, ks.indexKey(idx.Path+"."+elem, v))
				}
			}
		case shapePoint:
			x, errx := strconv.ParseFloat(hash[idx.Path+".x"], 64)
			y, erry := strconv.ParseFloat(hash[idx.Path+".y"], 64)
			if errx == nil && erry == nil {
				geo = append(geo, geoEntry{path: idx.Path, point: Point{X: x, Y: y}})
			}
		}
	}
	sort.Strings(keys)
	return dedup(keys), geo
}

func (ks *Keyspace) geoPaths() []string {
	var paths []string
	for _, idx := range ks.indexes {
		if idx.Kind == IndexGeo {
			paths = append(paths, idx.Path)
		}
	}
	return paths
}

// ttlOf returns entity's time to live: value of ttl field if positive, else keyspace default.
func (ks *Keyspace) ttlOf(v reflect.Value) time.Duration {
	if ks.ttl != nil {
		f := v.FieldByIndex(ks.ttl)
		var ttl time.Duration
		switch {
		case f.Type() == reflect.TypeOf(time.Duration(0)):
			ttl = time.Duration(f.Int())
		case f.CanInt():
			ttl = time.Duration(f.Int()) * time.Second
		default:
			ttl = time.Duration(f.Uint()) * time.Second
		}
		if ttl > 0 {
			return ttl
		}
	}
	return ks.TTL
}

func dedup(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	res := sorted[:1]
	for _, s := range sorted[1:] {
		if s != res[len(res)-1] {
			res = append(res, s)
		}
	}
	return res
}
