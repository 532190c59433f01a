package redisrepo

import (
	"reflect"
	"strings"
	"time"

	"github.com/joomcode/errorx"
)

// IndexKind is a kind of secondary index.
type IndexKind int

const (
	// IndexSimple maintains set "keyspace:path:value" of ids per distinct value.
	IndexSimple IndexKind = iota
	// IndexGeo maintains geo set "keyspace:path" of ids positioned by Point.
	IndexGeo
)

// IndexDefinition declares index on a property path, like "address.city".
type IndexDefinition struct {
	Path string
	Kind IndexKind
}

type shape int

const (
	shapeScalar shape = iota
	shapeList
	shapeMap
	shapePoint
	// shapeAny is a simple index of untyped keyspace: scalar, list or map.
	shapeAny
)

type index struct {
	IndexDefinition
	shape shape
}

// Keyspace is a mapping metadata of entity type.
//
// Entities are stored as hashes "name:id", ids of all entities are kept in set "name".
// Redis cluster requires all keys of entity to be in the same slot, so for cluster
// name should be a hash tag, for example "{people}".
type Keyspace struct {
	Name string
	// TTL is a default time to live of entities. Zero means no expiration.
	TTL time.Duration

	typ     reflect.Type
	id      []int
	ttl     []int
	indexes []index
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	pointType = reflect.TypeOf(Point{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// KeyspaceOf builds keyspace metadata from struct tags of T:
//
//	ID       string        `redis:",id"`          // identifier, "ID" field is used by default
//	Name     string        `redis:"name,index"`   // renamed property with simple index
//	Location Point         `redis:"loc,geo"`      // geo index
//	Expire   int64         `redis:",ttl"`         // per entity time to live in seconds
//	Cache    []byte        `redis:"-"`            // not stored
//
// Indexes on nested struct fields get dotted paths ("address.city").
// If name is empty, name of the type is used.
func KeyspaceOf[T any](name string, extra ...IndexDefinition) (*Keyspace, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, ErrMapping.New("entity should be a struct, got %s", typ)
	}
	if name == "" {
		name = typ.Name()
	}
	ks := &Keyspace{Name: name, typ: typ}
	if err := ks.collect(typ, "", true, map[reflect.Type]bool{}); err != nil {
		return nil, err
	}
	if ks.id == nil {
		if f, ok := typ.FieldByName("ID"); ok && f.Type.Kind() == reflect.String && len(f.Index) == 1 {
			ks.id = f.Index
		} else {
			return nil, ErrMapping.New("no id field in %s", typ).WithProperty(EKKeyspace, name)
		}
	}
	for _, def := range extra {
		if err := ks.AddIndex(def); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// Hash is an untyped entity: hash fields by flattened property path.
type Hash = map[string]string

var hashType = reflect.TypeOf(Hash(nil))

// HashKeyspace describes keyspace of entities with unknown Go type, for tools knowing only
// indexed paths. Such keyspace is read and cleaned up as Repository[Hash], but entities
// could not be saved.
func HashKeyspace(name string, defs ...IndexDefinition) *Keyspace {
	ks := &Keyspace{Name: name, typ: hashType}
	for _, def := range defs {
		sh := shapeAny
		if def.Kind == IndexGeo {
			sh = shapePoint
		}
		ks.indexes = append(ks.indexes, index{IndexDefinition: def, shape: sh})
	}
	return ks
}

// MustKeyspaceOf is like KeyspaceOf, but panics on error.
func MustKeyspaceOf[T any](name string, extra ...IndexDefinition) *Keyspace {
	ks, err := KeyspaceOf[T](name, extra...)
	if err != nil {
		panic(err)
	}
	return ks
}

// AddIndex adds index defined by hand.
func (ks *Keyspace) AddIndex(def IndexDefinition) error {
	for _, idx := range ks.indexes {
		if idx.IndexDefinition == def {
			return nil
		}
	}
	t, err := resolve(ks.typ, def.Path)
	if err != nil {
		return err.WithProperty(EKKeyspace, ks.Name)
	}
	sh, err := indexShape(t, def.Kind)
	if err != nil {
		return err.WithProperty(EKKeyspace, ks.Name).WithProperty(EKPath, def.Path)
	}
	ks.indexes = append(ks.indexes, index{IndexDefinition: def, shape: sh})
	return nil
}

// Indexes returns all index definitions.
func (ks *Keyspace) Indexes() []IndexDefinition {
	defs := make([]IndexDefinition, len(ks.indexes))
	for i, idx := range ks.indexes {
		defs[i] = idx.IndexDefinition
	}
	return defs
}

func (ks *Keyspace) key(id string) string { return ks.Name + ":" + id }
func (ks *Keyspace) idxKey(id string) string { return ks.Name + ":" + id + ":idx" }
func (ks *Keyspace) phantomKey(id string) string { return ks.Name + ":" + id + ":phantom" }
func (ks *Keyspace) geoKey(path string) string { return ks.Name + ":" + path }
func (ks *Keyspace) indexKey(path, value string) string {
	return ks.Name + ":" + path + ":" + value
}

// collect walks struct fields. Types already on the current path are not entered again,
// so recursive types map only their first level.
func (ks *Keyspace) collect(t reflect.Type, prefix string, top bool, visiting map[reflect.Type]bool) error {
	visiting[t] = true
	defer delete(visiting, t)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := parseTag(f)
		if tag.skip {
			continue
		}
		ft := deref(f.Type)
		if tag.squash && ft.Kind() == reflect.Struct {
			if visiting[ft] {
				continue
			}
			if err := ks.collect(ft, prefix, false, visiting); err != nil {
				return err
			}
			continue
		}
		path := join(prefix, tag.name)
		switch {
		case tag.id:
			if !top || ft.Kind() != reflect.String || f.Type.Kind() == reflect.Ptr {
				return ErrMapping.New("id field should be top-level string").WithProperty(EKPath, path)
			}
			ks.id = f.Index
		case tag.ttl:
			if !top || !isInteger(f.Type) {
				return ErrMapping.New("ttl field should be top-level integer").WithProperty(EKPath, path)
			}
			ks.ttl = f.Index
		}
		if tag.index || tag.geo {
			kind := IndexSimple
			if tag.geo {
				kind = IndexGeo
			}
			sh, err := indexShape(ft, kind)
			if err != nil {
				return err.WithProperty(EKPath, path)
			}
			ks.indexes = append(ks.indexes, index{IndexDefinition{Path: path, Kind: kind}, sh})
		}
		if ft.Kind() == reflect.Struct && ft != timeType && ft != pointType && !visiting[ft] {
			if err := ks.collect(ft, path, false, visiting); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexShape(t reflect.Type, kind IndexKind) (shape, *errorx.Error) {
	t = deref(t)
	if kind == IndexGeo {
		if t != pointType {
			return 0, ErrMapping.New("geo index requires Point, got %s", t)
		}
		return shapePoint, nil
	}
	switch {
	case isScalar(t):
		return shapeScalar, nil
	case (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && isScalar(deref(t.Elem())):
		return shapeList, nil
	case t.Kind() == reflect.Map && isScalar(t.Key()) && isScalar(deref(t.Elem())):
		return shapeMap, nil
	}
	return 0, ErrMapping.New("could not index %s", t)
}

// resolve finds type of property by dotted path.
func resolve(t reflect.Type, path string) (reflect.Type, *errorx.Error) {
	if path == "" {
		return nil, ErrMapping.New("empty path")
	}
	for _, seg := range strings.Split(path, ".") {
		t = deref(t)
		if t.Kind() != reflect.Struct {
			return nil, ErrMapping.New("%s is not a struct", t).WithProperty(EKPath, path)
		}
		f, ok := fieldsOf(t)[seg]
		if !ok {
			return nil, ErrMapping.New("no property %q in %s", seg, t).WithProperty(EKPath, path)
		}
		t = f.Type
	}
	return t, nil
}

type tagInfo struct {
	name   string
	skip   bool
	squash bool
	id     bool
	index  bool
	geo    bool
	ttl    bool
}

func parseTag(f reflect.StructField) tagInfo {
	tag := f.Tag.Get("redis")
	if tag == "-" {
		return tagInfo{skip: true}
	}
	parts := strings.Split(tag, ",")
	ti := tagInfo{name: parts[0]}
	if ti.name == "" {
		ti.name = f.Name
	}
	for _, opt := range parts[1:] {
		switch opt {
		case "squash":
			ti.squash = true
		case "id":
			ti.id = true
		case "index":
			ti.index = true
		case "geo":
			ti.geo = true
		case "ttl":
			ti.ttl = true
		}
	}
	return ti
}

// fieldsOf returns exported fields by property name, squashed structs are inlined.
func fieldsOf(t reflect.Type) map[string]reflect.StructField {
	res := make(map[string]reflect.StructField)
	squashFields(res, t, map[reflect.Type]bool{})
	return res
}

func squashFields(res map[string]reflect.StructField, t reflect.Type, visiting map[reflect.Type]bool) {
	visiting[t] = true
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := parseTag(f)
		if tag.skip {
			continue
		}
		if ft := deref(f.Type); tag.squash && ft.Kind() == reflect.Struct {
			if !visiting[ft] {
				squashFields(res, ft, visiting)
			}
			continue
		}
		res[tag.name] = f
	}
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func isScalar(t reflect.Type) bool {
	if t == timeType || t == bytesType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isInteger(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
