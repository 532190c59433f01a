package redisrepo

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/redis"
)

// Criterion is an equality condition on indexed property.
// For indexed map property "attrs" path "attrs.color" matches entry with key "color".
type Criterion struct {
	Path  string
	Value interface{}
}

// NearCriterion selects entities within distance from point.
type NearCriterion struct {
	Path     string
	Point    Point
	Distance Distance
}

// WithinCriterion selects entities inside circle or box. Exactly one of them should be set.
type WithinCriterion struct {
	Path   string
	Circle *Circle
	Box    *Box
}

// Query is a conjunction (or disjunction if Or is set) of criteria,
// or single geo criterion.
// Geo results are ordered by distance, others by id.
type Query struct {
	Criteria []Criterion
	Or       bool
	Near     *NearCriterion
	Within   *WithinCriterion
	// Limit restricts number of results if positive.
	Limit int
}

// Find loads entities matching query.
func (r *Repository[T]) Find(ctx context.Context, q Query) ([]T, error) {
	ids, err := r.FindIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids)
}

// FindIDs returns ids of entities matching query.
func (r *Repository[T]) FindIDs(ctx context.Context, q Query) ([]string, error) {
	ids, err := r.findIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

func (r *Repository[T]) findIDs(ctx context.Context, q Query) ([]string, error) {
	if q.Near != nil && q.Within != nil || (q.Near != nil || q.Within != nil) && len(q.Criteria) > 0 {
		return nil, ErrGeoCriteriaMix.New("geo criterion could not be combined with other criteria").
			WithProperty(EKKeyspace, r.ks.Name)
	}
	switch {
	case q.Near != nil:
		return r.geoRadius(ctx, q.Near.Path, Circle{Center: q.Near.Point, Radius: q.Near.Distance}, nil)
	case q.Within != nil:
		w := q.Within
		if w.Circle != nil && w.Box == nil {
			return r.geoRadius(ctx, w.Path, *w.Circle, nil)
		}
		if w.Box != nil && w.Circle == nil {
			return r.geoRadius(ctx, w.Path, w.Box.Circumscribed(), w.Box)
		}
		return nil, ErrQuery.New("within criterion needs either circle or box").WithProperty(EKPath, w.Path)
	case len(q.Criteria) == 0:
		return r.ids(ctx)
	}

	args := make([]interface{}, len(q.Criteria))
	for i, c := range q.Criteria {
		key, err := r.ks.criterionKey(c)
		if err != nil {
			return nil, err
		}
		args[i] = key
	}
	cmd := "SINTER"
	if q.Or {
		cmd = "SUNION"
	}
	ids, err := redis.StringsResponse(r.sync().Send(ctx, redis.Req(cmd, args...)))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (ks *Keyspace) criterionKey(c Criterion) (string, *errorx.Error) {
	val, ok := formatValue(c.Value)
	if !ok {
		return "", ErrQuery.New("criterion value should be scalar, got %T", c.Value).WithProperty(EKPath, c.Path)
	}
	for _, idx := range ks.indexes {
		switch idx.shape {
		case shapeScalar, shapeList:
			if idx.Path == c.Path {
				return ks.indexKey(c.Path, val), nil
			}
		case shapeMap:
			if strings.HasPrefix(c.Path, idx.Path+".") {
				return ks.indexKey(c.Path, val), nil
			}
		case shapeAny:
			if idx.Path == c.Path || strings.HasPrefix(c.Path, idx.Path+".") {
				return ks.indexKey(c.Path, val), nil
			}
		}
	}
	return "", ErrQuery.New("property is not indexed").WithProperty(EKKeyspace, ks.Name).WithProperty(EKPath, c.Path)
}

func (r *Repository[T]) geoRadius(ctx context.Context, path string, c Circle, box *Box) ([]string, error) {
	if !r.ks.hasGeo(path) {
		return nil, ErrQuery.New("property has no geo index").WithProperty(EKKeyspace, r.ks.Name).WithProperty(EKPath, path)
	}
	args := []interface{}{r.ks.geoKey(path), c.Center.X, c.Center.Y, c.Radius.Value, c.Radius.Metric.Unit()}
	if box != nil {
		args = append(args, "WITHCOORD")
	}
	args = append(args, "ASC")
	res := r.sync().Send(ctx, redis.Req("GEORADIUS", args...))
	if box == nil {
		return redis.StringsResponse(res)
	}
	if err := redis.AsError(res); err != nil {
		return nil, err
	}
	arr, _ := res.([]interface{})
	ids := make([]string, 0, len(arr))
	for _, item := range arr {
		id, p, ok := parseWithCoord(item)
		if !ok {
			return nil, redis.ErrResponseUnexpected.New("unexpected GEORADIUS item").WithProperty(redis.EKResponse, item)
		}
		if box.Contains(p) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// parseWithCoord parses [id, [lon, lat]].
func parseWithCoord(item interface{}) (string, Point, bool) {
	pair, ok := item.([]interface{})
	if !ok || len(pair) != 2 {
		return "", Point{}, false
	}
	id, ok := pair[0].([]byte)
	if !ok {
		return "", Point{}, false
	}
	coords, ok := pair[1].([]interface{})
	if !ok || len(coords) != 2 {
		return "", Point{}, false
	}
	x, okx := parseFloat(coords[0])
	y, oky := parseFloat(coords[1])
	return string(id), Point{X: x, Y: y}, okx && oky
}

func parseFloat(v interface{}) (float64, bool) {
	s, ok := redis.ArgToString(v)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func (ks *Keyspace) hasGeo(path string) bool {
	for _, idx := range ks.indexes {
		if idx.Kind == IndexGeo && idx.Path == path {
			return true
		}
	}
	return false
}
