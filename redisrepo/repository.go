package redisrepo

import (
	"context"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/joomcode/redismap/redis"
)

// phantomExtra is how long phantom copy outlives expired entity.
const phantomExtra = 5 * time.Minute

// Repository stores entities of type T in keyspace.
type Repository[T any] struct {
	s  redis.Sender
	ks *Keyspace
}

// NewRepository returns repository over sender.
// If ks is nil, KeyspaceOf[T]("") is used.
func NewRepository[T any](s redis.Sender, ks *Keyspace) (*Repository[T], error) {
	if ks == nil {
		var err error
		if ks, err = KeyspaceOf[T](""); err != nil {
			return nil, err
		}
	}
	if typ := reflect.TypeOf((*T)(nil)).Elem(); ks.typ != typ {
		return nil, ErrMapping.New("keyspace is built for %s, not %s", ks.typ, typ).WithProperty(EKKeyspace, ks.Name)
	}
	return &Repository[T]{s: s, ks: ks}, nil
}

// Keyspace returns keyspace metadata.
func (r *Repository[T]) Keyspace() *Keyspace {
	return r.ks
}

func (r *Repository[T]) sync() redis.SyncCtx {
	return redis.SyncCtx{S: r.s}
}

// Save stores entity and updates its indexes in single transaction.
// Empty id is replaced with generated UUID, which is set to entity only if Save succeeds.
func (r *Repository[T]) Save(ctx context.Context, entity *T) (err error) {
	if entity == nil {
		return ErrMapping.New("nil entity").WithProperty(EKKeyspace, r.ks.Name)
	}
	if r.ks.id == nil {
		return ErrMapping.New("keyspace has no entity type").WithProperty(EKKeyspace, r.ks.Name)
	}
	v := reflect.ValueOf(entity).Elem()
	idv := v.FieldByIndex(r.ks.id)
	id := idv.String()
	if id == "" {
		id = uuid.NewString()
		idv.SetString(id)
		defer func() {
			if err != nil {
				idv.SetString("")
			}
		}()
	}
	hash, err := Flatten(entity)
	if err != nil {
		return err
	}
	keys, geo := r.ks.indexEntries(hash)
	for _, g := range geo {
		if !g.point.valid() {
			return ErrMapping.New("point %v is out of range", g.point).
				WithProperty(EKKeyspace, r.ks.Name).WithProperty(EKPath, g.path)
		}
	}

	old, err := r.indexedBy(ctx, id)
	if err != nil {
		return err
	}

	key := r.ks.key(id)
	reqs := r.ks.unindex(id, old)
	reqs = append(reqs, redis.Req("DEL", key), hset(key, hash))
	idxArgs := []interface{}{r.ks.idxKey(id)}
	for _, k := range keys {
		reqs = append(reqs, redis.Req("SADD", k, id))
		idxArgs = append(idxArgs, k)
	}
	for _, g := range geo {
		gk := r.ks.geoKey(g.path)
		reqs = append(reqs, redis.Req("GEOADD", gk, g.point.X, g.point.Y, id))
		idxArgs = append(idxArgs, gk)
	}
	if len(idxArgs) > 1 {
		reqs = append(reqs, redis.Req("SADD", idxArgs...))
	}
	reqs = append(reqs, redis.Req("SADD", r.ks.Name, id))

	phantom := r.ks.phantomKey(id)
	reqs = append(reqs, redis.Req("DEL", phantom))
	if ttl := r.ks.ttlOf(v); ttl > 0 {
		secs := int64((ttl + time.Second - 1) / time.Second)
		reqs = append(reqs,
			redis.Req("EXPIRE", key, secs),
			hset(phantom, hash),
			redis.Req("EXPIRE", phantom, secs+int64(phantomExtra/time.Second)))
	}
	return execError(r.sync().SendTransaction(ctx, reqs))
}

// FindByID loads entity. ErrNotFound is returned if there is no such entity.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	hash, err := redis.MapResponse(r.sync().Do(ctx, "HGETALL", r.ks.key(id)))
	if err != nil {
		return nil, err
	}
	if len(hash) == 0 {
		return nil, ErrNotFound.New("entity not found").WithProperty(EKKeyspace, r.ks.Name).WithProperty(EKID, id)
	}
	entity := new(T)
	if err := Unflatten(hash, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// FindAll loads all entities of keyspace ordered by id.
func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids)
}

// Count returns number of entities in keyspace.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	res := r.sync().Do(ctx, "SCARD", r.ks.Name)
	if err := redis.AsError(res); err != nil {
		return 0, err
	}
	n, ok := res.(int64)
	if !ok {
		return 0, redis.ErrResponseUnexpected.NewWithNoMessage().WithProperty(redis.EKResponse, res)
	}
	return n, nil
}

// Exists checks entity presence.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	res := r.sync().Do(ctx, "EXISTS", r.ks.key(id))
	if err := redis.AsError(res); err != nil {
		return false, err
	}
	return res == int64(1), nil
}

// Delete removes entity with its index entries. Deleting absent entity is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	old, err := r.indexedBy(ctx, id)
	if err != nil {
		return err
	}
	reqs := r.ks.unindex(id, old)
	reqs = append(reqs,
		redis.Req("DEL", r.ks.key(id)),
		redis.Req("DEL", r.ks.phantomKey(id)),
		redis.Req("SREM", r.ks.Name, id))
	return execError(r.sync().SendTransaction(ctx, reqs))
}

// DeleteAll removes all entities of keyspace.
func (r *Repository[T]) DeleteAll(ctx context.Context) error {
	ids, err := r.ids(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository[T]) ids(ctx context.Context) ([]string, error) {
	ids, err := redis.StringsResponse(r.sync().Do(ctx, "SMEMBERS", r.ks.Name))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// load fetches entities in a single batch, skipping absent ones.
func (r *Repository[T]) load(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	reqs := make([]redis.Request, len(ids))
	for i, id := range ids {
		reqs[i] = redis.Req("HGETALL", r.ks.key(id))
	}
	res := r.sync().SendMany(ctx, reqs)
	entities := make([]T, 0, len(ids))
	for _, one := range res {
		hash, err := redis.MapResponse(one)
		if err != nil {
			return nil, err
		}
		if len(hash) == 0 {
			continue
		}
		var entity T
		if err := Unflatten(hash, &entity); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// indexedBy reads entity's helper set inside transaction, so it is served by master
// even when reads go to replicas.
func (r *Repository[T]) indexedBy(ctx context.Context, id string) ([]string, error) {
	res, err := r.sync().SendTransaction(ctx, []redis.Request{redis.Req("SMEMBERS", r.ks.idxKey(id))})
	if err != nil {
		return nil, err
	}
	return redis.StringsResponse(res[0])
}

// unindex returns requests removing entity from index sets listed in its helper set, and from geo indexes.
func (ks *Keyspace) unindex(id string, old []string) []redis.Request {
	geoKeys := make(map[string]bool)
	var reqs []redis.Request
	for _, path := range ks.geoPaths() {
		gk := ks.geoKey(path)
		geoKeys[gk] = true
		reqs = append(reqs, redis.Req("ZREM", gk, id))
	}
	for _, k := range old {
		if !geoKeys[k] {
			reqs = append(reqs, redis.Req("SREM", k, id))
		}
	}
	return append(reqs, redis.Req("DEL", ks.idxKey(id)))
}

func hset(key string, hash map[string]string) redis.Request {
	fields := make([]string, 0, len(hash))
	for f := range hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, key)
	for _, f := range fields {
		args = append(args, f, hash[f])
	}
	return redis.Req("HSET", args...)
}

func execError(res []interface{}, err error) error {
	if err != nil {
		return err
	}
	for _, one := range res {
		if err := redis.AsError(one); err != nil {
			return err
		}
	}
	return nil
}
