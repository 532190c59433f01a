package redisrepo_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
	"github.com/joomcode/redismap/redisreplica"
	. "github.com/joomcode/redismap/redisrepo"
	"github.com/joomcode/redismap/testbed"
)

type Address struct {
	City   string `redis:"city,index"`
	Street string `redis:"street"`
}

type Person struct {
	ID      string            `redis:"id,id"`
	Name    string            `redis:"name,index"`
	Age     int               `redis:"age"`
	Tags    []string          `redis:"tags,index"`
	Attrs   map[string]string `redis:"attrs,index"`
	Address Address           `redis:"address"`
	TTL     int64             `redis:"ttl,ttl"`
}

type City struct {
	ID   string
	Name string `redis:"name,index"`
	Loc  Point  `redis:"loc,geo"`
}

type Suite struct {
	suite.Suite
	m      *miniredis.Miniredis
	conn   *redisconn.Connection
	people *Repository[Person]
	cities *Repository[City]

	ctx       context.Context
	ctxcancel func()
}

func TestRepository(t *testing.T) {
	suite.Run(t, new(Suite))
}

func (s *Suite) SetupTest() {
	s.m = testbed.Miniredis(s.T(), "")
	s.ctx, s.ctxcancel = context.WithTimeout(context.Background(), 30*time.Second)
	var err error
	s.conn, err = redisconn.Connect(s.ctx, s.m.Addr(), redisconn.Opts{Logger: redisconn.NoopLogger{}})
	s.r().NoError(err)
	s.people, err = NewRepository[Person](s.conn, MustKeyspaceOf[Person]("people"))
	s.r().NoError(err)
	s.cities, err = NewRepository[City](s.conn, MustKeyspaceOf[City]("cities"))
	s.r().NoError(err)
}

func (s *Suite) TearDownTest() {
	s.conn.Close()
	s.ctxcancel()
}

func (s *Suite) r() *require.Assertions {
	return s.Require()
}

func (s *Suite) members(key string) []string {
	if !s.m.Exists(key) {
		return nil
	}
	m, err := s.m.Members(key)
	s.r().NoError(err)
	sort.Strings(m)
	return m
}

func (s *Suite) save(p Person) Person {
	s.r().NoError(s.people.Save(s.ctx, &p))
	return p
}

func (s *Suite) TestSaveAndFind() {
	p := s.save(Person{
		Name:    "Rand",
		Age:     20,
		Tags:    []string{"shepherd"},
		Attrs:   map[string]string{"eyes": "grey"},
		Address: Address{City: "Emond's Field", Street: "Main"},
	})
	_, err := uuid.Parse(p.ID)
	s.r().NoError(err, "id is generated")

	s.Equal([]string{p.ID}, s.members("people"))
	s.Equal("Rand", s.m.HGet("people:"+p.ID, "name"))
	s.Equal("Emond's Field", s.m.HGet("people:"+p.ID, "address.city"))
	s.Equal("shepherd", s.m.HGet("people:"+p.ID, "tags.[0]"))
	s.Equal("grey", s.m.HGet("people:"+p.ID, "attrs.[eyes]"))

	s.Equal([]string{p.ID}, s.members("people:name:Rand"))
	s.Equal([]string{p.ID}, s.members("people:address.city:Emond's Field"))
	s.Equal([]string{p.ID}, s.members("people:tags:shepherd"))
	s.Equal([]string{p.ID}, s.members("people:attrs.eyes:grey"))
	s.Equal([]string{
		"people:address.city:Emond's Field",
		"people:attrs.eyes:grey",
		"people:name:Rand",
		"people:tags:shepherd",
	}, s.members("people:"+p.ID+":idx"))

	found, err := s.people.FindByID(s.ctx, p.ID)
	s.r().NoError(err)
	s.Equal(p, *found)

	ok, err := s.people.Exists(s.ctx, p.ID)
	s.r().NoError(err)
	s.True(ok)
}

func (s *Suite) TestUpdateRemovesStaleIndexes() {
	p := s.save(Person{ID: "rand", Name: "Rand", Tags: []string{"shepherd", "farmer"}})
	p.Name = "Dragon"
	p.Tags = []string{"shepherd"}
	s.save(p)

	s.Nil(s.members("people:name:Rand"))
	s.Nil(s.members("people:tags:farmer"))
	s.Equal([]string{"rand"}, s.members("people:name:Dragon"))
	s.Equal([]string{"rand"}, s.members("people:tags:shepherd"))
	s.Equal([]string{
		"people:address.city:",
		"people:name:Dragon",
		"people:tags:shepherd",
	}, s.members("people:rand:idx"))
	s.Equal("", s.m.HGet("people:rand", "tags.[1]"))
}

func (s *Suite) TestNotFound() {
	_, err := s.people.FindByID(s.ctx, "nobody")
	s.r().Error(err)
	s.True(errorx.IsOfType(err, ErrNotFound))
	s.True(errorx.HasTrait(err, errorx.NotFound()))

	ok, err := s.people.Exists(s.ctx, "nobody")
	s.r().NoError(err)
	s.False(ok)

	s.NoError(s.people.Delete(s.ctx, "nobody"))
}

func (s *Suite) TestFindAllCountDelete() {
	s.save(Person{ID: "a", Name: "Rand"})
	s.save(Person{ID: "b", Name: "Mat"})
	s.save(Person{ID: "c", Name: "Perrin"})

	all, err := s.people.FindAll(s.ctx)
	s.r().NoError(err)
	s.r().Len(all, 3)
	s.Equal("a", all[0].ID)
	s.Equal("Perrin", all[2].Name)

	n, err := s.people.Count(s.ctx)
	s.r().NoError(err)
	s.Equal(int64(3), n)

	s.r().NoError(s.people.Delete(s.ctx, "b"))
	s.False(s.m.Exists("people:b"))
	s.False(s.m.Exists("people:b:idx"))
	s.Nil(s.members("people:name:Mat"))
	s.Equal([]string{"a", "c"}, s.members("people"))

	s.r().NoError(s.people.DeleteAll(s.ctx))
	n, err = s.people.Count(s.ctx)
	s.r().NoError(err)
	s.Equal(int64(0), n)
	s.Empty(s.m.Keys())
}

func (s *Suite) TestQuery() {
	s.save(Person{ID: "rand", Name: "Rand", Address: Address{City: "Emond"}, Tags: []string{"hero"}})
	s.save(Person{ID: "mat", Name: "Mat", Address: Address{City: "Emond"}, Attrs: map[string]string{"luck": "high"}})
	s.save(Person{ID: "elayne", Name: "Elayne", Address: Address{City: "Caemlyn"}, Tags: []string{"hero", "queen"}})

	ids := func(q Query) []string {
		res, err := s.people.FindIDs(s.ctx, q)
		s.r().NoError(err)
		return res
	}

	s.Equal([]string{"mat", "rand"}, ids(Query{Criteria: []Criterion{{Path: "address.city", Value: "Emond"}}}))
	s.Equal([]string{"rand"}, ids(Query{Criteria: []Criterion{
		{Path: "address.city", Value: "Emond"},
		{Path: "tags", Value: "hero"},
	}}))
	s.Equal([]string{"elayne", "mat", "rand"}, ids(Query{Or: true, Criteria: []Criterion{
		{Path: "address.city", Value: "Emond"},
		{Path: "tags", Value: "queen"},
	}}))
	s.Equal([]string{"mat"}, ids(Query{Criteria: []Criterion{{Path: "attrs.luck", Value: "high"}}}))
	s.Equal([]string{"elayne", "mat"}, ids(Query{Limit: 2}))
	s.Empty(ids(Query{Criteria: []Criterion{{Path: "name", Value: "Moiraine"}}}))

	found, err := s.people.Find(s.ctx, Query{Criteria: []Criterion{{Path: "name", Value: "Elayne"}}})
	s.r().NoError(err)
	s.r().Len(found, 1)
	s.Equal("Caemlyn", found[0].Address.City)

	_, err = s.people.Find(s.ctx, Query{Criteria: []Criterion{{Path: "age", Value: 20}}})
	s.True(errorx.IsOfType(err, ErrQuery), "%v", err)
	_, err = s.people.Find(s.ctx, Query{Criteria: []Criterion{{Path: "name", Value: []string{"x"}}}})
	s.True(errorx.IsOfType(err, ErrQuery), "%v", err)
}

var (
	palermo = Point{X: 13.361389, Y: 38.115556}
	catania = Point{X: 15.087269, Y: 37.502669}
)

func (s *Suite) TestGeo() {
	s.r().NoError(s.cities.Save(s.ctx, &City{ID: "palermo", Name: "Palermo", Loc: palermo}))
	s.r().NoError(s.cities.Save(s.ctx, &City{ID: "catania", Name: "Catania", Loc: catania}))
	s.Equal([]string{"cities:loc", "cities:name:Catania"}, s.members("cities:catania:idx"))

	ids := func(q Query) []string {
		res, err := s.cities.FindIDs(s.ctx, q)
		s.r().NoError(err)
		return res
	}

	s.Equal([]string{"palermo"}, ids(Query{Near: &NearCriterion{
		Path: "loc", Point: palermo, Distance: Distance{Value: 100, Metric: Kilometers},
	}}))
	s.Equal([]string{"catania", "palermo"}, ids(Query{Near: &NearCriterion{
		Path: "loc", Point: Point{X: 15, Y: 37}, Distance: Distance{Value: 200, Metric: Kilometers},
	}}))
	s.Equal([]string{"palermo", "catania"}, ids(Query{Within: &WithinCriterion{
		Path: "loc", Circle: &Circle{Center: palermo, Radius: Distance{Value: 150, Metric: Miles}},
	}}))
	s.Equal([]string{"palermo"}, ids(Query{Within: &WithinCriterion{
		Path: "loc", Box: &Box{First: Point{X: 13, Y: 38}, Second: Point{X: 14, Y: 38.5}},
	}}))
	s.Empty(ids(Query{Within: &WithinCriterion{
		Path: "loc", Box: &Box{First: Point{X: 14, Y: 38}, Second: Point{X: 15, Y: 38.5}},
	}}))

	found, err := s.cities.Find(s.ctx, Query{Near: &NearCriterion{
		Path: "loc", Point: catania, Distance: Distance{Value: 1000, Metric: Meters},
	}})
	s.r().NoError(err)
	s.r().Len(found, 1)
	s.Equal("Catania", found[0].Name)
	s.InDelta(catania.X, found[0].Loc.X, 1e-9)

	_, err = s.cities.Find(s.ctx, Query{
		Near:     &NearCriterion{Path: "loc", Point: palermo, Distance: Distance{Value: 1}},
		Criteria: []Criterion{{Path: "name", Value: "Palermo"}},
	})
	s.True(errorx.IsOfType(err, ErrGeoCriteriaMix), "%v", err)
	s.True(errorx.IsOfType(err, ErrQuery))

	_, err = s.cities.Find(s.ctx, Query{Near: &NearCriterion{Path: "name", Point: palermo}})
	s.True(errorx.IsOfType(err, ErrQuery), "%v", err)
	_, err = s.cities.Find(s.ctx, Query{Within: &WithinCriterion{Path: "loc"}})
	s.True(errorx.IsOfType(err, ErrQuery), "%v", err)

	// moved city leaves old position
	s.r().NoError(s.cities.Save(s.ctx, &City{ID: "palermo", Name: "Palermo", Loc: catania}))
	s.Equal([]string{"catania", "palermo"}, sorted(ids(Query{Near: &NearCriterion{
		Path: "loc", Point: catania, Distance: Distance{Value: 1, Metric: Kilometers},
	}})))
	s.Empty(ids(Query{Near: &NearCriterion{
		Path: "loc", Point: palermo, Distance: Distance{Value: 1, Metric: Kilometers},
	}}))
}

func sorted(ss []string) []string {
	sort.Strings(ss)
	return ss
}

func (s *Suite) TestExpiration() {
	ks := MustKeyspaceOf[Person]("people")
	ks.TTL = time.Minute
	repo, err := NewRepository[Person](s.conn, ks)
	s.r().NoError(err)

	s.r().NoError(repo.Save(s.ctx, &Person{ID: "short", Name: "Short", TTL: 10}))
	s.r().NoError(repo.Save(s.ctx, &Person{ID: "long", Name: "Long"}))
	s.r().NoError(s.people.Save(s.ctx, &Person{ID: "idx", Name: "idx"}))
	s.Equal(10*time.Second, s.m.TTL("people:short"))
	s.Equal(310*time.Second, s.m.TTL("people:short:phantom"))
	s.Equal(time.Minute, s.m.TTL("people:long"))
	s.Equal(time.Duration(0), s.m.TTL("people:idx"))

	// orphaned helper set without keyspace membership
	_, err = s.m.SetAdd("people:ghost:idx", "people:name:Ghost")
	s.r().NoError(err)
	_, err = s.m.SetAdd("people:name:Ghost", "ghost")
	s.r().NoError(err)

	s.m.FastForward(11 * time.Second)
	s.False(s.m.Exists("people:short"))
	s.True(s.m.Exists("people:short:phantom"))

	var mu sync.Mutex
	expired := map[string]*Person{}
	sweeper := repo.Sweeper()
	sweeper.OnExpired = func(id string, p *Person) {
		mu.Lock()
		defer mu.Unlock()
		expired[id] = p
	}
	n, err := sweeper.Sweep(s.ctx)
	s.r().NoError(err)
	s.Equal(2, n)
	s.r().Contains(expired, "short")
	s.r().NotNil(expired["short"])
	s.Equal("Short", expired["short"].Name)
	s.r().Contains(expired, "ghost")
	s.Nil(expired["ghost"])

	s.Equal([]string{"idx", "long"}, s.members("people"))
	s.Nil(s.members("people:name:Short"))
	s.Nil(s.members("people:name:Ghost"))
	s.False(s.m.Exists("people:short:idx"))
	s.False(s.m.Exists("people:short:phantom"))
	s.False(s.m.Exists("people:ghost:idx"))
	s.Equal([]string{"idx"}, s.members("people:name:idx"), "index set for value 'idx' is kept")

	n, err = sweeper.Sweep(s.ctx)
	s.r().NoError(err)
	s.Equal(0, n)
}

func (s *Suite) TestKeyspaceMismatch() {
	_, err := NewRepository[City](s.conn, MustKeyspaceOf[Person]("people"))
	s.True(errorx.IsOfType(err, ErrMapping))

	repo, err := NewRepository[City](s.conn, nil)
	s.r().NoError(err)
	s.Equal("City", repo.Keyspace().Name)

	s.True(errorx.IsOfType(s.people.Save(s.ctx, nil), ErrMapping))
}

func (s *Suite) TestHashKeyspace() {
	s.save(Person{ID: "mat", Name: "Mat", Attrs: map[string]string{"luck": "high"}})
	raw, err := NewRepository[Hash](s.conn, HashKeyspace("people",
		IndexDefinition{Path: "name"},
		IndexDefinition{Path: "attrs"}))
	s.r().NoError(err)

	h, err := raw.FindByID(s.ctx, "mat")
	s.r().NoError(err)
	s.Equal("Mat", (*h)["name"])
	s.Equal("high", (*h)["attrs.[luck]"])

	ids, err := raw.FindIDs(s.ctx, Query{Criteria: []Criterion{{Path: "attrs.luck", Value: "high"}}})
	s.r().NoError(err)
	s.Equal([]string{"mat"}, ids)

	err = raw.Save(s.ctx, &Hash{"name": "Rand"})
	s.True(errorx.IsOfType(err, ErrMapping), "%v", err)

	s.m.Del("people:mat")
	n, err := raw.Sweeper().Sweep(s.ctx)
	s.r().NoError(err)
	s.Equal(1, n)
	s.Nil(s.members("people:name:Mat"))
	s.Nil(s.members("people:attrs.luck:high"))
}

func (s *Suite) TestSweepKeepsIndexesOfValuesEndingWithIdx() {
	s.save(Person{ID: "1", Name: "a:idx"})
	s.save(Person{ID: "2", Attrs: map[string]string{"k": "v:idx"}})
	s.Equal([]string{"1"}, s.members("people:name:a:idx"))
	s.Equal([]string{"2"}, s.members("people:attrs.k:v:idx"))

	// set of ids, not index keys, is not a helper set
	_, err := s.m.SetAdd("people:stray:idx", "1")
	s.r().NoError(err)

	n, err := s.people.Sweeper().Sweep(s.ctx)
	s.r().NoError(err)
	s.Equal(0, n)
	s.Equal([]string{"1"}, s.members("people:name:a:idx"))
	s.Equal([]string{"2"}, s.members("people:attrs.k:v:idx"))
	s.Equal([]string{"1"}, s.members("people:stray:idx"))
	s.Equal([]string{"1", "2"}, s.members("people"))
}

func (s *Suite) TestSaveReadsHelperSetFromMaster() {
	replica := testbed.Miniredis(s.T(), "")
	s.r().NoError(s.m.Set("whoami", "master"))
	s.r().NoError(replica.Set("whoami", "replica"))

	rep, err := redisreplica.Connect(s.ctx, s.m.Addr(), []string{replica.Addr()}, redisreplica.Opts{
		HostOpts: redisconn.Opts{Logger: redisconn.NoopLogger{}},
		ReadFrom: redis.ReadFromReplicaPreferred,
	})
	s.r().NoError(err)
	defer rep.Close()
	s.r().Eventually(func() bool {
		res, _ := redis.SyncCtx{S: rep}.Do(s.ctx, "GET", "whoami").([]byte)
		return string(res) == "replica"
	}, 5*time.Second, 10*time.Millisecond)

	cities, err := NewRepository[City](rep, MustKeyspaceOf[City]("c"))
	s.r().NoError(err)
	s.r().NoError(cities.Save(s.ctx, &City{ID: "1", Name: "Paris", Loc: palermo}))
	s.r().NoError(cities.Save(s.ctx, &City{ID: "1", Name: "London", Loc: catania}))
	s.Nil(s.members("c:name:Paris"))
	s.Equal([]string{"1"}, s.members("c:name:London"))
	s.Equal([]string{"c:loc", "c:name:London"}, s.members("c:1:idx"))

	s.r().NoError(cities.Delete(s.ctx, "1"))
	s.Nil(s.members("c:name:London"))
	s.False(s.m.Exists("c:1:idx"))
	s.False(s.m.Exists("c:1"))
}

func (s *Suite) TestInvalidPoint() {
	pole := City{Name: "Pole", Loc: Point{X: 10, Y: 89}}
	err := s.cities.Save(s.ctx, &pole)
	s.True(errorx.IsOfType(err, ErrMapping), "%v", err)
	path, ok := errorx.Cast(err).Property(EKPath)
	s.True(ok)
	s.Equal("loc", path)
	s.Empty(pole.ID, "generated id is kept only after successful save")
	s.Empty(s.m.Keys())

	s.r().NoError(s.cities.Save(s.ctx, &City{ID: "palermo", Name: "Palermo", Loc: palermo}))
	moved := City{ID: "palermo", Name: "Palermo", Loc: Point{X: 181, Y: 38}}
	s.True(errorx.IsOfType(s.cities.Save(s.ctx, &moved), ErrMapping))
	found, err := s.cities.FindByID(s.ctx, "palermo")
	s.r().NoError(err)
	s.InDelta(palermo.X, found.Loc.X, 1e-9)
	s.Equal("palermo", moved.ID)

	good := City{Name: "Catania", Loc: catania}
	s.r().NoError(s.cities.Save(s.ctx, &good))
	s.NotEmpty(good.ID)
}
