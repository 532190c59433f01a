package redisrepo

import (
	"reflect"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	City   string `redis:"city,index"`
	Street string `redis:"street"`
}

type person struct {
	ID      string            `redis:"id,id"`
	Name    string            `redis:"name,index"`
	Age     int               `redis:"age"`
	Tags    []string          `redis:"tags,index"`
	Attrs   map[string]string `redis:"attrs,index"`
	Address address           `redis:"address"`
	Home    Point             `redis:"home,geo"`
	Born    time.Time         `redis:"born"`
	Nick    *string           `redis:"nick"`
	Secret  string            `redis:"-"`
	TTL     int64             `redis:"ttl,ttl"`
}

func samplePerson() person {
	nick := "randy"
	return person{
		ID:      "1",
		Name:    "Rand",
		Age:     20,
		Tags:    []string{"a", "b"},
		Attrs:   map[string]string{"color": "red", "x.y": "z"},
		Address: address{City: "Emond", Street: "Main"},
		Home:    Point{X: 13.5, Y: 38.25},
		Born:    time.Date(2020, 1, 2, 3, 4, 5, 6, time.UTC),
		Nick:    &nick,
		Secret:  "hidden",
	}
}

func TestFlatten(t *testing.T) {
	hash, err := Flatten(samplePerson())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"id":             "1",
		"name":           "Rand",
		"age":            "20",
		"tags.[0]":       "a",
		"tags.[1]":       "b",
		"attrs.[color]":  "red",
		"attrs.[x.y]":    "z",
		"address.city":   "Emond",
		"address.street": "Main",
		"home.x":         "13.5",
		"home.y":         "38.25",
		"born":           "2020-01-02T03:04:05.000000006Z",
		"nick":           "randy",
		"ttl":            "0",
	}, hash)

	_, err = Flatten(struct{ C chan int }{make(chan int)})
	assert.Error(t, err)
}

func TestUnflatten(t *testing.T) {
	orig := samplePerson()
	hash, err := Flatten(&orig)
	require.NoError(t, err)

	var decoded person
	require.NoError(t, Unflatten(hash, &decoded))
	assert.True(t, orig.Born.Equal(decoded.Born))
	orig.Born, decoded.Born = time.Time{}, time.Time{}
	orig.Secret = ""
	assert.Equal(t, orig, decoded)

	// holes in lists are zero values, unknown properties are ignored
	var sparse person
	require.NoError(t, Unflatten(map[string]string{"tags.[2]": "c", "unknown.x": "1", "age": "7"}, &sparse))
	assert.Equal(t, []string{"", "", "c"}, sparse.Tags)
	assert.Equal(t, 7, sparse.Age)

	assert.Error(t, Unflatten(map[string]string{"age": "old"}, &sparse))
	assert.Error(t, Unflatten(hash, sparse))
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitPath("a.b"))
	assert.Equal(t, []string{"m", "[x.y]", "c"}, splitPath("m.[x.y].c"))
	assert.Equal(t, []string{"l", "[0]"}, splitPath("l.[0]"))
	assert.Equal(t, []string{"m", "[a]b]"}, splitPath("m.[a]b]"))
}

func TestIndexEntries(t *testing.T) {
	ks, err := KeyspaceOf[person]("people")
	require.NoError(t, err)
	assert.Equal(t, []IndexDefinition{
		{Path: "name", Kind: IndexSimple},
		{Path: "tags", Kind: IndexSimple},
		{Path: "attrs", Kind: IndexSimple},
		{Path: "address.city", Kind: IndexSimple},
		{Path: "home", Kind: IndexGeo},
	}, ks.Indexes())

	hash, err := Flatten(samplePerson())
	require.NoError(t, err)
	keys, geo := ks.indexEntries(hash)
	assert.Equal(t, []string{
		"people:address.city:Emond",
		"people:attrs.color:red",
		"people:attrs.x.y:z",
		"people:name:Rand",
		"people:tags:a",
		"people:tags:b",
	}, keys)
	assert.Equal(t, []geoEntry{{path: "home", point: Point{X: 13.5, Y: 38.25}}}, geo)
}

func TestKeyspaceOf(t *testing.T) {
	ks, err := KeyspaceOf[person]("")
	require.NoError(t, err)
	assert.Equal(t, "person", ks.Name)
	assert.Equal(t, 10*time.Second, ks.ttlOf(reflect.ValueOf(person{TTL: 10})))
	ks.TTL = time.Minute
	assert.Equal(t, time.Minute, ks.ttlOf(reflect.ValueOf(person{})))

	require.NoError(t, ks.AddIndex(IndexDefinition{Path: "address.street"}))
	require.NoError(t, ks.AddIndex(IndexDefinition{Path: "address.street"}))
	assert.Len(t, ks.Indexes(), 6)
	assert.Error(t, ks.AddIndex(IndexDefinition{Path: "address.zip"}))
	assert.Error(t, ks.AddIndex(IndexDefinition{Path: "address"}))
	assert.Error(t, ks.AddIndex(IndexDefinition{Path: "name", Kind: IndexGeo}))

	type noID struct{ Name string }
	_, err = KeyspaceOf[noID]("x")
	assert.Error(t, err)

	type defaultID struct{ ID, Name string }
	ks, err = KeyspaceOf[defaultID]("x")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ks.id)

	type badGeo struct {
		ID  string
		Loc string `redis:"loc,geo"`
	}
	_, err = KeyspaceOf[badGeo]("x")
	assert.Error(t, err)
}

type node struct {
	ID   string `redis:"id,id"`
	Name string `redis:"name,index"`
	Next *node  `redis:"next"`
}

func TestRecursiveType(t *testing.T) {
	ks, err := KeyspaceOf[node]("nodes")
	require.NoError(t, err)
	assert.Equal(t, []IndexDefinition{{Path: "name"}}, ks.Indexes())
	require.NoError(t, ks.AddIndex(IndexDefinition{Path: "next.next.name"}))

	list := &node{ID: "1", Name: "a", Next: &node{Name: "b"}}
	hash, err := Flatten(list)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id": "1", "name": "a", "next.id": "", "next.name": "b"}, hash)

	var decoded node
	require.NoError(t, Unflatten(hash, &decoded))
	require.NotNil(t, decoded.Next)
	assert.Equal(t, "b", decoded.Next.Name)
	assert.Nil(t, decoded.Next.Next)

	list.Next.Next = list
	_, err = Flatten(list)
	assert.True(t, errorx.IsOfType(err, ErrMapping), "%v", err)
}
