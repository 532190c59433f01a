package redismap_test

import (
	"context"
	"fmt"
	"log"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconfig"
	"github.com/joomcode/redismap/redisconn"
	"github.com/joomcode/redismap/redisrepo"
)

type Person struct {
	ID   string          `redis:"id,id"`
	Name string          `redis:"name,index"`
	City string          `redis:"city,index"`
	Home redisrepo.Point `redis:"home,geo"`
}

func Example_usage() {
	m, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	v := viper.New()
	v.Set("spring.redis.host", m.Host())
	v.Set("spring.redis.port", m.Port())
	cfg, err := redisconfig.Load(v, redisconfig.DefaultPrefix)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("mode:", cfg.Mode())

	ctx := context.Background()
	sender, err := redisconfig.Connect(ctx, cfg, redisconfig.Hooks{Conn: redisconn.NoopLogger{}})
	if err != nil {
		log.Fatal(err)
	}
	defer sender.Close()

	sync := redis.SyncCtx{S: sender}
	fmt.Println(sync.Do(ctx, "PING"))

	people, err := redisrepo.NewRepository[Person](sender, redisrepo.MustKeyspaceOf[Person]("people"))
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range []Person{
		{ID: "1", Name: "Rand", City: "Emond's Field", Home: redisrepo.Point{X: 13.361389, Y: 38.115556}},
		{ID: "2", Name: "Mat", City: "Emond's Field", Home: redisrepo.Point{X: 15.087269, Y: 37.502669}},
		{ID: "3", Name: "Elayne", City: "Caemlyn"},
	} {
		p := p
		if err := people.Save(ctx, &p); err != nil {
			log.Fatal(err)
		}
	}

	found, err := people.Find(ctx, redisrepo.Query{Criteria: []redisrepo.Criterion{
		{Path: "city", Value: "Emond's Field"},
	}})
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range found {
		fmt.Println(p.ID, p.Name)
	}

	near, err := people.FindIDs(ctx, redisrepo.Query{Near: &redisrepo.NearCriterion{
		Path:     "home",
		Point:    redisrepo.Point{X: 15, Y: 37},
		Distance: redisrepo.Distance{Value: 100, Metric: redisrepo.Kilometers},
	}})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("near:", near)

	// Output:
	// mode: standalone
	// PONG
	// 1 Rand
	// 2 Mat
	// near: [2]
}
