/*
Package redisrepo maps Go structs to redis hashes and maintains secondary indexes.

For keyspace "people" and entity id "42" following keys are used:

	people                  set of all ids
	people:42               hash with flattened properties ("address.city", "tags.[0]", "attrs.[color]", "loc.x")
	people:42:idx           set of index keys entity belongs to
	people:42:phantom       copy of hash which outlives expiring entity by 5 minutes
	people:name:Rand        simple index: SADD people:name:Rand 42
	people:loc              geo index: GEOADD people:loc 13.361389 38.115556 42

Simple indexes are queried with SINTER/SUNION, geo indexes with GEORADIUS:

	type Person struct {
		ID      string   `redis:"id,id"`
		Name    string   `redis:"name,index"`
		Tags    []string `redis:"tags,index"`
		Address struct {
			City string `redis:"city,index"`
		} `redis:"address"`
		Loc redisrepo.Point `redis:"loc,geo"`
	}

	repo, err := redisrepo.NewRepository[Person](sender, redisrepo.MustKeyspaceOf[Person]("people"))
	err = repo.Save(ctx, &Person{Name: "Rand", Loc: redisrepo.Point{X: 13.36, Y: 38.11}})
	found, err := repo.Find(ctx, redisrepo.Query{Criteria: []redisrepo.Criterion{{Path: "address.city", Value: "Emond's Field"}}})
	near, err := repo.Find(ctx, redisrepo.Query{Near: &redisrepo.NearCriterion{
		Path: "loc", Point: redisrepo.Point{X: 13.36, Y: 38.11}, Distance: redisrepo.Distance{Value: 10, Metric: redisrepo.Kilometers},
	}})

Expired entities leave their index entries behind. Sweeper.Sweep should be called periodically to remove them.
*/
package redisrepo
