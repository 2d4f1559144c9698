package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Collections whose records receive a denormalized public_id from the
// identifier registry.
var ownerCollections = []string{"sponsors", "perks", "profiles"}

func init() {
	m.Register(func(app core.App) error {
		for _, name := range ownerCollections {
			collection := core.NewBaseCollection(name)
			collection.Fields.Add(
				&core.TextField{Name: "name", Max: 255},
				&core.TextField{Name: "public_id", Max: 16},
				&core.AutodateField{Name: "created", OnCreate: true},
				&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
			)
			if name == "profiles" {
				collection.Fields.Add(&core.TextField{Name: "entity_type", Max: 32})
			}
			collection.AddIndex("idx_"+name+"_public_id", false, "public_id", "")

			if err := app.Save(collection); err != nil {
				return err
			}
		}

		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		users.Fields.Add(&core.TextField{Name: "public_id", Max: 16})
		return app.Save(users)
	}, func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		users.Fields.RemoveByName("public_id")
		if err := app.Save(users); err != nil {
			return err
		}

		for _, name := range ownerCollections {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
