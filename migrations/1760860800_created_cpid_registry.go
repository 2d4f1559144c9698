package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("cpid_registry")

		collection.Fields.Add(
			&core.TextField{Name: "code", Required: true, Max: 16},
			&core.TextField{Name: "target_id", Required: true, Max: 64},
			&core.SelectField{
				Name:      "entity_kind",
				Required:  true,
				MaxSelect: 1,
				Values: []string{
					"user", "sponsor", "perk", "ticket", "profile",
					"organisation", "venue", "business", "community",
				},
			},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		collection.AddIndex("idx_cpid_registry_code", true, "code", "")
		collection.AddIndex("idx_cpid_registry_target", true, "target_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("cpid_registry")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
