package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.TextField{Name: "code", Required: true, Max: 40},
			&core.TextField{Name: "public_id", Max: 16},
			&core.TextField{Name: "user_id", Required: true, Max: 64},
			&core.TextField{Name: "event_id", Required: true, Max: 64},

			// event snapshot at purchase time
			&core.TextField{Name: "event_title", Max: 255},
			&core.TextField{Name: "event_date", Max: 10, Pattern: `^(\d{4}-\d{2}-\d{2})?$`},
			&core.TextField{Name: "event_time", Max: 32},
			&core.TextField{Name: "event_venue", Max: 255},
			&core.TextField{Name: "tier_name", Max: 64},

			&core.NumberField{Name: "quantity", OnlyInt: true},
			&core.NumberField{Name: "total_price"},
			&core.TextField{Name: "currency", Max: 3},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "confirmed", "used", "cancelled", "expired"},
			},
			&core.SelectField{
				Name:      "payment_status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "paid", "refunded", "cancelled", "refund_pending"},
			},

			&core.NumberField{Name: "platform_fee"},
			&core.NumberField{Name: "processor_fee"},
			&core.NumberField{Name: "organizer_amount"},

			&core.TextField{Name: "qr_code", Max: 100000},
			&core.TextField{Name: "checkout_session_id", Max: 255},
			&core.TextField{Name: "payment_ref", Max: 255},
			&core.TextField{Name: "refund_ref", Max: 255},
			&core.DateField{Name: "scanned_at"},
			&core.TextField{Name: "scanned_by", Max: 255},

			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_code", true, "code", "")
		// one in-flight purchase per user and event
		collection.AddIndex("idx_tickets_pending_purchase", true, "user_id, event_id", "status = 'pending'")
		collection.AddIndex("idx_tickets_user", false, "user_id", "")
		collection.AddIndex("idx_tickets_event", false, "event_id", "")
		collection.AddIndex("idx_tickets_payment_ref", false, "payment_ref", "")
		collection.AddIndex("idx_tickets_checkout_session", false, "checkout_session_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
