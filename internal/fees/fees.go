// Package fees splits a gross ticket amount into platform fee, processor
// fee and organizer payout.
package fees

import (
	"culturepass/models"

	"github.com/shopspring/decimal"
)

var (
	PlatformRate     = decimal.RequireFromString("0.05")
	ProcessorRate    = decimal.RequireFromString("0.029")
	ProcessorFixed   = decimal.RequireFromString("0.30")
	centPlaces int32 = 2
)

// Compute returns the fee split for total. Each field is rounded half away
// from zero on its own. Fees are capped so that together they never exceed
// the total; tiny totals pay everything to fees and nothing to the organizer.
func Compute(total decimal.Decimal) models.Fees {
	if !total.IsPositive() {
		return models.Fees{
			PlatformFee:     decimal.Zero,
			ProcessorFee:    decimal.Zero,
			OrganizerAmount: decimal.Zero,
		}
	}

	platform := total.Mul(PlatformRate).Round(centPlaces)
	processor := total.Mul(ProcessorRate).Add(ProcessorFixed).Round(centPlaces)
	if remaining := total.Sub(platform); processor.GreaterThan(remaining) {
		processor = remaining
	}
	organizer := total.Sub(platform).Sub(processor).Round(centPlaces)
	if organizer.IsNegative() {
		organizer = decimal.Zero
	}

	return models.Fees{
		PlatformFee:     platform,
		ProcessorFee:    processor,
		OrganizerAmount: organizer,
	}
}
