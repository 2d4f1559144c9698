package models

import (
	"time"
)

type EntityKind string

const (
	KindUser         EntityKind = "user"
	KindSponsor      EntityKind = "sponsor"
	KindPerk         EntityKind = "perk"
	KindTicket       EntityKind = "ticket"
	KindProfile      EntityKind = "profile"
	KindOrganisation EntityKind = "organisation"
	KindVenue        EntityKind = "venue"
	KindBusiness     EntityKind = "business"
	KindCommunity    EntityKind = "community"
)

// OwnerCollection names the collection holding records of this kind.
// Kinds without their own collection live in profiles.
func (k EntityKind) OwnerCollection() string {
	switch k {
	case KindUser:
		return "users"
	case KindSponsor:
		return "sponsors"
	case KindPerk:
		return "perks"
	case KindTicket:
		return "tickets"
	default:
		return "profiles"
	}
}

func (k EntityKind) Valid() bool {
	switch k {
	case KindUser, KindSponsor, KindPerk, KindTicket, KindProfile,
		KindOrganisation, KindVenue, KindBusiness, KindCommunity:
		return true
	}
	return false
}

type RegistryEntry struct {
	Code      string     `json:"code"`
	TargetID  string     `json:"target_id"`
	Kind      EntityKind `json:"entity_kind"`
	CreatedAt time.Time  `json:"created_at"`
}
