package domain

// UserID is the identity provider's stable user id. Profiles are keyed by it,
// so it doubles as the authenticated subject.
type UserID string

// RideID is the store-assigned identifier of a ride row.
type RideID string
