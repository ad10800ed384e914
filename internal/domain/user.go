package domain

import "time"

// User is the authenticated identity mirrored from the user_profiles record.
type User struct {
	ID    UserID
	Name  string
	Email string

	// PhotoURL and ContactHandle are optional; nil means unset.
	PhotoURL      *string
	ContactHandle *string

	UpdatedAt time.Time
}

// HasContactHandle reports whether the user has stored a non-empty contact handle.
func (u User) HasContactHandle() bool {
	return u.ContactHandle != nil && *u.ContactHandle != ""
}

// Clone returns a deep copy so callers never share pointer fields with the store.
func (u User) Clone() User {
	out := u
	out.PhotoURL = cloneStringPtr(u.PhotoURL)
	out.ContactHandle = cloneStringPtr(u.ContactHandle)
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
