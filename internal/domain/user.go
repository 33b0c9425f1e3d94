// Package domain defines the core entities of the session agent: users and
// their profiles, sessions and auth events, and the published session state.
// These models are independent of external services.
package domain

import (
	"strings"
)

// Role is the authorization level stored on a profile.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Status is the moderation state of a profile.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

// DefaultCountry is applied to profiles that never set one.
const DefaultCountry = "Perú"

// Identity is the authenticated principal handed over by the auth service.
// It is read-only input for everything in this module.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Provider string         `json:"provider,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns the first non-empty string found under keys in the
// provider metadata.
func (i Identity) MetadataString(keys ...string) string {
	for _, k := range keys {
		if v, ok := i.Metadata[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// OwnedPet is a pet record embedded in the owner's profile.
type OwnedPet struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Species  string `json:"species,omitempty"`
	Breed    string `json:"breed,omitempty"`
	Color    string `json:"color,omitempty"`
	Size     string `json:"size,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Age      string `json:"age,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Profile is the persisted row in the profiles table (snake_case columns).
// Profile.ID always equals the owning Identity.ID. Email is only read, for
// tables that happen to carry the column; it is never written.
type Profile struct {
	ID           string     `json:"id"`
	Email        string     `json:"email,omitempty"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	DNI          string     `json:"dni,omitempty"`
	BirthDate    string     `json:"birth_date,omitempty"`
	Country      string     `json:"country,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Role         Role       `json:"role,omitempty"`
	Status       Status     `json:"status,omitempty"`
	OwnedPets    []OwnedPet `json:"owned_pets"`
	SavedPetIDs  []string   `json:"saved_pet_ids"`
	AuthProvider string     `json:"auth_provider,omitempty"`
	BusinessID   *string    `json:"business_id,omitempty"`
}

// User is the UI-facing projection of a Profile plus the live email of the
// identity that produced it.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Phone        string     `json:"phone"`
	DNI          string     `json:"dni"`
	BirthDate    string     `json:"birthDate"`
	Country      string     `json:"country"`
	AvatarURL    string     `json:"avatarUrl"`
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	OwnedPets    []OwnedPet `json:"ownedPets"`
	SavedPetIDs  []string   `json:"savedPetIds"`
	AuthProvider string     `json:"authProvider"`
	BusinessID   string     `json:"businessId,omitempty"`
}

// IsSuperadmin reports whether u may impersonate other users.
func (u *User) IsSuperadmin() bool {
	return u != nil && u.Role == RoleSuperadmin
}

// Clone returns a deep copy so published state never aliases caller slices.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.OwnedPets = append([]OwnedPet{}, u.OwnedPets...)
	c.SavedPetIDs = append([]string{}, u.SavedPetIDs...)
	return &c
}

// HasSavedPet reports whether petID is in the saved list.
func (u *User) HasSavedPet(petID string) bool {
	for _, id := range u.SavedPetIDs {
		if id == petID {
			return true
		}
	}
	return false
}

// UserFromProfile maps a stored profile into a User, applying defaults for
// every missing field. email is the identity's live address; the stored one
// is used only when the identity carries none.
func UserFromProfile(p *Profile, email string) *User {
	if email == "" {
		email = p.Email
	}
	u := &User{
		ID:           p.ID,
		Email:        email,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Phone:        p.Phone,
		DNI:          p.DNI,
		BirthDate:    p.BirthDate,
		Country:      p.Country,
		AvatarURL:    p.AvatarURL,
		Role:         p.Role,
		Status:       p.Status,
		OwnedPets:    append([]OwnedPet{}, p.OwnedPets...),
		SavedPetIDs:  append([]string{}, p.SavedPetIDs...),
		AuthProvider: p.AuthProvider,
	}
	if p.BusinessID != nil {
		u.BusinessID = *p.BusinessID
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	if u.Country == "" {
		u.Country = DefaultCountry
	}
	return u
}

// FallbackUser synthesizes the minimal user used when the profile cannot be
// loaded or created.
func FallbackUser(identity Identity) *User {
	return &User{
		ID:           identity.ID,
		Email:        identity.Email,
		Role:         RoleUser,
		Status:       StatusActive,
		Country:      DefaultCountry,
		OwnedPets:    []OwnedPet{},
		SavedPetIDs:  []string{},
		AuthProvider: identity.Provider,
	}
}

// NewProfileForIdentity builds the row created the first time an identity
// signs in. Names and avatar come from the provider metadata when present.
func NewProfileForIdentity(identity Identity) *Profile {
	username := identity.MetadataString("username", "user_name", "preferred_username")
	if username == "" {
		username = emailLocalPart(identity.Email)
	}

	first := identity.MetadataString("first_name", "given_name")
	last := identity.MetadataString("last_name", "family_name")
	if first == "" && last == "" {
		if full := identity.MetadataString("full_name", "name"); full != "" {
			parts := strings.Fields(full)
			first = parts[0]
			if len(parts) > 1 {
				last = strings.Join(parts[1:], " ")
			}
		}
	}

	provider := identity.Provider
	if provider == "" {
		provider = "email"
	}

	return &Profile{
		ID:           identity.ID,
		Username:     username,
		FirstName:    first,
		LastName:     last,
		Phone:        identity.MetadataString("phone"),
		Country:      DefaultCountry,
		AvatarURL:    identity.MetadataString("avatar_url", "picture"),
		Role:         RoleUser,
		Status:       StatusActive,
		OwnedPets:    []OwnedPet{},
		SavedPetIDs:  []string{},
		AuthProvider: provider,
	}
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
