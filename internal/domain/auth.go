package domain

// ============================================================
// Auth & profile request / response types (local API contract)
// ============================================================

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body for POST /v1/auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// RegisterResponse is returned by POST /v1/auth/register.
type RegisterResponse struct {
	UserID               string `json:"userId"`
	ConfirmationRequired bool   `json:"confirmationRequired"`
	Message              string `json:"message"`
}

// OAuthURLResponse carries the provider authorization URL.
type OAuthURLResponse struct {
	URL string `json:"url"`
}

// ResetPasswordRequest is the body for POST /v1/auth/password/reset.
type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// UpdatePasswordRequest is the body for PUT /v1/auth/password.
type UpdatePasswordRequest struct {
	Password string `json:"password"`
}

// UpdateProfileRequest is the body for PUT /v1/profile.
// Nil fields are left untouched.
type UpdateProfileRequest struct {
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"firstName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	DNI        *string `json:"dni,omitempty"`
	BirthDate  *string `json:"birthDate,omitempty"`
	Country    *string `json:"country,omitempty"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
	BusinessID *string `json:"businessId,omitempty"`
}

// Columns converts the request into profile column updates.
func (r *UpdateProfileRequest) Columns() map[string]any {
	cols := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			cols[col] = *v
		}
	}
	set("username", r.Username)
	set("first_name", r.FirstName)
	set("last_name", r.LastName)
	set("phone", r.Phone)
	set("dni", r.DNI)
	set("birth_date", r.BirthDate)
	set("country", r.Country)
	set("avatar_url", r.AvatarURL)
	if r.BusinessID != nil {
		if *r.BusinessID == "" {
			cols["business_id"] = nil
		} else {
			cols["business_id"] = *r.BusinessID
		}
	}
	return cols
}

// GhostLoginRequest is the body for POST /v1/admin/ghost.
type GhostLoginRequest struct {
	UserID string `json:"userId"`
}

// VisibilityRequest is the body for POST /v1/session/visibility.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
