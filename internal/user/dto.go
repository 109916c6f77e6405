package user

// ProfileResponse is the body of GET /users/me.
type ProfileResponse struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	CompanyName string   `json:"company_name,omitempty"`
	Permissions []string `json:"permissions"`
}

func NewProfileResponse(u *User) ProfileResponse {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return ProfileResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		PhoneNumber: u.PhoneNumber,
		CompanyName: u.CompanyName,
		Permissions: perms,
	}
}
