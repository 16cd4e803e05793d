package models

// AccountRole is the platform role carried in the bearer credential.
type AccountRole string

const (
	AccountTeacher AccountRole = "teacher"
	AccountStudent AccountRole = "student"
)

// ValidAccountRoles contains all valid account roles.
var ValidAccountRoles = []AccountRole{AccountTeacher, AccountStudent}

// IsValidAccountRole checks if the given role is valid.
func IsValidAccountRole(role string) bool {
	for _, r := range ValidAccountRoles {
		if string(r) == role {
			return true
		}
	}
	return false
}

// Account is the profile metadata of a teacher or student. Channel
// identifiers are optional.
type Account struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Email    string      `json:"email,omitempty"`
	Role     AccountRole `json:"role"`
	WhatsApp string      `json:"whatsapp,omitempty"`
	Telegram string      `json:"telegram,omitempty"`
}
