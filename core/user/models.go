package user

import (
	"sort"
	"strings"
)

// Roles
const (
	// Admin (directors)
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"

	// Teacher
	RoleTeacher = "teacher:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal}
	TeacherRoles = []string{RoleTeacher}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner:     30,
		RoleAdminPrincipal: 29,
		RoleAdmin:          21,

		// Teachers: 20 - 11
		RoleTeacher: 11,
	}

	roleTitles = map[string]string{
		RoleAdminOwner:     "Owner",
		RoleAdminPrincipal: "Principal",
		RoleAdmin:          "Director",
		RoleTeacher:        "Teacher",
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 4)
	all = append(all, AdminRoles...)
	all = append(all, TeacherRoles...)
	sort.Strings(all)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

// IsKnownRole reports whether role is one of AllRoles.
func IsKnownRole(role string) bool {
	i := sort.SearchStrings(AllRoles, role)
	return i < len(AllRoles) && AllRoles[i] == role
}

// User is the authenticated actor behind an engine call.
// Accounts live in the identity service; the engine only sees the token claims.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

func (u User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

// IsDirector reports whether the user holds any admin role.
func (u User) IsDirector() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u User) IsTeacher() bool {
	return u.RoleStartsWith(RoleTeacher)
}

// Title is the signer role printed on bulletins, eg. "Principal".
func (u User) Title() string {
	best, title := 0, ""
	for _, role := range u.Roles {
		if p := RolePriority(role); p > best {
			best, title = p, roleTitles[role]
		}
	}
	return title
}
