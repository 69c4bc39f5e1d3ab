package auth

import (
	"fmt"
	"log"
	"strings"

	"github.com/gluk-w/claworc/tunneling/internal/database"
)

// Groups guarding the API endpoints.
const (
	GroupWebservice   = "access_to_webservice"
	GroupRestart      = "access_to_webservice_restart"
	GroupRemoteCheck  = "access_to_webservice_remote_check"
	GroupLogs         = "access_to_logs"
	defaultSeedGroups = GroupWebservice
)

// SeedUser is one API user declared through the environment.
type SeedUser struct {
	Username string
	Password string
	Groups   []string
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseSeedUsers pairs ';' separated usernames and passwords. Groups are ';'
// separated per user and ':' separated within a user; a user without a
// groups entry gets access_to_webservice. Users without a password are
// skipped with a warning.
func ParseSeedUsers(usernames, passwords, groups string) []SeedUser {
	names := splitNonEmpty(usernames, ";")
	pws := splitNonEmpty(passwords, ";")
	var perUser []string
	if groups != "" {
		perUser = strings.Split(groups, ";")
	}

	var out []SeedUser
	for i, name := range names {
		if i >= len(pws) {
			log.Printf("WARNING: No password available for %s. User not created.", name)
			continue
		}
		u := SeedUser{Username: name, Password: pws[i]}
		if i < len(perUser) {
			u.Groups = splitNonEmpty(perUser[i], ":")
		} else {
			log.Printf("WARNING: No groups available for %s. Use default groups [%s]", name, defaultSeedGroups)
			u.Groups = []string{defaultSeedGroups}
		}
		out = append(out, u)
	}
	return out
}

// SeedUsers creates or updates the given users.
func SeedUsers(users []SeedUser) error {
	for _, u := range users {
		hash, err := HashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.Username, err)
		}
		if _, err := database.SaveUser(u.Username, hash, u.Groups); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		log.Printf("Seeded API user %s (groups=%s)", u.Username, strings.Join(u.Groups, ","))
	}
	return nil
}

// Authenticate checks username and password and returns the user's groups.
func Authenticate(username, password string) (*database.User, []string, bool) {
	u, err := database.GetUserByUsername(username)
	if err != nil || !CheckPassword(password, u.PasswordHash) {
		return nil, nil, false
	}
	groups, err := database.GetUserGroups(u.ID)
	if err != nil {
		return nil, nil, false
	}
	return u, groups, true
}
