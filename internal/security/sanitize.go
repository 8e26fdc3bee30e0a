package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// GitHub login and repository name alphabets
	ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,38})$`)
	repoPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,100}$`)
)

// ValidateOwner ensures an account login taken from a webhook payload is safe
// to use in API paths and cache keys.
func ValidateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if !ownerPattern.MatchString(owner) {
		return fmt.Errorf("owner %q contains invalid characters", owner)
	}
	return nil
}

// ValidateRepoName ensures a repository name taken from a webhook payload is
// safe to use in API paths and cache keys.
func ValidateRepoName(name string) error {
	if name == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	if name == "." || name == ".." || strings.HasPrefix(name, "-") {
		return fmt.Errorf("repository name %q is not allowed", name)
	}
	if !repoPattern.MatchString(name) {
		return fmt.Errorf("repository name %q contains invalid characters", name)
	}
	return nil
}
