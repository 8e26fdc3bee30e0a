package logic

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RepoConfigPath is where a repository keeps its bot configuration.
const RepoConfigPath = ".github/hooky.yaml"

const (
	DefaultRequestReviewTrigger = "please review"
	DefaultRequestUpdateTrigger = "please update"
	DefaultAwaitingReviewLabel  = "ready for review"
	DefaultAwaitingUpdateLabel  = "awaiting author revision"
)

// RepoConfig is the per-repository configuration read from RepoConfigPath.
type RepoConfig struct {
	Reviewers            []string `yaml:"reviewers" json:"reviewers"`
	RequestReviewTrigger string   `yaml:"request_review_trigger" json:"request_review_trigger"`
	RequestUpdateTrigger string   `yaml:"request_update_trigger" json:"request_update_trigger"`
	AwaitingReviewLabel  string   `yaml:"awaiting_review_label" json:"awaiting_review_label"`
	AwaitingUpdateLabel  string   `yaml:"awaiting_update_label" json:"awaiting_update_label"`
}

// DefaultRepoConfig is used when a repository has no config file.
func DefaultRepoConfig() *RepoConfig {
	c := &RepoConfig{}
	c.applyDefaults()
	return c
}

// ParseRepoConfig parses a config file and fills in defaults.
func ParseRepoConfig(data []byte) (*RepoConfig, error) {
	var c RepoConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", RepoConfigPath, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *RepoConfig) applyDefaults() {
	if c.RequestReviewTrigger == "" {
		c.RequestReviewTrigger = DefaultRequestReviewTrigger
	}
	if c.RequestUpdateTrigger == "" {
		c.RequestUpdateTrigger = DefaultRequestUpdateTrigger
	}
	if c.AwaitingReviewLabel == "" {
		c.AwaitingReviewLabel = DefaultAwaitingReviewLabel
	}
	if c.AwaitingUpdateLabel == "" {
		c.AwaitingUpdateLabel = DefaultAwaitingUpdateLabel
	}
}

// IsReviewer reports whether login is a configured reviewer. GitHub logins
// are case-insensitive.
func (c *RepoConfig) IsReviewer(login string) bool {
	for _, r := range c.Reviewers {
		if strings.EqualFold(r, login) {
			return true
		}
	}
	return false
}

// ReviewersExcept returns configured reviewers other than login.
func (c *RepoConfig) ReviewersExcept(login string) []string {
	var out []string
	for _, r := range c.Reviewers {
		if !strings.EqualFold(r, login) {
			out = append(out, r)
		}
	}
	return out
}

func containsTrigger(body, trigger string) bool {
	return trigger != "" && strings.Contains(strings.ToLower(body), strings.ToLower(trigger))
}
