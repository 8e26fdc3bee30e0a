// Package logic is the event processor behind the primary webhook: a
// pull request review-flow bot.
//
// Authors ask for a review by commenting the repository's review trigger
// ("please review"), reviewers ask for changes with the update trigger
// ("please update"). The bot keeps one of two labels on the pull request to
// show whose turn it is, requests reviews from the configured reviewers and
// checks that pull request descriptions reference an issue.
package logic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"hooky/internal/dispatch"
	"hooky/internal/security"
	"hooky/internal/settings"

	"github.com/google/go-github/v57/github"
)

// Processor implements dispatch.Processor.
type Processor struct {
	clients ClientFactory
	cache   ConfigCache
	locks   *KeyedMutex
	logger  *slog.Logger
}

var _ dispatch.Processor = (*Processor)(nil)

// NewProcessor wires a processor from its collaborators.
func NewProcessor(clients ClientFactory, cache ConfigCache, logger *slog.Logger) *Processor {
	return &Processor{
		clients: clients,
		cache:   cache,
		locks:   NewKeyedMutex(),
		logger:  logger,
	}
}

// NewFromSettings builds the GitHub client factory and config cache from settings.
func NewFromSettings(s *settings.Settings, logger *slog.Logger) (*Processor, error) {
	clients, err := NewClientFactory(s)
	if err != nil {
		return nil, err
	}

	cache, err := NewConfigCache(s.RedisDSN, s.ConfigCacheTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache: %w", err)
	}

	return NewProcessor(clients, cache, logger), nil
}

// Close releases the config cache.
func (p *Processor) Close() error {
	return p.cache.Close()
}

// envelope is just enough of a payload to tell event kinds apart.
type envelope struct {
	Action      string          `json:"action"`
	Comment     json.RawMessage `json:"comment"`
	Issue       json.RawMessage `json:"issue"`
	Review      json.RawMessage `json:"review"`
	PullRequest json.RawMessage `json:"pull_request"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// Process handles one verified webhook body.
func (p *Processor) Process(ctx context.Context, body []byte, s *settings.Settings) (dispatch.Outcome, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		p.logger.Warn("unable to parse event body", "error", err)
		return dispatch.Outcome{Message: "Error parsing event body"}, nil
	}

	switch {
	case present(env.Review) && present(env.PullRequest):
		var event github.PullRequestReviewEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return dispatch.Outcome{Message: "Error parsing review event"}, nil
		}
		return p.handleReview(ctx, &event, s)

	case present(env.Comment) && present(env.Issue):
		var event github.IssueCommentEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return dispatch.Outcome{Message: "Error parsing comment event"}, nil
		}
		return p.handleComment(ctx, &event, s)

	case present(env.PullRequest):
		var event github.PullRequestEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return dispatch.Outcome{Message: "Error parsing pull request event"}, nil
		}
		return p.handlePullRequest(ctx, &event)

	default:
		return dispatch.Outcome{Message: "Event not relevant"}, nil
	}
}

// repoRef identifies the repository an event belongs to.
type repoRef struct {
	owner string
	name  string
}

func (r repoRef) String() string {
	return r.owner + "/" + r.name
}

func repoFrom(repo *github.Repository) (repoRef, error) {
	ref := repoRef{owner: repo.GetOwner().GetLogin(), name: repo.GetName()}
	if err := security.ValidateOwner(ref.owner); err != nil {
		return repoRef{}, err
	}
	if err := security.ValidateRepoName(ref.name); err != nil {
		return repoRef{}, err
	}
	return ref, nil
}

// repoConfig loads the repository config through the cache.
func (p *Processor) repoConfig(ctx context.Context, client *github.Client, repo repoRef, ttl time.Duration) (*RepoConfig, error) {
	key := repo.String()

	if data, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("config cache read failed", "repo", key, "error", err)
	} else if ok {
		var cfg RepoConfig
		if err := json.Unmarshal(data, &cfg); err == nil {
			return &cfg, nil
		}
		p.logger.Warn("discarding corrupt cached config", "repo", key)
	}

	cfg, err := fetchRepoConfig(ctx, client, repo)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cfg); err == nil {
		if err := p.cache.Set(ctx, key, data, ttl); err != nil {
			p.logger.Warn("config cache write failed", "repo", key, "error", err)
		}
	}

	return cfg, nil
}

func fetchRepoConfig(ctx context.Context, client *github.Client, repo repoRef) (*RepoConfig, error) {
	file, _, resp, err := client.Repositories.GetContents(ctx, repo.owner, repo.name, RepoConfigPath, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return DefaultRepoConfig(), nil
		}
		return nil, fmt.Errorf("fetching %s from %s: %w", RepoConfigPath, repo, err)
	}
	if file == nil {
		return DefaultRepoConfig(), nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s from %s: %w", RepoConfigPath, repo, err)
	}

	cfg, err := ParseRepoConfig([]byte(content))
	if err != nil {
		// a broken config file should not take the bot down for the repo
		return DefaultRepoConfig(), nil
	}
	return cfg, nil
}

// swapLabel removes one label and adds another. A missing label is not an error.
func swapLabel(ctx context.Context, client *github.Client, repo repoRef, number int, remove, add string) error {
	resp, err := client.Issues.RemoveLabelForIssue(ctx, repo.owner, repo.name, number, remove)
	if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		return fmt.Errorf("removing label %q from %s#%d: %w", remove, repo, number, err)
	}

	if _, _, err := client.Issues.AddLabelsToIssue(ctx, repo.owner, repo.name, number, []string{add}); err != nil {
		return fmt.Errorf("adding label %q to %s#%d: %w", add, repo, number, err)
	}
	return nil
}
