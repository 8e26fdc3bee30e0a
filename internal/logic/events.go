package logic

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"hooky/internal/dispatch"
	"hooky/internal/settings"

	"github.com/google/go-github/v57/github"
)

// DescriptionStatusContext names the commit status set by the description check.
const DescriptionStatusContext = "hooky/description"

const skipDescriptionCheck = "skip change file check"

var issueReference = regexp.MustCompile(`(?i)\b(fix(e[sd])?|close[sd]?|resolve[sd]?)\s+#\d+`)

// checkedPullRequestActions run the description check.
var checkedPullRequestActions = map[string]bool{
	"opened":      true,
	"edited":      true,
	"synchronize": true,
	"reopened":    true,
}

func (p *Processor) handleComment(ctx context.Context, event *github.IssueCommentEvent, s *settings.Settings) (dispatch.Outcome, error) {
	if event.GetAction() != "created" || !event.GetIssue().IsPullRequest() {
		return dispatch.Outcome{Message: "Comment is not a trigger"}, nil
	}

	repo, err := repoFrom(event.GetRepo())
	if err != nil {
		return dispatch.Outcome{Message: "Repository not supported"}, nil
	}

	client, err := p.clients.Client(ctx, event.GetInstallation().GetID())
	if err != nil {
		return dispatch.Outcome{}, err
	}

	cfg, err := p.repoConfig(ctx, client, repo, s.ConfigCacheTimeout)
	if err != nil {
		return dispatch.Outcome{}, err
	}

	issue := event.GetIssue()
	body := event.GetComment().GetBody()
	commenter := event.GetComment().GetUser().GetLogin()
	author := issue.GetUser().GetLogin()

	switch {
	case containsTrigger(body, cfg.RequestReviewTrigger):
		if !strings.EqualFold(commenter, author) {
			return dispatch.Outcome{Message: "Only the PR author can request a review"}, nil
		}
		return p.requestReview(ctx, client, repo, issue.GetNumber(), author, cfg)

	case containsTrigger(body, cfg.RequestUpdateTrigger):
		if !cfg.IsReviewer(commenter) {
			return dispatch.Outcome{Message: "Only reviewers can request an update"}, nil
		}
		return p.requestUpdate(ctx, client, repo, issue.GetNumber(), commenter, cfg)

	default:
		return dispatch.Outcome{Message: "Comment is not a trigger"}, nil
	}
}

func (p *Processor) handleReview(ctx context.Context, event *github.PullRequestReviewEvent, s *settings.Settings) (dispatch.Outcome, error) {
	notTrigger := dispatch.Outcome{Message: "Review is not a trigger"}
	if event.GetAction() != "submitted" {
		return notTrigger, nil
	}

	repo, err := repoFrom(event.GetRepo())
	if err != nil {
		return dispatch.Outcome{Message: "Repository not supported"}, nil
	}

	client, err := p.clients.Client(ctx, event.GetInstallation().GetID())
	if err != nil {
		return dispatch.Outcome{}, err
	}

	cfg, err := p.repoConfig(ctx, client, repo, s.ConfigCacheTimeout)
	if err != nil {
		return dispatch.Outcome{}, err
	}

	reviewer := event.GetReview().GetUser().GetLogin()
	if !containsTrigger(event.GetReview().GetBody(), cfg.RequestUpdateTrigger) || !cfg.IsReviewer(reviewer) {
		return notTrigger, nil
	}

	return p.requestUpdate(ctx, client, repo, event.GetPullRequest().GetNumber(), reviewer, cfg)
}

func (p *Processor) handlePullRequest(ctx context.Context, event *github.PullRequestEvent) (dispatch.Outcome, error) {
	action := event.GetAction()
	if !checkedPullRequestActions[action] {
		return dispatch.Outcome{Message: fmt.Sprintf("PR action %s ignored", action)}, nil
	}

	repo, err := repoFrom(event.GetRepo())
	if err != nil {
		return dispatch.Outcome{Message: "Repository not supported"}, nil
	}

	client, err := p.clients.Client(ctx, event.GetInstallation().GetID())
	if err != nil {
		return dispatch.Outcome{}, err
	}

	pr := event.GetPullRequest()
	state, description := checkDescription(pr.GetBody())

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(DescriptionStatusContext),
	}
	sha := pr.GetHead().GetSHA()
	if _, _, err := client.Repositories.CreateStatus(ctx, repo.owner, repo.name, sha, status); err != nil {
		return dispatch.Outcome{}, fmt.Errorf("creating status on %s@%s: %w", repo, sha, err)
	}

	p.logger.Info("description checked", "repo", repo.String(), "pr", pr.GetNumber(), "state", state)
	return dispatch.Outcome{ActionTaken: true, Message: "Description check: " + state}, nil
}

// checkDescription returns the commit status state and description for a
// pull request body.
func checkDescription(body string) (state, description string) {
	switch {
	case issueReference.MatchString(body):
		return "success", "Description references an issue"
	case strings.Contains(strings.ToLower(body), skipDescriptionCheck):
		return "success", "Description check skipped"
	default:
		return "failure", "Description must reference an issue, e.g. \"fixes #123\""
	}
}

func (p *Processor) requestReview(ctx context.Context, client *github.Client, repo repoRef, number int, author string, cfg *RepoConfig) (dispatch.Outcome, error) {
	unlock := p.lockPull(repo, number)
	defer unlock()

	if err := swapLabel(ctx, client, repo, number, cfg.AwaitingUpdateLabel, cfg.AwaitingReviewLabel); err != nil {
		return dispatch.Outcome{}, err
	}

	if reviewers := cfg.ReviewersExcept(author); len(reviewers) > 0 {
		req := github.ReviewersRequest{Reviewers: reviewers}
		if _, _, err := client.PullRequests.RequestReviewers(ctx, repo.owner, repo.name, number, req); err != nil {
			return dispatch.Outcome{}, fmt.Errorf("requesting reviewers on %s#%d: %w", repo, number, err)
		}
	}

	p.logger.Info("review requested", "repo", repo.String(), "pr", number, "author", author)
	return dispatch.Outcome{
		ActionTaken: true,
		Message:     fmt.Sprintf("Author %s successfully requested a review, label changed to %q", author, cfg.AwaitingReviewLabel),
	}, nil
}

func (p *Processor) requestUpdate(ctx context.Context, client *github.Client, repo repoRef, number int, reviewer string, cfg *RepoConfig) (dispatch.Outcome, error) {
	unlock := p.lockPull(repo, number)
	defer unlock()

	if err := swapLabel(ctx, client, repo, number, cfg.AwaitingReviewLabel, cfg.AwaitingUpdateLabel); err != nil {
		return dispatch.Outcome{}, err
	}

	p.logger.Info("update requested", "repo", repo.String(), "pr", number, "reviewer", reviewer)
	return dispatch.Outcome{
		ActionTaken: true,
		Message:     fmt.Sprintf("Reviewer %s successfully requested an update, label changed to %q", reviewer, cfg.AwaitingUpdateLabel),
	}, nil
}

func (p *Processor) lockPull(repo repoRef, number int) func() {
	key := fmt.Sprintf("%s#%d", repo, number)
	p.locks.Lock(key)
	return func() { p.locks.Unlock(key) }
}
