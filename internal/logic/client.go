package logic

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"hooky/internal/settings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v57/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
)

const (
	clientCacheSize = 200
	// installation tokens last an hour; ghinstallation refreshes them, this
	// only bounds how long an idle installation keeps a client around
	clientCacheTTL = 50 * time.Minute
)

// ClientFactory returns a GitHub client acting for an app installation.
type ClientFactory interface {
	Client(ctx context.Context, installationID int64) (*github.Client, error)
}

// NewClientFactory picks token auth when a GitHub token is configured and
// app installation auth otherwise.
func NewClientFactory(s *settings.Settings) (ClientFactory, error) {
	if !s.GitHubToken.IsEmpty() {
		return NewTokenClientFactory(string(s.GitHubToken.Bytes())), nil
	}
	return NewAppClientFactory(s.GitHubAppID, s.PrivateKeyPath)
}

// AppClientFactory authenticates as a GitHub App installation.
type AppClientFactory struct {
	appID      int64
	privateKey []byte
	base       http.RoundTripper
	clients    *expirable.LRU[int64, *github.Client]
}

// NewAppClientFactory reads the app private key once and caches one client
// per installation.
func NewAppClientFactory(appID int64, privateKeyPath string) (*AppClientFactory, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
	}

	// fail at startup rather than on the first event
	if _, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, key); err != nil {
		return nil, fmt.Errorf("invalid GitHub App private key: %w", err)
	}

	return &AppClientFactory{
		appID:      appID,
		privateKey: key,
		base:       http.DefaultTransport,
		clients:    expirable.NewLRU[int64, *github.Client](clientCacheSize, nil, clientCacheTTL),
	}, nil
}

func (f *AppClientFactory) Client(_ context.Context, installationID int64) (*github.Client, error) {
	if installationID == 0 {
		return nil, fmt.Errorf("event has no installation id")
	}

	if client, ok := f.clients.Get(installationID); ok {
		return client, nil
	}

	tr, err := ghinstallation.New(f.base, f.appID, installationID, f.privateKey)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}

	client := github.NewClient(&http.Client{Transport: tr})
	f.clients.Add(installationID, client)
	return client, nil
}

// TokenClientFactory uses one static token for every installation. It is
// meant for local development against a personal access token.
type TokenClientFactory struct {
	client *github.Client
}

func NewTokenClientFactory(token string) *TokenClientFactory {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return &TokenClientFactory{client: github.NewClient(tc)}
}

func (f *TokenClientFactory) Client(context.Context, int64) (*github.Client, error) {
	return f.client, nil
}

// StaticClientFactory always returns the same client.
type StaticClientFactory struct {
	C *github.Client
}

func (f StaticClientFactory) Client(context.Context, int64) (*github.Client, error) {
	return f.C, nil
}
