// Package patreon talks to the funding provider on behalf of connected users
// and servers.
package patreon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://www.patreon.com"

	// IdentityTTL is how long identities stay cached per access token.
	IdentityTTL = 5 * time.Minute
	// CampaignTTL is how long campaigns stay cached per access token.
	CampaignTTL = 30 * time.Minute

	identityPath = "/api/oauth2/v2/identity?include=memberships.campaign,memberships.currently_entitled_tiers" +
		"&fields%5Bmember%5D=patron_status"
	campaignPath = "/api/oauth2/v2/campaigns?include=tiers&fields%5Btier%5D=patron_count"
	tokenPath    = "/api/oauth2/token"

	// Patreon issues month-long tokens. Used when a refresh omits expires_in.
	defaultTokenLifetime = 31 * 24 * time.Hour
	maxErrorBody         = 512
	maxTransportRetries  = 3
)

// GrantStore persists OAuth grants.
type GrantStore interface {
	GetAuthorisation(ctx context.Context, owner enum.GrantOwner, id int64) (*types.OAuthAuthorisation, error)
	UpdateAuthorisation(ctx context.Context, grant *types.OAuthAuthorisation) error
}

// Config holds the OAuth application credentials.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// Client fetches identities and campaigns, refreshing expired grants.
type Client struct {
	http      *http.Client
	baseURL   string
	clientID  string
	secret    string
	grants    GrantStore
	onRefresh func(*types.OAuthAuthorisation)

	identities *cache.TTLStore[string, *Identity]
	campaigns  *cache.TTLStore[string, *Campaign]
	refreshes  singleflight.Group

	now    func() time.Time
	logger *zap.Logger
}

// NewClient creates a Client. onRefresh is called with every grant persisted
// after a refresh and may be nil.
func NewClient(
	httpClient *http.Client, cfg Config, grants GrantStore, onRefresh func(*types.OAuthAuthorisation), logger *zap.Logger,
) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		clientID:   cfg.ClientID,
		secret:     cfg.ClientSecret,
		grants:     grants,
		onRefresh:  onRefresh,
		identities: cache.NewTTLStore[string, *Identity](IdentityTTL),
		campaigns:  cache.NewTTLStore[string, *Campaign](CampaignTTL),
		now:        time.Now,
		logger:     logger.Named("patreon"),
	}
}

// Close stops the cache reapers.
func (c *Client) Close() {
	c.identities.Stop()
	c.campaigns.Stop()
}

// UserMemberships returns the pledges of the user behind a funding connection.
func (c *Client) UserMemberships(ctx context.Context, conn *types.Connection) ([]Pledge, error) {
	identity, err := c.Identity(ctx, conn)
	if err != nil {
		return nil, err
	}

	return identity.Pledges, nil
}

// Identity returns the funding identity of a connection.
func (c *Client) Identity(ctx context.Context, conn *types.Connection) (*Identity, error) {
	if conn.Authorisation == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAuthorisation, conn.ID)
	}

	ctx, span := otel.Tracer("mellow/patreon").Start(ctx, "patreon.Identity")
	defer span.End()

	grant, err := c.ensureFresh(ctx, conn.Authorisation)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return c.identities.GetOrLoad(ctx, grant.AccessToken, func(ctx context.Context) (*Identity, error) {
		var document identityDocument
		if err := c.getJSON(ctx, grant, identityPath, &document); err != nil {
			return nil, err
		}

		identity := &Identity{UserID: document.Data.ID}
		for _, included := range document.Included {
			if included.Type == "member" {
				identity.Pledges = append(identity.Pledges, pledgeFromMember(included, document.Data.ID))
			}
		}

		return identity, nil
	})
}

// Campaign returns the campaign owned by a creator grant.
func (c *Client) Campaign(ctx context.Context, grant *types.OAuthAuthorisation) (*Campaign, error) {
	ctx, span := otel.Tracer("mellow/patreon").Start(ctx, "patreon.Campaign")
	defer span.End()

	grant, err := c.ensureFresh(ctx, grant)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return c.campaigns.GetOrLoad(ctx, grant.AccessToken, func(ctx context.Context) (*Campaign, error) {
		var document campaignDocument
		if err := c.getJSON(ctx, grant, campaignPath, &document); err != nil {
			return nil, err
		}

		if len(document.Data) == 0 {
			return nil, ErrNoCampaign
		}

		campaign := &Campaign{ID: document.Data[0].ID}
		for _, included := range document.Included {
			if included.Type == "tier" {
				campaign.Tiers = append(campaign.Tiers, Tier{ID: included.ID, PatronCount: included.Attributes.PatronCount})
			}
		}

		return campaign, nil
	})
}

// ForgetIdentity drops the cached identity fetched with the grant.
func (c *Client) ForgetIdentity(grant *types.OAuthAuthorisation) {
	if grant != nil {
		c.identities.Delete(grant.AccessToken)
	}
}

// ensureFresh returns the grant, refreshing it first when it has expired.
func (c *Client) ensureFresh(ctx context.Context, grant *types.OAuthAuthorisation) (*types.OAuthAuthorisation, error) {
	if !grant.IsExpired(c.now()) {
		return grant, nil
	}

	return c.Refresh(ctx, grant)
}

// Refresh rotates the tokens of a grant. Concurrent refreshes of one grant
// share a single upstream call and database write. A grant that was already
// refreshed by someone else is returned as stored.
func (c *Client) Refresh(ctx context.Context, grant *types.OAuthAuthorisation) (*types.OAuthAuthorisation, error) {
	key := strconv.Itoa(int(grant.Owner)) + ":" + strconv.FormatInt(grant.ID, 10)

	result, err, _ := c.refreshes.Do(key, func() (any, error) {
		current := grant

		stored, err := c.grants.GetAuthorisation(ctx, grant.Owner, grant.ID)
		switch {
		case errors.Is(err, types.ErrAuthorisationNotFound):
			return nil, &ConnectionInvalidError{Kind: enum.ConnectionKindPatreon}
		case err != nil:
			return nil, fmt.Errorf("failed to read stored authorisation: %w", err)
		case !stored.IsExpired(c.now()):
			c.notifyRefresh(stored)
			return stored, nil
		default:
			current = stored
		}

		refreshed, err := c.requestToken(ctx, current)
		if err != nil {
			return nil, err
		}

		if err := c.grants.UpdateAuthorisation(ctx, refreshed); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed authorisation: %w", err)
		}

		c.notifyRefresh(refreshed)

		c.logger.Debug("Refreshed authorisation",
			zap.Int64("id", refreshed.ID),
			zap.Time("expires_at", refreshed.ExpiresAt))

		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*types.OAuthAuthorisation), nil //nolint:forcetypeassert // only grants are returned
}

func (c *Client) notifyRefresh(grant *types.OAuthAuthorisation) {
	if c.onRefresh != nil {
		c.onRefresh(grant)
	}
}

// requestToken exchanges the refresh token of a grant for new tokens.
func (c *Client) requestToken(ctx context.Context, grant *types.OAuthAuthorisation) (*types.OAuthAuthorisation, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", grant.RefreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.secret)

	status, body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionRefresh, err)
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, &ConnectionInvalidError{Kind: enum.ConnectionKindPatreon}
	case status < 200 || status > 299:
		return nil, fmt.Errorf("%w: %w", ErrConnectionRefresh, newAPIError(status, body))
	}

	var token tokenResponse
	if err := sonic.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: failed to decode token response: %w", ErrConnectionRefresh, err)
	}

	lifetime := time.Duration(token.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}

	refreshed := &types.OAuthAuthorisation{
		ID:           grant.ID,
		TokenType:    token.TokenType,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    c.now().Add(lifetime),
		Scope:        token.Scope,
		Owner:        grant.Owner,
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = grant.RefreshToken
	}

	if refreshed.TokenType == "" {
		refreshed.TokenType = grant.TokenType
	}

	return refreshed, nil
}

// getJSON performs an authenticated GET and decodes the response.
func (c *Client) getJSON(ctx context.Context, grant *types.OAuthAuthorisation, path string, v any) error {
	status, body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+grant.AccessToken)

		return req, nil
	})
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusUnauthorized:
		return &ConnectionInvalidError{Kind: enum.ConnectionKindPatreon}
	case status < 200 || status > 299:
		return newAPIError(status, body)
	}

	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode patreon response: %w", err)
	}

	return nil
}

// do sends a request, retrying transport failures with backoff. Any HTTP
// response is returned to the caller as is.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (int, []byte, error) {
	var (
		status int
		body   []byte
	)

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), maxTransportRetries), ctx)

	err := backoff.Retry(func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			telemetry.ExternalRequests.WithLabelValues("patreon", "error").Inc()
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		status = resp.StatusCode
		telemetry.ExternalRequests.WithLabelValues("patreon", strconv.Itoa(status)).Inc()

		return nil
	}, b)
	if err != nil {
		return 0, nil, fmt.Errorf("patreon request failed: %w", err)
	}

	return status, body, nil
}

func newAPIError(status int, body []byte) *APIError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return &APIError{Status: status, Body: string(bytes.TrimSpace(body))}
}
