package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
)

const (
	googleEventsURL   = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleClient implements the two-step OAuth flow and calendar event listing
// against the Google APIs.
type GoogleClient struct {
	oauth  *oauth2.Config
	client *http.Client
}

// NewGoogleClient creates a Google calendar client.
func NewGoogleClient(cfg GoogleConfig) *GoogleClient {
	return &GoogleClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/calendar.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthorizeURL is step one of the flow: the redirect target carrying the
// user id as OAuth state. Offline access is required to obtain a refresh
// token for the sweep.
func (g *GoogleClient) AuthorizeURL(state string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange is step two: trade the callback code for a token set.
func (g *GoogleClient) Exchange(ctx context.Context, code string) (TokenSet, error) {
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: code exchange: %v", rcerrors.ErrUpstream, err)
	}
	return tokenSetFrom(token), nil
}

// Refresh obtains a fresh access token from a stored refresh token.
func (g *GoogleClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	source := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: token refresh: %v", rcerrors.ErrUpstream, err)
	}
	ts := tokenSetFrom(token)
	if ts.RefreshToken == "" {
		// Google omits the refresh token on refresh responses; keep ours.
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// AccountInfo resolves the authorized account's email and stable id.
func (g *GoogleClient) AccountInfo(ctx context.Context, accessToken string) (email, accountID string, err error) {
	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := g.getJSON(ctx, googleUserInfoURL, accessToken, &info); err != nil {
		return "", "", err
	}
	return info.Email, info.ID, nil
}

func tokenSetFrom(token *oauth2.Token) TokenSet {
	return TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

type googleEventList struct {
	Items []googleEvent `json:"items"`
}

type googleEvent struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	HangoutLink string `json:"hangoutLink"`
	Start       struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"end"`
	ConferenceData struct {
		EntryPoints []struct {
			URI string `json:"uri"`
		} `json:"entryPoints"`
	} `json:"conferenceData"`
}

// ListEvents returns the connection's events between from and to.
func (g *GoogleClient) ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error) {
	params := url.Values{}
	params.Set("timeMin", from.Format(time.RFC3339))
	params.Set("timeMax", to.Format(time.RFC3339))
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	params.Set("maxResults", "100")

	var list googleEventList
	if err := g.getJSON(ctx, googleEventsURL+"?"+params.Encode(), accessToken, &list); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(list.Items))
	for _, item := range list.Items {
		ev := Event{
			ID:          item.ID,
			Summary:     item.Summary,
			Description: item.Description,
			Location:    item.Location,
			Start:       item.Start.DateTime,
			End:         item.End.DateTime,
		}
		if item.HangoutLink != "" {
			ev.EntryPoints = append(ev.EntryPoints, item.HangoutLink)
		}
		for _, ep := range item.ConferenceData.EntryPoints {
			if ep.URI != "" {
				ev.EntryPoints = append(ev.EntryPoints, ep.URI)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (g *GoogleClient) getJSON(ctx context.Context, rawURL, accessToken string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: google api request: %v", rcerrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: google api returned status %d: %s",
			rcerrors.ErrUpstream, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: decode google api response: %v", rcerrors.ErrUpstream, err)
	}
	return nil
}
