package meeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
)

func TestClassifyURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		platform   Platform
		externalID string
	}{
		{
			name:       "zoom join link",
			url:        "https://foo.zoom.us/j/1234567890",
			platform:   PlatformZoom,
			externalID: "1234567890",
		},
		{
			name:       "zoom without subdomain",
			url:        "https://zoom.us/j/98765432109",
			platform:   PlatformZoom,
			externalID: "98765432109",
		},
		{
			name:       "zoom with query string",
			url:        "https://us02web.zoom.us/j/1234567890?pwd=abc123",
			platform:   PlatformZoom,
			externalID: "1234567890",
		},
		{
			name:       "google meet code",
			url:        "https://meet.google.com/abc-defg-hij",
			platform:   PlatformGoogleMeet,
			externalID: "abc-defg-hij",
		},
		{
			name:       "surrounding whitespace",
			url:        "  https://meet.google.com/xyz-abcd-efg\n",
			platform:   PlatformGoogleMeet,
			externalID: "xyz-abcd-efg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := ClassifyURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, link.Platform)
			assert.Equal(t, tt.externalID, link.ExternalID)
		})
	}
}

func TestClassifyURL_Unrecognized(t *testing.T) {
	for _, url := range []string{
		"https://example.com/meeting",
		"https://teams.microsoft.com/l/meetup-join/xyz",
		"https://zoom.us/about",
		"https://meet.google.com/not-a-code",
		"",
	} {
		_, err := ClassifyURL(url)
		assert.True(t, rcerrors.IsValidation(err), "expected validation error for %q", url)
	}
}

func TestFindLinks(t *testing.T) {
	text := `Weekly sync.
Join Zoom: https://corp.zoom.us/j/1234567890 (passcode 555)
Backup: https://meet.google.com/abc-defg-hij
Zoom again: https://corp.zoom.us/j/1234567890`

	links := FindLinks(text)
	require.Len(t, links, 2, "duplicate links should collapse")

	assert.Equal(t, PlatformZoom, links[0].Platform)
	assert.Equal(t, "1234567890", links[0].ExternalID)
	assert.Equal(t, PlatformGoogleMeet, links[1].Platform)
	assert.Equal(t, "abc-defg-hij", links[1].ExternalID)
}

func TestFindLinks_NoMatches(t *testing.T) {
	assert.Empty(t, FindLinks("Lunch with the team at noon"))
}
