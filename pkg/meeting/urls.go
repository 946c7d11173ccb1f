package meeting

import (
	"fmt"
	"regexp"
	"strings"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
)

// Meeting URL patterns. The two shapes are mutually exclusive: Zoom join
// links carry a 9-11 digit conference id, Google Meet links a xxx-xxxx-xxx
// code.
var (
	zoomURLRegex = regexp.MustCompile(`https?://(?:[A-Za-z0-9-]+\.)*zoom\.us/j/(\d{9,11})`)
	meetURLRegex = regexp.MustCompile(`https?://meet\.google\.com/([a-z]{3}-[a-z]{4}-[a-z]{3})`)
)

// Link is a classified meeting URL.
type Link struct {
	Platform   Platform
	ExternalID string
	URL        string
}

// ClassifyURL matches a meeting URL against the supported platform shapes and
// extracts the platform-specific external identifier. Unrecognized URLs
// return ErrValidation.
func ClassifyURL(rawURL string) (Link, error) {
	trimmed := strings.TrimSpace(rawURL)

	if m := zoomURLRegex.FindStringSubmatch(trimmed); m != nil {
		return Link{Platform: PlatformZoom, ExternalID: m[1], URL: m[0]}, nil
	}
	if m := meetURLRegex.FindStringSubmatch(trimmed); m != nil {
		return Link{Platform: PlatformGoogleMeet, ExternalID: m[1], URL: m[0]}, nil
	}

	return Link{}, fmt.Errorf("%w: unrecognized meeting URL %q", rcerrors.ErrValidation, rawURL)
}

// FindLinks scans free text (calendar event descriptions, locations,
// conference metadata) for embedded meeting URLs and returns each distinct
// match. Order follows first appearance.
func FindLinks(text string) []Link {
	var links []Link
	seen := make(map[string]struct{})

	appendMatches := func(platform Platform, matches [][]string) {
		for _, m := range matches {
			key := string(platform) + ":" + m[1]
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			links = append(links, Link{Platform: platform, ExternalID: m[1], URL: m[0]})
		}
	}

	appendMatches(PlatformZoom, zoomURLRegex.FindAllStringSubmatch(text, -1))
	appendMatches(PlatformGoogleMeet, meetURLRegex.FindAllStringSubmatch(text, -1))

	return links
}
