package api

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/status-im/wallet-router/connections"
	"github.com/status-im/wallet-router/provider"
)

// SenderInfo describes where a connection comes from, as reported by the
// transport layer.
type SenderInfo struct {
	// URL is the full sender URL for website and extension subjects.
	URL string
	// MainFrameURL is set when the sender is an iframe; it names the
	// top-level page embedding it.
	MainFrameURL string
	// TabID is non-zero for tab-scoped senders.
	TabID int
	// SnapID identifies snap senders; it doubles as their origin.
	SnapID string
	// Internal marks the wallet's own UI.
	Internal bool
}

var ErrUnidentifiedSender = errors.New("sender carries no identity")

// DeriveSubject maps the sender onto its origin string and subject type.
// Internal wins over everything, a snap id wins over a URL; a plain URL is
// classified by its scheme.
func DeriveSubject(sender SenderInfo) (string, provider.SubjectType, error) {
	if sender.Internal {
		return connections.OriginInternal, provider.SubjectInternal, nil
	}
	if sender.SnapID != "" {
		return sender.SnapID, provider.SubjectSnap, nil
	}
	if sender.URL == "" {
		return "", "", ErrUnidentifiedSender
	}
	origin, err := urlOrigin(sender.URL)
	if err != nil {
		return "", "", err
	}
	if isExtensionScheme(sender.URL) {
		return origin, provider.SubjectExtension, nil
	}
	return origin, provider.SubjectWebsite, nil
}

// urlOrigin reduces a URL to its origin: scheme://host[:port].
func urlOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("malformed sender url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("sender url %q has no origin", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func isExtensionScheme(raw string) bool {
	return strings.HasPrefix(raw, "chrome-extension://") ||
		strings.HasPrefix(raw, "moz-extension://")
}
