package share

import (
	"fmt"
	"net/url"
	"strings"
)

// Link builds <origin><path>#report=<token> from a page URL; any existing fragment is replaced.
func Link(pageURL, token string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse share base url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	return u.String() + "#" + FragmentKey + "=" + token, nil
}

// TokenFromFragment extracts the token from a "#report=<token>" fragment.
func TokenFromFragment(fragment string) (string, bool) {
	fragment = strings.TrimPrefix(fragment, "#")
	prefix := FragmentKey + "="
	if !strings.HasPrefix(fragment, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(fragment, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}
