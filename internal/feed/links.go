package feed

import (
	"net/url"
	"strings"
)

// DropUtmMarkers removes utm_* tracking parameters from a link.
func DropUtmMarkers(urlStr string) string {
	if urlStr == "" || !strings.Contains(urlStr, "utm_") {
		return urlStr
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(key, "utm_") {
			delete(query, key)
		}
	}
	u.RawQuery = query.Encode()

	return u.String()
}
