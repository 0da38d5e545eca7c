package utils

import (
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`(?i)https?://[^\s<>]+`)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

// ExtractURLs returns scheme-prefixed tokens in the order they appear.
func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// NormalizeURL lower-cases and punycodes the host and drops fragments,
// credentials, default ports and tracking parameters, so that the same link posted with
// different decorations compares equal.
func NormalizeURL(raw string) (string, string, error) {
	raw = strings.TrimRight(raw, ".,;:!?)>\"'")
	if !strings.HasPrefix(strings.ToLower(raw), "http://") && !strings.HasPrefix(strings.ToLower(raw), "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	port := parsed.Port()
	if defaultPorts[parsed.Scheme] == port {
		port = ""
	}
	switch {
	case port != "":
		parsed.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		parsed.Host = "[" + host + "]"
	default:
		parsed.Host = host
	}
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

// NormalizeURLs normalizes every URL, keeping the raw form of the ones that
// fail to parse.
func NormalizeURLs(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		normalized, _, err := NormalizeURL(item)
		if err != nil {
			out = append(out, strings.ToLower(item))
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
