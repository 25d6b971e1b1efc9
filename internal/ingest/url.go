package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeSourceURL canonicalizes a post URL for deduplication.
// It lowercases the scheme and host, removes default ports, and strips the
// query string, fragment and trailing slash, matching the SQL normalize_url function.
func NormalizeSourceURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	} else {
		u.Path = ""
	}
	return u.String(), nil
}

var platformHosts = []struct {
	suffix   string
	platform Platform
}{
	{"twitter.com", PlatformTwitter},
	{"x.com", PlatformTwitter},
	{"twimg.com", PlatformTwitter},
	{"instagram.com", PlatformInstagram},
	{"cdninstagram.com", PlatformInstagram},
	{"weibo.com", PlatformWeibo},
	{"weibo.cn", PlatformWeibo},
	{"sinaimg.cn", PlatformWeibo},
	{"xiaohongshu.com", PlatformXiaohongshu},
	{"xhslink.com", PlatformXiaohongshu},
	{"xhscdn.com", PlatformXiaohongshu},
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"tiktok.com", PlatformTikTok},
	{"t.me", PlatformTelegram},
	{"telegram.org", PlatformTelegram},
}

// DetectPlatform infers the platform from a URL host.
func DetectPlatform(rawURL string) Platform {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return PlatformManual
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range platformHosts {
		if host == h.suffix || strings.HasSuffix(host, "."+h.suffix) {
			return h.platform
		}
	}
	return PlatformManual
}

var (
	twitterStatusID = regexp.MustCompile(`status(?:es)?/(\d+)`)
	instagramPostID = regexp.MustCompile(`/(?:p|reel)/([^/?#]+)`)
	weiboPostID     = regexp.MustCompile(`weibo\.(?:com|cn)/(?:\d+/|detail/|status/)([A-Za-z0-9]+)`)
)

// ExtractPostID pulls the platform-native post identifier out of a post URL.
func ExtractPostID(platform Platform, rawURL string) string {
	var re *regexp.Regexp
	switch platform {
	case PlatformTwitter:
		re = twitterStatusID
	case PlatformInstagram:
		re = instagramPostID
	case PlatformWeibo:
		re = weiboPostID
	default:
		return ""
	}
	if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
		return m[1]
	}
	return ""
}
