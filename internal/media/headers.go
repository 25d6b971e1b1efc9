package media

import (
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// DefaultUserAgents is the browser UA pool rotated across downloads.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// refererByPlatform lists origins that reject media requests without a matching referer.
var refererByPlatform = map[ingest.Platform]string{
	ingest.PlatformWeibo:       "https://weibo.com/",
	ingest.PlatformTwitter:     "https://twitter.com/",
	ingest.PlatformInstagram:   "https://www.instagram.com/",
	ingest.PlatformXiaohongshu: "https://www.xiaohongshu.com/",
}

// profile is the header set applied to one media request.
type profile struct {
	headers http.Header
	hotlink bool
}

// profileFor chooses headers from the media host first, then the candidate platform,
// so a sinaimg URL found in an RSS feed still gets the weibo referer.
func profileFor(platform ingest.Platform, rawURL string, userAgents []string) profile {
	h := http.Header{}
	h.Set("User-Agent", pickUserAgent(userAgents))
	h.Set("Accept", "image/avif,image/webp,image/apng,image/*,video/*,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8,th;q=0.7")

	referer, ok := refererByPlatform[ingest.DetectPlatform(rawURL)]
	if !ok {
		referer, ok = refererByPlatform[platform]
	}
	if ok {
		h.Set("Referer", referer)
		if u, err := url.Parse(referer); err == nil {
			h.Set("Origin", strings.TrimSuffix(u.Scheme+"://"+u.Host, "/"))
		}
	}
	return profile{headers: h, hotlink: ok}
}

func pickUserAgent(pool []string) string {
	if len(pool) == 0 {
		pool = DefaultUserAgents
	}
	return pool[rand.IntN(len(pool))] //nolint:gosec // UA rotation is not security sensitive
}
