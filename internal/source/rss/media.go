package rss

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/text/unicode/norm"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/media"
)

// findMedia picks the first image or video for item: enclosures, media RSS, item image,
// then the first <img>/<video> in the HTML body.
func findMedia(item *gofeed.Item, link string) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if isMediaType(enc.Type) || (enc.Type == "" && media.ExtFromURL(enc.URL) != "") {
			return resolveAgainst(link, enc.URL)
		}
	}
	if u := mediaRSS(item.Extensions); u != "" {
		return resolveAgainst(link, u)
	}
	if item.Image != nil && item.Image.URL != "" {
		return resolveAgainst(link, item.Image.URL)
	}
	for _, body := range []string{item.Description, item.Content} {
		if u := firstHTMLMedia(body); u != "" {
			return resolveAgainst(link, u)
		}
	}
	return ""
}

func isMediaType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/")
}

func mediaRSS(extensions ext.Extensions) string {
	ns, ok := extensions["media"]
	if !ok {
		return ""
	}
	var candidates []ext.Extension
	candidates = append(candidates, ns["content"]...)
	for _, group := range ns["group"] {
		candidates = append(candidates, group.Children["content"]...)
	}
	candidates = append(candidates, ns["thumbnail"]...)
	for _, node := range candidates {
		u := node.Attrs["url"]
		if u == "" {
			continue
		}
		medium := node.Attrs["medium"]
		if isMediaType(node.Attrs["type"]) || medium == "image" || medium == "video" || node.Name == "thumbnail" {
			return u
		}
		if node.Attrs["type"] == "" && media.ExtFromURL(u) != "" {
			return u
		}
	}
	return ""
}

func firstHTMLMedia(html string) string {
	if !strings.Contains(html, "<") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("img[src], video[src], video source[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" && !strings.HasPrefix(src, "data:") {
			found = strings.TrimSpace(src)
			return false
		}
		return true
	})
	return found
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func StripHTML(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	text := fragment
	if strings.ContainsAny(fragment, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
		if err == nil {
			doc.Find("br").ReplaceWithHtml("\n")
			text = doc.Text()
		}
	}
	return norm.NFC.String(strings.Join(strings.Fields(text), " "))
}
