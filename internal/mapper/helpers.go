package mapper

import (
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/versia-pub/activitypub/internal/apmodel"
)

// hostOf returns the host component of a URL, or "" on parse failure.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// htmlToText strips an AP Note's HTML content down to plain text, used to
// populate the text/plain entry alongside text/html in a VP ContentFormat
// map. Grounded on the teacher's htmlToText (internal/ap/handler.go), kept
// verbatim in approach: walk tokens with the standard HTML tokenizer so
// entity references decode correctly, insert paragraph breaks for block
// elements, and discard script/style bodies entirely.
func htmlToText(h string) string {
	z := html.NewTokenizer(strings.NewReader(h))
	var sb strings.Builder
	skipContent := false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			if !skipContent {
				sb.WriteString(html.UnescapeString(string(z.Raw())))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipContent = true
			case "p", "div", "blockquote", "li":
				sb.WriteString("\n\n")
			case "br":
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipContent = false
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// marshalWithContext serializes v wrapped with the standard AP @context,
// used to populate a store row's ap_json column.
func marshalWithContext(v interface{}) (string, error) {
	b, err := json.Marshal(apmodel.WithContext(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
