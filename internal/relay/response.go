package relay

import (
	"encoding/json"
	"strings"
)

// replyPaths lists the known reply locations, most specific first.
// The code/data.response envelope is checked before the top-level message
// because that envelope also carries a status "message" such as "OK".
var replyPaths = [][]string{
	{"data", "reply"},
	{"data", "response"},
	{"message"},
}

// extractReply returns the first non-empty string found at a known reply path.
func extractReply(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for _, path := range replyPaths {
		if s := stringAt(doc, path); s != "" {
			return s
		}
	}
	return ""
}

func stringAt(doc map[string]any, path []string) string {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
