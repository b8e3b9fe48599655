package router

import (
	"net/http"
	"strings"
)

type paramsKey struct{}

// PathMatches reports whether path fits template. Segments starting with ':'
// capture the corresponding path segment. Segment counts must be equal and
// no trailing-slash normalization is applied. A query string is ignored.
func PathMatches(template, path string) (map[string]string, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if template == path {
		return nil, true
	}

	want := strings.Split(template, "/")
	got := strings.Split(path, "/")
	if len(want) != len(got) {
		return nil, false
	}

	var params map[string]string
	for i, segment := range want {
		if strings.HasPrefix(segment, ":") && len(segment) > 1 {
			if got[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[segment[1:]] = got[i]
			continue
		}
		if segment != got[i] {
			return nil, false
		}
	}
	return params, true
}

// Param returns the value captured for name by the matched route.
func Param(r *http.Request, name string) string {
	params, _ := r.Context().Value(paramsKey{}).(map[string]string)
	return params[name]
}
