package shared

import (
	"net/http"
	"strconv"
)

// PageParams carries limit/offset parsed from a request.
type PageParams struct {
	Limit  int
	Offset int
}

// ParsePage reads limit/offset query params with sane bounds.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) PageParams {
	p := PageParams{Limit: defaultLimit}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		p.Offset = v
	}
	return p
}
