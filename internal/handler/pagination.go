package handler

import (
	"net/http"
	"strconv"
)

// MaxPage bounds how deep into a deck a client may page.
const MaxPage = 1000

// ParsePage reads the zero-based ?page= parameter, clamping bad values to 0.
func ParsePage(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		return 0
	}
	if page > MaxPage {
		return MaxPage
	}
	return page
}
