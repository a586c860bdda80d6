package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func parsePaginationForTest(t *testing.T, query string) PaginationParams {
	t.Helper()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(ParsePagination(c))
	})

	path := "/"
	if query != "" {
		path = fmt.Sprintf("/?%s", query)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	if err != nil {
		t.Fatalf("pagination request failed for query %q: %v", query, err)
	}
	defer resp.Body.Close()

	var parsed PaginationParams
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode pagination response for query %q: %v", query, err)
	}
	return parsed
}

func TestParsePagination(t *testing.T) {
	testCases := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
	}{
		{name: "defaults when no query params", query: "", wantPage: 1, wantLimit: 20},
		{name: "uses explicit page and limit", query: "page=2&limit=10", wantPage: 2, wantLimit: 10},
		{name: "normalizes page less than one", query: "page=0&limit=10", wantPage: 1, wantLimit: 10},
		{name: "normalizes invalid page string", query: "page=abc&limit=10", wantPage: 1, wantLimit: 10},
		{name: "normalizes negative limit", query: "page=3&limit=-5", wantPage: 3, wantLimit: 20},
		{name: "clamps large limit", query: "limit=500", wantPage: 1, wantLimit: 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := parsePaginationForTest(t, tc.query)
			if got.Page != tc.wantPage || got.Limit != tc.wantLimit {
				t.Fatalf("got page=%d limit=%d, want page=%d limit=%d", got.Page, got.Limit, tc.wantPage, tc.wantLimit)
			}
		})
	}
}
