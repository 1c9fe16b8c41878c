package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		limit  int
		offset int
	}{
		{"defaults", "", DefaultLimit, 0},
		{"explicit", "limit=50&offset=10", 50, 10},
		{"clamped to max", "limit=5000", MaxLimit, 0},
		{"negative offset", "offset=-5", DefaultLimit, 0},
		{"zero limit", "limit=0", DefaultLimit, 0},
		{"garbage", "limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.limit, tt.offset)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name       string
		p          Params
		n          int
		start, end int
	}{
		{"first page", Params{Limit: 10, Offset: 0}, 25, 0, 10},
		{"middle page", Params{Limit: 10, Offset: 10}, 25, 10, 20},
		{"last partial page", Params{Limit: 10, Offset: 20}, 25, 20, 25},
		{"offset past end", Params{Limit: 10, Offset: 100}, 25, 25, 25},
		{"empty set", Params{Limit: 10, Offset: 0}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.p.Window(tt.n)
			if start != tt.start || end != tt.end {
				t.Errorf("got [%d,%d), want [%d,%d)", start, end, tt.start, tt.end)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	resp := NewResponse([]int{1, 2, 3}, 25, p)
	if resp.Total != 25 || resp.Limit != 10 || resp.Offset != 10 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected has_more on a middle page")
	}

	last := NewResponse(nil, 25, Params{Limit: 10, Offset: 20})
	if last.HasMore {
		t.Error("expected no more results past the last page")
	}
}
