package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=1000", MaxLimit, 0},
		{"?limit=-3&offset=-1", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(tt.query)
		if p.Limit != tt.limit || p.Offset != tt.offset {
			t.Errorf("%q: got limit=%d offset=%d, want limit=%d offset=%d", tt.query, p.Limit, p.Offset, tt.limit, tt.offset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, Params{Limit: 2, Offset: 2})
	if !r.HasMore {
		t.Error("expected has_more with 5 total at offset 2 limit 2")
	}
	r = NewResponse([]int{5}, 5, Params{Limit: 2, Offset: 4})
	if r.HasMore {
		t.Error("expected no more results on the last page")
	}
	if r.Total != 5 || r.Limit != 2 || r.Offset != 4 {
		t.Errorf("unexpected response fields: %+v", r)
	}
}

func TestNewResponse_NilSliceEncodesEmpty(t *testing.T) {
	type row struct{ ID int }
	var rows []*row
	b, err := json.Marshal(NewResponse(rows, 0, Params{Limit: DefaultLimit}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", b)
	}

	b, _ = json.Marshal(NewResponse([]int{7}, 1, Params{Limit: DefaultLimit}))
	if !strings.Contains(string(b), `"data":[7]`) {
		t.Errorf("expected populated data untouched, got %s", b)
	}
}
