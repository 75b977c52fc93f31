package utils

import (
	"net/http/httptest"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=1"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"ok", `{"name":"kale","count":2}`, ""},
		{"unknown field", `{"name":"kale","count":2,"price":1}`, `unknown field "price"`},
		{"missing required", `{"count":2}`, "name failed required"},
		{"bound", `{"name":"kale","count":0}`, "count failed gte=1"},
		{"empty", ``, "request body is empty"},
		{"trailing", `{"name":"kale","count":1}{}`, "single JSON object"},
		{"wrong type", `{"name":"kale","count":"two"}`, "invalid value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var dst sample
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query     string
		page, lim int
	}{
		{"", 1, 12},
		{"page=3&limit=5", 3, 5},
		{"page=-2&limit=0", 1, 12},
		{"limit=1000", 1, 100},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/?"+tt.query, nil)
		p := ParsePage(r, 12, 100)
		if p.Page != tt.page || p.Limit != tt.lim {
			t.Errorf("%q: got %+v", tt.query, p)
		}
	}
	if got := (Page{Page: 3, Limit: 10}).Skip(); got != 20 {
		t.Errorf("Skip = %d", got)
	}
}

func TestTotalPages(t *testing.T) {
	if TotalPages(0, 12) != 0 || TotalPages(12, 12) != 1 || TotalPages(13, 12) != 2 {
		t.Fatal("TotalPages rounding")
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename("../../etc/pa ss.jpg"); got != "pa_ss.jpg" {
		t.Fatalf("got %q", got)
	}
}
