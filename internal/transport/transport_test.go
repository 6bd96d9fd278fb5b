package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/logging"
)

func TestHTTP_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || string(body) != `{"a":1}` {
			t.Errorf("got %s %q", r.Method, body)
		}
		if r.Header.Get("X-Trace") != "abc" {
			t.Errorf("X-Trace = %q", r.Header.Get("X-Trace"))
		}
		if r.Header.Get("User-Agent") != "offgrid-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("ETag", `"v2"`)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("server state"))
	}))
	defer srv.Close()

	h := NewHTTP(logging.NullLogger(), WithUserAgent("offgrid-test"))
	resp, err := h.Send(context.Background(), domain.Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"X-Trace": "abc"},
		Body:    []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if string(resp.Body) != "server state" {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.Headers["etag"] != `"v2"` {
		t.Errorf("headers not lower-cased: %v", resp.Headers)
	}
}

func TestHTTP_SendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h := NewHTTP(logging.NullLogger())
	_, err := h.Send(context.Background(), domain.Request{URL: srv.URL, Timeout: 50 * time.Millisecond})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestHTTP_SendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(logging.NullLogger()).Send(context.Background(), domain.Request{URL: url})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestExpandTemplate(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		coord      domain.TileCoord
		subdomains []string
		want       string
	}{
		{
			name:     "plain",
			template: "https://tiles.example.com/{z}/{x}/{y}.png",
			coord:    domain.TileCoord{Z: 3, X: 4, Y: 2},
			want:     "https://tiles.example.com/3/4/2.png",
		},
		{
			name:       "subdomain rotation",
			template:   "https://{s}.tile.example.com/{z}/{x}/{y}.png",
			coord:      domain.TileCoord{Z: 5, X: 7, Y: 3},
			subdomains: []string{"a", "b", "c"},
			want:       "https://b.tile.example.com/5/7/3.png", // (7+3) mod 3 = 1
		},
		{
			name:     "no subdomains",
			template: "https://{s}tiles/{z}/{x}/{y}",
			coord:    domain.TileCoord{Z: 1, X: 1, Y: 0},
			want:     "https://tiles/1/1/0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandTemplate(tt.template, tt.coord, tt.subdomains); got != tt.want {
				t.Errorf("ExpandTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTileFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2/1/1.png" {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("PNGDATA"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewTileFetcher(NewHTTP(logging.NullLogger()))

	data, err := f.Fetch(context.Background(), domain.TileRequest{
		Template: srv.URL + "/{z}/{x}/{y}.png",
		Coord:    domain.TileCoord{Z: 2, X: 1, Y: 1},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data.Bytes) != "PNGDATA" || data.ContentType != "image/png" {
		t.Errorf("data = %q, %q", data.Bytes, data.ContentType)
	}

	_, err = f.Fetch(context.Background(), domain.TileRequest{
		Template: srv.URL + "/{z}/{x}/{y}.png",
		Coord:    domain.TileCoord{Z: 9, X: 9, Y: 9},
	})
	if !errors.Is(err, domain.ErrTileFetch) {
		t.Errorf("err = %v, want ErrTileFetch", err)
	}
}
