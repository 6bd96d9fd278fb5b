package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmcdole/offgrid/internal/domain"
)

// ExpandTemplate substitutes {z}, {x}, {y} and {s} in a tile URL template.
// The subdomain is picked by (x + y) mod len(subdomains).
func ExpandTemplate(template string, t domain.TileCoord, subdomains []string) string {
	sub := ""
	if len(subdomains) > 0 {
		sub = subdomains[(t.X+t.Y)%len(subdomains)]
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{s}", sub,
	).Replace(template)
}

// TileFetcher implements domain.TileFetcher on top of a Transport
type TileFetcher struct {
	transport domain.Transport
}

// NewTileFetcher creates a fetcher using t for every request
func NewTileFetcher(t domain.Transport) *TileFetcher {
	return &TileFetcher{transport: t}
}

// Fetch downloads one tile. Non-2xx statuses wrap domain.ErrTileFetch.
func (f *TileFetcher) Fetch(ctx context.Context, r domain.TileRequest) (*domain.TileData, error) {
	url := ExpandTemplate(r.Template, r.Coord, r.Subdomains)

	resp, err := f.transport.Send(ctx, domain.Request{
		Method:  http.MethodGet,
		URL:     url,
		Headers: r.Headers,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: tile %s: status %d", domain.ErrTileFetch, r.Coord, resp.StatusCode)
	}

	return &domain.TileData{
		Bytes:       resp.Body,
		ContentType: resp.Header("Content-Type"),
	}, nil
}
