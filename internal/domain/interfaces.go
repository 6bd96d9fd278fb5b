package domain

import (
	"context"
	"strings"
	"time"
)

// NetworkStatus is the reachability reported by a ConnectivitySignal.
type NetworkStatus string

const (
	NetworkOnline  NetworkStatus = "online"
	NetworkOffline NetworkStatus = "offline"
	NetworkUnknown NetworkStatus = "unknown"
)

// ConnectivitySignal reports current and streamed network reachability.
type ConnectivitySignal interface {
	// Status returns the latest known status
	Status() NetworkStatus

	// Subscribe returns a channel of status changes and a function that
	// releases the subscription (closing the channel).
	Subscribe() (<-chan NetworkStatus, func())
}

// Request is the transport-neutral description of one HTTP call.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// Clone returns a deep copy so callers can modify headers/body safely.
func (r Request) Clone() Request {
	c := r
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Response is what a Transport returns for any HTTP status.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Header looks up a response header case-insensitively.
func (r *Response) Header(name string) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends a request and returns the response. Non-2xx statuses are
// not errors; an error means no response was obtained (connection failure,
// timeout, cancellation). No retries or redirects are implied.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// TileRequest describes one tile fetch against a templated URL.
type TileRequest struct {
	Template   string
	Coord      TileCoord
	Subdomains []string
	Headers    map[string]string
}

// TileData is a fetched tile body and its reported content type.
type TileData struct {
	Bytes       []byte
	ContentType string
}

// TileFetcher retrieves a single tile.
type TileFetcher interface {
	Fetch(ctx context.Context, req TileRequest) (*TileData, error)
}
