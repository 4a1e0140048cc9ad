// Package geocode turns coordinates into human-readable addresses.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/httputil"
)

var (
	// ErrNoAddress is returned when a lookup resolves to nothing.
	ErrNoAddress = errors.New("no address found")
	// ErrSuperseded is returned by Latest when a newer lookup replaced
	// this one.
	ErrSuperseded = errors.New("lookup superseded by a newer request")
)

// Geocoder resolves a point to a single-line address.
type Geocoder interface {
	Reverse(ctx context.Context, p geo.GeoPoint) (string, error)
}

// Nominatim queries an OpenStreetMap Nominatim server.
type Nominatim struct {
	BaseURL  string
	Language string
	client   httputil.HTTPClient
}

func NewNominatim(baseURL string, client httputil.HTTPClient) *Nominatim {
	return &Nominatim{BaseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type nominatimResponse struct {
	Error   string            `json:"error"`
	Name    string            `json:"name"`
	Address map[string]string `json:"address"`
}

func (n *Nominatim) Reverse(ctx context.Context, p geo.GeoPoint) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("lat", strconv.FormatFloat(p.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Longitude, 'f', 6, 64))
	if n.Language != "" {
		q.Set("accept-language", n.Language)
	}

	var resp nominatimResponse
	if err := httputil.GetJSON(ctx, n.client, n.BaseURL+"/reverse?"+q.Encode(), &resp); err != nil {
		return "", fmt.Errorf("reverse geocode %s: %w", p, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("reverse geocode %s: %s: %w", p, resp.Error, ErrNoAddress)
	}
	address := Format(resp.Name, resp.Address)
	if address == "" {
		return "", fmt.Errorf("reverse geocode %s: %w", p, ErrNoAddress)
	}
	return address, nil
}

// Format joins name, locality, region and country, skipping empty parts.
func Format(name string, addr map[string]string) string {
	if name == "" {
		name = strings.TrimSpace(first(addr, "road", "pedestrian", "footway") + " " + addr["house_number"])
	}
	parts := []string{
		name,
		first(addr, "city", "town", "village", "hamlet", "suburb"),
		first(addr, "state", "province", "region", "county"),
		addr["country"],
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func first(addr map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := addr[k]; v != "" {
			return v
		}
	}
	return ""
}

// Latest wraps a Geocoder so that starting a lookup cancels the one the
// same caller still has in flight. The map only ever shows the address for
// that caller's last tap; other callers are unaffected.
type Latest struct {
	inner Geocoder

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*lookup
}

type lookup struct {
	seq    uint64
	cancel context.CancelFunc
}

func NewLatest(inner Geocoder) *Latest {
	return &Latest{inner: inner, inflight: make(map[string]*lookup)}
}

// Reverse treats every call as coming from a single caller.
func (l *Latest) Reverse(ctx context.Context, p geo.GeoPoint) (string, error) {
	return l.ReverseFor(ctx, "", p)
}

// ReverseFor resolves p on behalf of caller, superseding that caller's
// previous lookup if it has not finished.
func (l *Latest) ReverseFor(ctx context.Context, caller string, p geo.GeoPoint) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if prev, ok := l.inflight[caller]; ok {
		prev.cancel()
	}
	l.seq++
	mine := &lookup{seq: l.seq, cancel: cancel}
	l.inflight[caller] = mine
	l.mu.Unlock()

	address, err := l.inner.Reverse(ctx, p)

	l.mu.Lock()
	superseded := l.inflight[caller] != mine
	if !superseded {
		delete(l.inflight, caller)
	}
	l.mu.Unlock()

	if superseded {
		return "", ErrSuperseded
	}
	return address, err
}

// InFlight reports how many callers have a lookup running.
func (l *Latest) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}
