package geocode

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/httputil"
)

var galata = geo.GeoPoint{Latitude: 41.0256, Longitude: 28.9741}

func TestNominatim_Reverse(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `{
		"name": "Galata Kulesi",
		"address": {"road": "Galata Kulesi Sokak", "suburb": "Beyoğlu", "city": "İstanbul", "state": "İstanbul", "country": "Türkiye"}
	}`)
	n := NewNominatim("https://nominatim.example.org/", mock)

	got, err := n.Reverse(context.Background(), galata)
	require.NoError(t, err)
	assert.Equal(t, "Galata Kulesi, İstanbul, İstanbul, Türkiye", got)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, "/reverse", req.URL.Path)
	assert.Equal(t, "41.025600", req.URL.Query().Get("lat"))
	assert.Equal(t, "28.974100", req.URL.Query().Get("lon"))
	assert.Equal(t, "jsonv2", req.URL.Query().Get("format"))
}

func TestNominatim_NoAddress(t *testing.T) {
	tests := map[string]string{
		"error body":    `{"error": "Unable to geocode"}`,
		"empty address": `{"address": {}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			n := NewNominatim("https://nominatim.example.org", httputil.NewMockHTTPClient().AddResponse(http.StatusOK, body))
			_, err := n.Reverse(context.Background(), galata)
			assert.ErrorIs(t, err, ErrNoAddress)
		})
	}
}

func TestNominatim_UpstreamFailure(t *testing.T) {
	n := NewNominatim("https://nominatim.example.org", httputil.NewMockHTTPClient().AddResponse(http.StatusServiceUnavailable, "down"))
	_, err := n.Reverse(context.Background(), galata)
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestNominatim_InvalidPoint(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	n := NewNominatim("https://nominatim.example.org", mock)
	_, err := n.Reverse(context.Background(), geo.GeoPoint{Latitude: 91})
	assert.ErrorIs(t, err, geo.ErrOutOfRange)
	assert.Zero(t, mock.RequestCount())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		addr map[string]string
		want string
	}{
		{"road fallback", "", map[string]string{"road": "Main St", "house_number": "12", "town": "Springfield", "country": "USA"}, "Main St 12, Springfield, USA"},
		{"village and county", "Mill", map[string]string{"village": "Ayr", "county": "Kent"}, "Mill, Ayr, Kent"},
		{"nothing", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in, tt.addr))
		})
	}
}

// blockingGeocoder waits for cancellation or release.
type blockingGeocoder struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingGeocoder) Reverse(ctx context.Context, p geo.GeoPoint) (string, error) {
	b.started <- struct{}{}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.release:
		return p.String(), nil
	}
}

func TestLatest_CancelsInFlight(t *testing.T) {
	inner := &blockingGeocoder{started: make(chan struct{}, 2), release: make(chan struct{})}
	l := NewLatest(inner)

	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Reverse(context.Background(), galata)
		firstErr <- err
	}()
	<-inner.started

	secondDone := make(chan string, 1)
	go func() {
		addr, _ := l.Reverse(context.Background(), geo.GeoPoint{Latitude: 1, Longitude: 2})
		secondDone <- addr
	}()

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, ErrSuperseded))
	case <-time.After(time.Second):
		t.Fatal("first lookup was not cancelled")
	}

	<-inner.started
	close(inner.release)
	select {
	case addr := <-secondDone:
		assert.Equal(t, "(1.000000,2.000000)", addr)
	case <-time.After(time.Second):
		t.Fatal("second lookup did not finish")
	}
}

func TestLatest_CallersAreIndependent(t *testing.T) {
	inner := &blockingGeocoder{started: make(chan struct{}, 2), release: make(chan struct{})}
	l := NewLatest(inner)

	type result struct {
		addr string
		err  error
	}
	results := make(chan result, 2)
	for _, caller := range []string{"phone", "laptop"} {
		go func(caller string) {
			addr, err := l.ReverseFor(context.Background(), caller, galata)
			results <- result{addr, err}
		}(caller)
		<-inner.started
	}
	assert.Equal(t, 2, l.InFlight())

	close(inner.release)
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, galata.String(), r.addr)
		case <-time.After(time.Second):
			t.Fatal("lookup did not finish")
		}
	}
	assert.Zero(t, l.InFlight())
}
