package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"photo-map/model"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) *NominatimResolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewNominatimResolver(Options{Server: srv.URL, Timeout: time.Second}, zap.NewNop())
}

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want string
	}{
		{
			name: "city wins over town",
			addr: Address{City: "Paris", Town: "Ignored", County: "Paris", State: "Île-de-France", Country: "France"},
			want: "Paris, Paris, Île-de-France, France",
		},
		{
			name: "town when no city",
			addr: Address{Town: "Moab", County: "Grand County", State: "Utah", Country: "United States"},
			want: "Moab, Grand County, Utah",
		},
		{
			name: "village",
			addr: Address{Village: "Giverny", State: "Normandy", Country: "France"},
			want: "Giverny, Normandy, France",
		},
		{
			name: "hamlet only",
			addr: Address{Hamlet: "Nowhere"},
			want: "Nowhere",
		},
		{
			name: "home country only",
			addr: Address{Country: "United States"},
			want: "",
		},
		{
			name: "empty",
			addr: Address{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAddress(tt.addr, DefaultHome))
		})
	}
}

func TestResolve_Success(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/reverse", req.URL.Path)
		assert.Equal(t, "json", req.URL.Query().Get("format"))
		assert.Equal(t, "48.8566", req.URL.Query().Get("lat"))
		assert.Equal(t, "2.3522", req.URL.Query().Get("lon"))
		assert.Equal(t, "14", req.URL.Query().Get("zoom"))
		assert.Equal(t, "PhotoMapApp/1.0", req.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address":{"city":"Paris","state":"Île-de-France","country":"France"}}`))
	})

	assert.Equal(t, "Paris, Île-de-France, France", r.Resolve(context.Background(), 48.8566, 2.3522))
}

func TestResolve_DegradesToSentinel(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"not json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		},
		"no address": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
		},
		"empty address": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"address":{"country":"United States"}}`))
		},
		"timeout": func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(1500 * time.Millisecond)
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			r := newTestResolver(t, handler)
			assert.Equal(t, model.LocationNotFound, r.Resolve(context.Background(), 1, 2))
		})
	}
}

func TestResolve_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	r := NewNominatimResolver(Options{Server: srv.URL, Timeout: time.Second}, zap.NewNop())
	assert.Equal(t, model.LocationNotFound, r.Resolve(context.Background(), 1, 2))
}

func TestResolve_NoRetryAndOpenCircuit(t *testing.T) {
	var calls atomic.Int32
	r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	for range 8 {
		require.Equal(t, model.LocationNotFound, r.Resolve(context.Background(), 1, 2))
	}
	// five failures open the circuit, later lookups never reach the server
	assert.Equal(t, int32(5), calls.Load())
}

func TestResolve_CanceledLookupsKeepCircuitClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"address":{"city":"Paris","country":"France"}}`))
	}))
	t.Cleanup(srv.Close)
	r := NewNominatimResolver(Options{Server: srv.URL, Timeout: time.Second, RequestsPerSecond: 1000}, zap.NewNop())

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for range 8 {
		require.Equal(t, model.LocationNotFound, r.Resolve(canceled, 1, 2))
	}
	assert.Equal(t, int32(0), calls.Load())

	assert.Equal(t, "Paris, France", r.Resolve(context.Background(), 48.8566, 2.3522))
	assert.Equal(t, int32(1), calls.Load())
}
