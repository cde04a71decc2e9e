package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "single ip",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "multiple ips use first",
			header:     " 203.0.113.1 , 198.51.100.2 ",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded falls back",
			header:     "invalid",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "empty forwarded uses remote host",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 forwarded",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::1",
		},
		{
			name:       "ipv6 remote fallback",
			header:     "invalid",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "remote without port",
			header:     "invalid",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitRefusesOverLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(okHandler())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, limitedRequest("198.51.100.10:1234"))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest("198.51.100.10:1234"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "resource_exhausted") {
		t.Fatalf("body = %q, want error envelope", rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	handler := RateLimit(1, time.Minute)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest("198.51.100.10:1234"))
	if rr.Code != http.StatusOK {
		t.Fatalf("first client: status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest("203.0.113.9:1234"))
	if rr.Code != http.StatusOK {
		t.Fatalf("second client throttled by first client's bucket: status = %d", rr.Code)
	}
}

func TestRateLimitWindowResets(t *testing.T) {
	handler := RateLimit(1, 30*time.Millisecond)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest("198.51.100.10:1234"))
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest("198.51.100.10:1234"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rr.Code)
	}

	time.Sleep(40 * time.Millisecond)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest("198.51.100.10:1234"))
	if rr.Code != http.StatusOK {
		t.Fatalf("after window reset: status = %d, want 200", rr.Code)
	}
}
