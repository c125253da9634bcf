package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func localeFor(t *testing.T, lookup CountryLookup, decorate func(*http.Request)) (string, string) {
	t.Helper()
	var locale, country string
	handler := Locale(lookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if decorate != nil {
		decorate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return locale, country
}

func TestLocaleNegotiation(t *testing.T) {
	tests := []struct {
		name   string
		accept string
		xloc   string
		want   string
	}{
		{"no header defaults to english", "", "", "en"},
		{"spanish", "es-MX,es;q=0.9", "", "es"},
		{"english variant", "en-GB", "", "en"},
		{"unsupported falls back", "fr-FR", "", "en"},
		{"x-locale override wins", "en-US", "es", "es"},
		{"garbage header", ";;;", "", "en"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			locale, _ := localeFor(t, nil, func(r *http.Request) {
				if tc.accept != "" {
					r.Header.Set("Accept-Language", tc.accept)
				}
				if tc.xloc != "" {
					r.Header.Set("X-Locale", tc.xloc)
				}
			})
			if locale != tc.want {
				t.Fatalf("locale = %q, want %q", locale, tc.want)
			}
		})
	}
}

func TestCountryFromHeaders(t *testing.T) {
	_, country := localeFor(t, nil, func(r *http.Request) {
		r.Header.Set("CF-IPCountry", "mx")
	})
	if country != "MX" {
		t.Fatalf("country = %q, want MX", country)
	}
}

func TestCountryFromLookup(t *testing.T) {
	lookup := func(ip string) (string, error) {
		if ip != "203.0.113.7" {
			return "", errors.New("unexpected ip")
		}
		return "es", nil
	}
	_, country := localeFor(t, lookup, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	})
	if country != "ES" {
		t.Fatalf("country = %q, want ES", country)
	}
}

func TestCountryLookupFailureIsSilent(t *testing.T) {
	lookup := func(ip string) (string, error) { return "", errors.New("db closed") }
	_, country := localeFor(t, lookup, nil)
	if country != "" {
		t.Fatalf("country = %q, want empty on lookup failure", country)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/generations", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: status = %d, want %d", i+1, codes[i], want[i])
		}
	}

	// A different client keeps its own window.
	req := httptest.NewRequest(http.MethodPost, "/v1/generations", nil)
	req.RemoteAddr = "203.0.113.8:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("other client status = %d", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("disabled limiter rejected request %d", i+1)
		}
	}
}
