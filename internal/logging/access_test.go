package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		xff     string
		realIP  string
		remote  string
		want    string
	}{
		{"xff single", "10.0.0.1", "", "192.168.1.5:1234", "10.0.0.1"},
		{"xff chain takes first", "10.0.0.1, 172.16.0.1", "", "192.168.1.5:1234", "10.0.0.1"},
		{"real ip", "", "10.0.0.2", "192.168.1.5:1234", "10.0.0.2"},
		{"remote addr", "", "", "192.168.1.5:1234", "192.168.1.5"},
		{"remote addr no port", "", "", "192.168.1.5", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "-"},
		{"Bearer sk-abcdef1234567890", "sk-abcde..."},
		{"Bearer short", "short"},
		{"raw-token-without-bearer", "raw-toke..."},
	}
	for _, tt := range tests {
		if got := maskAPIKey(tt.in); got != tt.want {
			t.Errorf("maskAPIKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithMetaRoundTrip(t *testing.T) {
	ctx, meta := WithMeta(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	if meta.Model != "-" {
		t.Errorf("default model = %q, want -", meta.Model)
	}
	meta.Model = "gpt-x"
	if got := MetaFromContext(ctx); got == nil || got.Model != "gpt-x" {
		t.Errorf("MetaFromContext = %+v", got)
	}
}

func TestMetaFromContextMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := MetaFromContext(r.Context()); got != nil {
		t.Errorf("got %+v, want nil without middleware", got)
	}
}

func TestAccessLogInjectsMeta(t *testing.T) {
	var seen *Meta
	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = MetaFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == nil {
		t.Fatal("meta not injected into handler context")
	}
}
