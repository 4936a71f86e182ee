package safehttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestDenied(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "127.0.0.1", want: true},
		{addr: "10.1.2.3", want: true},
		{addr: "192.168.0.10", want: true},
		{addr: "169.254.169.254", want: true},
		{addr: "0.0.0.0", want: true},
		{addr: "::1", want: true},
		{addr: "::ffff:127.0.0.1", want: true},
		{addr: "fd00::1", want: true},
		{addr: "8.8.8.8", want: false},
		{addr: "2606:4700::1111", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := Denied(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("Denied(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestSafeTransport_RejectsLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached the server")
	}))
	defer srv.Close()

	client := &http.Client{Transport: SafeTransport}
	_, err := client.Get(srv.URL)
	if !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("Get() error = %v, want ErrPrivateAddress", err)
	}
}
