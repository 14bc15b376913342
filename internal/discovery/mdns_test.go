package discovery

import "testing"

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
		ok   bool
	}{
		{"127.0.0.1:6121", "127.0.0.1", 6121, true},
		{"[::1]:7000", "::1", 7000, true},
		{":0", "", 0, true},
		{"localhost", "", 0, false},
		{"host:http", "", 0, false},
	}
	for _, tt := range tests {
		host, port, err := ParseAddr(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("%q: err = %v", tt.in, err)
		}
		if tt.ok && (host != tt.host || port != tt.port) {
			t.Fatalf("%q: got %q %d", tt.in, host, port)
		}
	}
}

func TestServicePort(t *testing.T) {
	if servicePort(0) != DefaultPort || servicePort(70000) != DefaultPort || servicePort(7000) != 7000 {
		t.Fatal("servicePort bounds")
	}
}
