package client

import "testing"

func TestNormalizeServerAddr(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "host only", in: "relay.example.com", want: "relay.example.com:4433"},
		{name: "host and port", in: "relay.example.com:9000", want: "relay.example.com:9000"},
		{name: "mediaplane scheme", in: "mediaplane://relay.example.com:9000", want: "relay.example.com:9000"},
		{name: "mediaplane scheme no port", in: "mediaplane://relay.example.com", want: "relay.example.com:4433"},
		{name: "https url", in: "https://relay.example.com:9000/wt", want: "relay.example.com:9000"},
		{name: "https url no port", in: "https://relay.example.com/wt", want: "relay.example.com:4433"},
		{name: "trailing slash", in: "relay.example.com:9000/", want: "relay.example.com:9000"},
		{name: "bracketed ipv6 no port", in: "[::1]", want: "[::1]:4433"},
		{name: "ipv6 with port", in: "[::1]:9000", want: "[::1]:9000"},
		{name: "raw ipv6 no brackets", in: "::1", want: "[::1]:4433"},
		{name: "whitespace trimmed", in: "  relay.example.com  ", want: "relay.example.com:4433"},
		{name: "empty", in: "", wantErr: true},
		{name: "scheme missing host", in: "https://", wantErr: true},
		{name: "bad port", in: "relay.example.com:notaport", wantErr: true},
		{name: "port out of range", in: "relay.example.com:70000", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeServerAddr(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("normalizeServerAddr(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
