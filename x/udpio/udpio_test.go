package udpio

import (
	"net/netip"
	"testing"
)

func TestSubnetBroadcast(t *testing.T) {
	type C struct {
		prefix string
		want   string
	}
	for _, c := range []C{
		{"192.168.1.42/24", "192.168.1.255"},
		{"10.0.0.7/8", "10.255.255.255"},
		{"192.168.4.1/30", "192.168.4.3"},
		{"172.16.5.9/16", "172.16.255.255"},
	} {
		p := netip.MustParsePrefix(c.prefix)
		if got := SubnetBroadcast(p); got.String() != c.want {
			t.Fatalf("SubnetBroadcast(%s) = %s, want %s", c.prefix, got, c.want)
		}
	}
}

func TestSubnetBroadcastFallsBackToLimited(t *testing.T) {
	p := netip.MustParsePrefix("fe80::1/64")
	if got := SubnetBroadcast(p); got != LimitedBroadcast {
		t.Fatalf("IPv6 prefix = %s, want limited broadcast", got)
	}
}
