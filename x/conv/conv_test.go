package conv

import "testing"

func TestItoa(t *testing.T) {
	type C struct {
		n    int64
		want string
	}
	for _, c := range []C{
		{0, "0"},
		{1, "1"},
		{-1, "-1"},
		{21070, "21070"},
		{-85, "-85"},
	} {
		if got := string(Itoa(nil, c.n)); got != c.want {
			t.Fatalf("Itoa(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestMAC(t *testing.T) {
	mac := [6]byte{0x28, 0xcd, 0xc1, 0x0a, 0xab, 0x12}
	if got := string(MAC(nil, mac)); got != "28:cd:c1:0a:ab:12" {
		t.Fatalf("MAC = %q", got)
	}
}
