package anonymization

import "testing"

func TestRoundCacheEdges(t *testing.T) {
	cases := []struct {
		in   uint64
		want uint64
	}{
		{0, 0},
		{1023, 0},
		{1024, 1024},
		{1025, 1024},
		{268_435_455, 134_217_728},
		{268_435_456, 268_435_456},
		{1_000_000_000_000_000, 268_435_456},
	}
	for _, c := range cases {
		if got := RoundCache(c.in); got != c.want {
			t.Errorf("RoundCache(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundMemEdges(t *testing.T) {
	cases := []struct {
		in   uint64
		want uint64
	}{
		{0, 0},
		{1_073_741_823, 0},
		{1_073_741_824, 1_073_741_824},
		{20 * (1 << 30), 17_179_869_184},
	}
	for _, c := range cases {
		if got := RoundMem(c.in); got != c.want {
			t.Errorf("RoundMem(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundCacheMonotoneAndBounded(t *testing.T) {
	prev := uint64(0)
	for _, x := range []uint64{0, 500, 1024, 5000, 1 << 20, 1 << 30, ^uint64(0)} {
		got := RoundCache(x)
		if got > x && x >= cacheBins[0] {
			t.Errorf("RoundCache(%d) = %d > input", x, got)
		}
		if got < prev {
			t.Errorf("RoundCache not monotone at %d: %d < %d", x, got, prev)
		}
		prev = got
	}
}

func TestNormalizeOS(t *testing.T) {
	cases := map[string]string{
		"linux":   "linux",
		"Linux":   "unknown",
		"plan9":   "unknown",
		"macos":   "macos",
		"windows": "windows",
	}
	for in, want := range cases {
		if got := NormalizeOS(in); got != want {
			t.Errorf("NormalizeOS(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, s := range []string{"linux", "Linux", "bogus", "windows"} {
		once := NormalizeOS(s)
		twice := NormalizeOS(once)
		if once != twice {
			t.Errorf("NormalizeOS not idempotent for %q: %q != %q", s, once, twice)
		}
	}
}

func TestNormalizeArchManufacturer(t *testing.T) {
	if NormalizeArch("x86") != "x86" {
		t.Error("expected x86 to pass through")
	}
	if NormalizeArch("arm64") != "unknown" {
		t.Error("expected arm64 to normalize to unknown")
	}
	if NormalizeManufacturer("intel") != "intel" {
		t.Error("expected intel to pass through")
	}
	if NormalizeManufacturer("amd") != "unknown" {
		t.Error("expected amd to normalize to unknown")
	}
}
