package netaddrx

import (
	"net/netip"
	"testing"
)

func TestParseSubnet(t *testing.T) {
	t.Run("dual stack", func(t *testing.T) {
		s, err := ParseSubnet("16.0.0.0/16", "16::0/64")
		if err != nil {
			t.Fatalf("ParseSubnet returned error: %v", err)
		}
		if !s.hasN4() || !s.hasN6() {
			t.Error("expected both families present")
		}
	})

	t.Run("ipv4 only", func(t *testing.T) {
		s, err := ParseSubnet("16.0.0.0/16", "")
		if err != nil {
			t.Fatalf("ParseSubnet returned error: %v", err)
		}
		if !s.hasN4() || s.hasN6() {
			t.Error("expected only ipv4 present")
		}
	})

	t.Run("neither family", func(t *testing.T) {
		if _, err := ParseSubnet("", ""); err == nil {
			t.Error("expected an error when no family is present")
		}
	})

	t.Run("invalid cidr", func(t *testing.T) {
		if _, err := ParseSubnet("not-a-cidr", ""); err == nil {
			t.Error("expected an error for a malformed CIDR")
		}
	})
}

func TestDualStackSubnet_Forward(t *testing.T) {
	s, err := ParseSubnet("16.0.0.0/24", "16::0/120")
	if err != nil {
		t.Fatalf("ParseSubnet returned error: %v", err)
	}

	ip, err := s.Forward(0)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if ip.IP4 != netip.MustParseAddr("16.0.0.0") {
		t.Errorf("Forward(0).IP4 = %v, want 16.0.0.0", ip.IP4)
	}
	if ip.IP6 != netip.MustParseAddr("16::0") {
		t.Errorf("Forward(0).IP6 = %v, want 16::0", ip.IP6)
	}

	ip, err = s.Forward(5)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if ip.IP4 != netip.MustParseAddr("16.0.0.5") {
		t.Errorf("Forward(5).IP4 = %v, want 16.0.0.5", ip.IP4)
	}
}

func TestDualStackSubnet_Reverse(t *testing.T) {
	s, err := ParseSubnet("16.0.0.0/24", "")
	if err != nil {
		t.Fatalf("ParseSubnet returned error: %v", err)
	}

	ip, err := s.Reverse(1)
	if err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}
	if ip.IP4 != netip.MustParseAddr("16.0.0.254") {
		t.Errorf("Reverse(1).IP4 = %v, want 16.0.0.254 (last-1)", ip.IP4)
	}
	if ip.HasIP6() {
		t.Error("families absent from the subnet must be absent in the result")
	}
}

func TestDualStackSubnet_Next(t *testing.T) {
	base, err := ParseSubnet("16.0.0.0/16", "16::0/64")
	if err != nil {
		t.Fatalf("ParseSubnet returned error: %v", err)
	}

	second := base.Next(1)
	if second.N4.Addr() != netip.MustParseAddr("16.1.0.0") {
		t.Errorf("Next(1).N4 = %v, want 16.1.0.0/16", second.N4)
	}
	if second.N4.Bits() != 16 {
		t.Errorf("Next(1) should preserve the prefix length, got /%d", second.N4.Bits())
	}

	third := base.Next(2)
	if third.N4.Addr() != netip.MustParseAddr("16.2.0.0") {
		t.Errorf("Next(2).N4 = %v, want 16.2.0.0/16", third.N4)
	}
}

func TestDualStackSubnet_OutOfRange(t *testing.T) {
	s, err := ParseSubnet("16.0.0.0/30", "")
	if err != nil {
		t.Fatalf("ParseSubnet returned error: %v", err)
	}

	// /30 has 4 addresses (indices 0..3 from the start); reverse(10)
	// walks past the start of the block and must error rather than wrap.
	if _, err := s.Reverse(10); err == nil {
		t.Error("expected an out-of-range error")
	}
}

func TestDualStackIP_CIDRRendering(t *testing.T) {
	s, err := ParseSubnet("16.0.0.0/24", "16::0/120")
	if err != nil {
		t.Fatalf("ParseSubnet returned error: %v", err)
	}

	ip, err := s.Forward(10)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if got, want := ip.CIDR4(), "16.0.0.10/24"; got != want {
		t.Errorf("CIDR4() = %q, want %q", got, want)
	}
	if got, want := ip.CIDR6(), "16::a/120"; got != want {
		t.Errorf("CIDR6() = %q, want %q", got, want)
	}
}

func TestDualStackIP_CIDREmptyWhenFamilyAbsent(t *testing.T) {
	s, err := ParseSubnet("16.0.0.0/24", "")
	if err != nil {
		t.Fatalf("ParseSubnet returned error: %v", err)
	}
	ip, err := s.Forward(0)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if ip.CIDR6() != "" {
		t.Errorf("CIDR6() = %q, want empty string", ip.CIDR6())
	}
}
