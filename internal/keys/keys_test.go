package keys

import (
	"strings"
	"testing"
)

func TestStorageRegionIsolation(t *testing.T) {
	a := Storage("k", "regionA")
	b := Storage("k", "regionB")
	if a == b {
		t.Fatalf("same key in different regions must not collide: %q", a)
	}
	if Storage("k", "") == Storage("k", "regionA") {
		t.Fatalf("region-less key collided with regioned key")
	}
}

func TestRegionPrefixMatchesOnlyItsRegion(t *testing.T) {
	// "app" must not prefix-match keys in region "apple".
	p := RegionPrefix("app")
	if !strings.HasPrefix(Storage("x", "app"), p) {
		t.Fatalf("key in region should carry its region prefix")
	}
	if strings.HasPrefix(Storage("x", "apple"), p) {
		t.Fatalf("prefix %q leaked into region %q", p, "apple")
	}
}
