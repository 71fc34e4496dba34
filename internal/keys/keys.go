// Package keys composes storage keys from (key, region) pairs.
//
// The orchestrator addresses every handle through storage keys so that
// region isolation holds in any backend: two identical user keys in
// different regions never collide, and a region can be purged by prefix.
package keys

// sep separates the region from the user key. The unit separator is not
// expected in user-facing regions; a region containing it would bleed into
// neighboring prefixes.
const sep = "\x1f"

// Storage returns the storage key for (key, region). Region may be empty;
// region-less keys share the "" region prefix.
func Storage(key, region string) string {
	return region + sep + key
}

// RegionPrefix returns the prefix shared by every storage key in region.
func RegionPrefix(region string) string {
	return region + sep
}
