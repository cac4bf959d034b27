// Package identity converts between raw entity ids and tenant-qualified ids.
//
// A qualified id is the tenant id, a separator, and the raw id. Everything
// persisted is stored qualified so that a tenant's records share a common
// prefix; everything returned to clients is unqualified.
package identity

import (
	"errors"
	"strings"
)

// Separator joins a tenant id and a raw id. It never appears in a tenant id.
const Separator = ":"

var (
	// ErrInvalidTenant is returned when a tenant id is empty or contains the separator.
	ErrInvalidTenant = errors.New("invalid tenant id")
	// ErrInvalidID is returned when a raw id is empty.
	ErrInvalidID = errors.New("invalid id")
	// ErrNotQualified is returned when an id carries no tenant prefix.
	ErrNotQualified = errors.New("id is not tenant-qualified")
)

// ValidTenant reports whether tenant can be used to qualify ids.
func ValidTenant(tenant string) bool {
	return tenant != "" && !strings.Contains(tenant, Separator)
}

// Qualify prefixes raw with tenant.
func Qualify(raw, tenant string) (string, error) {
	if !ValidTenant(tenant) {
		return "", ErrInvalidTenant
	}
	if raw == "" {
		return "", ErrInvalidID
	}
	return tenant + Separator + raw, nil
}

// QualifyAll qualifies every id in raws under tenant, failing on the first bad one.
func QualifyAll(raws []string, tenant string) ([]string, error) {
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		q, err := Qualify(raw, tenant)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Unqualify returns everything after the first separator.
func Unqualify(qualified string) (string, error) {
	_, raw, ok := strings.Cut(qualified, Separator)
	if !ok {
		return "", ErrNotQualified
	}
	return raw, nil
}

// TenantOf returns everything before the first separator.
func TenantOf(qualified string) (string, error) {
	tenant, _, ok := strings.Cut(qualified, Separator)
	if !ok {
		return "", ErrNotQualified
	}
	return tenant, nil
}

// UnqualifyAll unqualifies ids, keeping first-occurrence order and dropping
// duplicates and ids that carry no tenant prefix.
//
// Callers must pass ids from a single tenant: two tenants' ids sharing a raw
// suffix collapse into one entry.
func UnqualifyAll(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		raw, err := Unqualify(id)
		if err != nil {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	return out
}

// TenantPrefix is the common prefix of every id qualified under tenant.
func TenantPrefix(tenant string) string {
	return tenant + Separator
}
