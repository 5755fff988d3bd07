// Package cache - Pricing result cache keyed by request fingerprint
// The cache is advisory: every consumer must work with it disabled.
package cache

import (
	"fmt"
	"strconv"
	"strings"

	"bundle-pricing/core/types"
)

// KeyPrefix starts every fingerprint
const KeyPrefix = "pricing"

const (
	delimiter = ":"
	listSep   = ","
)

// Defaults substituted for absent optional facts
const (
	NoRegion  = "none"
	NoGroup   = "default"
	NoPromo   = "none"
	Anonymous = "anonymous"
)

// KeyParts is the decoded form of a fingerprint
type KeyParts struct {
	BundleID      string
	ValidityDays  int
	Countries     []string
	Region        string
	PaymentMethod string
	Group         string
	PromoCode     string
	UserID        string
}

// Fingerprint normalizes facts into a stable cache key:
//
//	pricing:<bundleId>:<validityDays>:<countriesCSV>:<region|none>:<paymentMethod>:<group|default>:<promo|none>:<userId|anonymous>
//
// Countries are upper-cased and sorted, so any permutation of the same set
// yields the same key.
func Fingerprint(facts types.RequestFacts) string {
	countries := facts.SortedCountries()
	for i, c := range countries {
		countries[i] = sanitize(c)
	}

	parts := []string{
		KeyPrefix,
		sanitize(facts.BundleID),
		strconv.Itoa(facts.ValidityDays),
		strings.Join(countries, listSep),
		orDefault(facts.Region, NoRegion),
		sanitize(facts.PaymentMethod),
		orDefault(facts.Group, NoGroup),
		orDefault(facts.PromoCode, NoPromo),
		orDefault(facts.UserID, Anonymous),
	}
	return strings.Join(parts, delimiter)
}

// ParseFingerprint decodes a key produced by Fingerprint
func ParseFingerprint(key string) (KeyParts, error) {
	fields := strings.Split(key, delimiter)
	if len(fields) != 9 || fields[0] != KeyPrefix {
		return KeyParts{}, fmt.Errorf("malformed fingerprint %q", key)
	}
	days, err := strconv.Atoi(fields[2])
	if err != nil {
		return KeyParts{}, fmt.Errorf("malformed fingerprint %q: validity days: %w", key, err)
	}

	var countries []string
	if fields[3] != "" {
		countries = strings.Split(fields[3], listSep)
	}
	return KeyParts{
		BundleID:      fields[1],
		ValidityDays:  days,
		Countries:     countries,
		Region:        fields[4],
		PaymentMethod: fields[5],
		Group:         fields[6],
		PromoCode:     fields[7],
		UserID:        fields[8],
	}, nil
}

// HasCountry reports whether the key covers iso
func (p KeyParts) HasCountry(iso string) bool {
	iso = strings.ToUpper(strings.TrimSpace(iso))
	for _, c := range p.Countries {
		if c == iso {
			return true
		}
	}
	return false
}

// sanitize keeps delimiter characters out of key components
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, delimiter, "_")
	return strings.ReplaceAll(s, listSep, "_")
}

func orDefault(s, def string) string {
	s = sanitize(s)
	if s == "" {
		return def
	}
	return s
}
