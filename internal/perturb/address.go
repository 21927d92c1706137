package perturb

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strconv"
	"strings"
)

// Regions returned by first-octet inference.
const (
	RegionA = "US" // first octet 1-126
	RegionB = "EU" // first octet 127-191
	RegionC = "AS" // first octet 192-223
)

// AddressBook maps countries to two-octet IPv4 prefixes and holds the
// fallback country pool.
type AddressBook struct {
	Prefixes map[string][]string
	Pool     []string
}

// Validate checks that every prefix is two octets in [0,255].
func (b AddressBook) Validate() error {
	for country, prefixes := range b.Prefixes {
		for _, p := range prefixes {
			parts := strings.Split(p, ".")
			if len(parts) != 2 {
				return fmt.Errorf("country %s: prefix %q must have two octets", country, p)
			}
			for _, part := range parts {
				n, err := strconv.Atoi(part)
				if err != nil || n < 0 || n > 255 {
					return fmt.Errorf("country %s: prefix %q has invalid octet %q", country, p, part)
				}
			}
		}
	}
	return nil
}

// RandomCountry draws uniformly from the pool. It returns "" for an empty pool.
func (b AddressBook) RandomCountry(rng *rand.Rand) string {
	if len(b.Pool) == 0 {
		return ""
	}
	return b.Pool[rng.IntN(len(b.Pool))]
}

// InferCountry guesses the country of ip by first-octet banding. Addresses
// outside the bands, and values that are not IPv4, get a random pool country.
func (b AddressBook) InferCountry(ip string, rng *rand.Rand) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return b.RandomCountry(rng)
	}

	switch first := addr.As4()[0]; {
	case first >= 1 && first <= 126:
		return RegionA
	case first >= 127 && first <= 191:
		return RegionB
	case first >= 192 && first <= 223:
		return RegionC
	default:
		return b.RandomCountry(rng)
	}
}

// Generate returns a dotted-quad address for country. Known countries draw a
// registered prefix and fill the last two octets uniformly in [0,255]; any
// other country gets a fully random address with a first octet in [1,255].
func (b AddressBook) Generate(country string, rng *rand.Rand) string {
	if prefixes := b.Prefixes[country]; len(prefixes) > 0 {
		p := prefixes[rng.IntN(len(prefixes))]
		return fmt.Sprintf("%s.%d.%d", p, rng.IntN(256), rng.IntN(256))
	}
	return fmt.Sprintf("%d.%d.%d.%d", 1+rng.IntN(255), rng.IntN(256), rng.IntN(256), rng.IntN(256))
}
