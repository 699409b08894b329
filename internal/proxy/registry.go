// Package proxy resolves regional upstream proxies and terminates them as
// local SOCKS tunnels the browser can use without credential support.
package proxy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/geo"
)

// Registry holds the per-region proxy pools loaded from disk. Reads are
// concurrency-safe; the pools themselves are immutable after load.
type Registry struct {
	mu       sync.Mutex
	profiles map[string][]schemas.ProxyProfile
	regions  []string
	direct   map[string]struct{}
	cursors  map[string]int
}

// registryFile is the canonical on-disk shape.
type registryFile struct {
	Count   int                        `json:"count"`
	Regions []string                   `json:"regions"`
	Proxies map[string]json.RawMessage `json:"proxies"`
}

// New builds a registry from already-parsed pools. Region keys are
// normalized to lower case and profiles missing a regional identity are
// completed from the geo table.
func New(pools map[string][]schemas.ProxyProfile, directRegions []string) *Registry {
	r := &Registry{
		profiles: make(map[string][]schemas.ProxyProfile, len(pools)),
		direct:   make(map[string]struct{}, len(directRegions)),
		cursors:  make(map[string]int),
	}
	for _, region := range directRegions {
		r.direct[normalizeRegion(region)] = struct{}{}
	}
	for region, profiles := range pools {
		region = normalizeRegion(region)
		completed := make([]schemas.ProxyProfile, 0, len(profiles))
		for _, p := range profiles {
			completed = append(completed, completeProfile(region, p))
		}
		if len(completed) == 0 {
			continue
		}
		r.profiles[region] = completed
		r.regions = append(r.regions, region)
	}
	sort.Strings(r.regions)
	return r
}

// LoadFile reads a registry from path. Two layouts are accepted: the
// canonical {count, regions, proxies: {region: [...]}} document, and the
// legacy flat {region: {...}} map with one proxy per region.
func LoadFile(path string, directRegions []string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxy registry: %w", err)
	}
	pools, err := parsePools(data)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy registry %s: %w", path, err)
	}
	return New(pools, directRegions), nil
}

func parsePools(data []byte) (map[string][]schemas.ProxyProfile, error) {
	var canonical registryFile
	if err := json.Unmarshal(data, &canonical); err == nil && len(canonical.Proxies) > 0 {
		pools := make(map[string][]schemas.ProxyProfile, len(canonical.Proxies))
		for region, raw := range canonical.Proxies {
			profiles, err := parseProfiles(raw)
			if err != nil {
				return nil, fmt.Errorf("region %q: %w", region, err)
			}
			pools[region] = profiles
		}
		return pools, nil
	}

	// Legacy layout: top-level map of region to a single proxy object.
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	pools := make(map[string][]schemas.ProxyProfile)
	for region, raw := range flat {
		profiles, err := parseProfiles(raw)
		if err != nil {
			// Flat documents may carry unrelated keys; skip them.
			continue
		}
		pools[region] = profiles
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("no proxy pools found")
	}
	return pools, nil
}

// parseProfiles accepts either a single proxy object or an array of them.
func parseProfiles(raw json.RawMessage) ([]schemas.ProxyProfile, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var many []schemas.ProxyProfile
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one schemas.ProxyProfile
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	if one.Host == "" {
		return nil, fmt.Errorf("proxy entry missing host")
	}
	return []schemas.ProxyProfile{one}, nil
}

// completeProfile fills identity gaps from the static geo table so every
// profile a session receives is fully specified.
func completeProfile(region string, p schemas.ProxyProfile) schemas.ProxyProfile {
	info, _ := geo.Lookup(region)
	if p.Timezone == "" {
		p.Timezone = info.Timezone
	}
	if p.Locale == "" {
		p.Locale = info.Locale
	}
	if p.Latitude == 0 && p.Longitude == 0 {
		p.Latitude = info.Latitude
		p.Longitude = info.Longitude
	}
	return p
}

func normalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// IsDirect reports whether the region is served without any proxy.
func (r *Registry) IsDirect(region string) bool {
	_, ok := r.direct[normalizeRegion(region)]
	return ok
}

// Has reports whether a proxy pool exists for the region.
func (r *Registry) Has(region string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.profiles[normalizeRegion(region)]
	return ok
}

// Pick returns the next proxy for the region, rotating through the pool so
// repeated captures spread across upstreams.
func (r *Registry) Pick(region string) (schemas.ProxyProfile, bool) {
	region = normalizeRegion(region)

	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.profiles[region]
	if !ok || len(pool) == 0 {
		return schemas.ProxyProfile{}, false
	}
	idx := r.cursors[region] % len(pool)
	r.cursors[region]++
	return pool[idx], true
}

// Regions lists the regions with at least one proxy, sorted.
func (r *Registry) Regions() []string {
	out := make([]string, len(r.regions))
	copy(out, r.regions)
	return out
}

// Count returns the total number of loaded proxies.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, pool := range r.profiles {
		n += len(pool)
	}
	return n
}
