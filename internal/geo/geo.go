// Package geo maps ISO 3166-1 alpha-2 region codes to the locale, timezone
// and coordinates a proxied browser session should present. The table is
// static and capital-centric; resolving regions through a live geocoder
// would make capture runs nondeterministic and network-dependent.
package geo

import "strings"

// Info is the regional identity applied to a browser session.
type Info struct {
	Locale    string
	Timezone  string
	Latitude  float64
	Longitude float64
}

// fallback mirrors the neutral identity used when a region is unknown.
var fallback = Info{Locale: "en-US", Timezone: "UTC"}

var regions = map[string]Info{
	"ru": {Locale: "ru-RU", Timezone: "Europe/Moscow", Latitude: 55.7558, Longitude: 37.6173},
	"kz": {Locale: "kk-KZ", Timezone: "Asia/Almaty", Latitude: 43.2380, Longitude: 76.9452},
	"by": {Locale: "be-BY", Timezone: "Europe/Minsk", Latitude: 53.9045, Longitude: 27.5615},
	"ua": {Locale: "uk-UA", Timezone: "Europe/Kyiv", Latitude: 50.4501, Longitude: 30.5234},
	"uz": {Locale: "uz-UZ", Timezone: "Asia/Tashkent", Latitude: 41.2995, Longitude: 69.2401},
	"az": {Locale: "az-AZ", Timezone: "Asia/Baku", Latitude: 40.4093, Longitude: 49.8671},
	"kg": {Locale: "ky-KG", Timezone: "Asia/Bishkek", Latitude: 42.8746, Longitude: 74.5698},
	"tj": {Locale: "tg-TJ", Timezone: "Asia/Dushanbe", Latitude: 38.5598, Longitude: 68.7870},
	"tm": {Locale: "tk-TM", Timezone: "Asia/Ashgabat", Latitude: 37.9601, Longitude: 58.3261},
	"am": {Locale: "hy-AM", Timezone: "Asia/Yerevan", Latitude: 40.1872, Longitude: 44.5152},
	"ge": {Locale: "ka-GE", Timezone: "Asia/Tbilisi", Latitude: 41.7151, Longitude: 44.8271},
	"md": {Locale: "ro-MD", Timezone: "Europe/Chisinau", Latitude: 47.0105, Longitude: 28.8638},
	"tr": {Locale: "tr-TR", Timezone: "Europe/Istanbul", Latitude: 41.0082, Longitude: 28.9784},
	"ae": {Locale: "ar-AE", Timezone: "Asia/Dubai", Latitude: 25.2048, Longitude: 55.2708},
	"sa": {Locale: "ar-SA", Timezone: "Asia/Riyadh", Latitude: 24.7136, Longitude: 46.6753},
	"eg": {Locale: "ar-EG", Timezone: "Africa/Cairo", Latitude: 30.0444, Longitude: 31.2357},
	"in": {Locale: "hi-IN", Timezone: "Asia/Kolkata", Latitude: 28.6139, Longitude: 77.2090},
	"id": {Locale: "id-ID", Timezone: "Asia/Jakarta", Latitude: -6.2088, Longitude: 106.8456},
	"vn": {Locale: "vi-VN", Timezone: "Asia/Ho_Chi_Minh", Latitude: 10.8231, Longitude: 106.6297},
	"th": {Locale: "th-TH", Timezone: "Asia/Bangkok", Latitude: 13.7563, Longitude: 100.5018},
	"ph": {Locale: "fil-PH", Timezone: "Asia/Manila", Latitude: 14.5995, Longitude: 120.9842},
	"my": {Locale: "ms-MY", Timezone: "Asia/Kuala_Lumpur", Latitude: 3.1390, Longitude: 101.6869},
	"pk": {Locale: "ur-PK", Timezone: "Asia/Karachi", Latitude: 24.8607, Longitude: 67.0011},
	"bd": {Locale: "bn-BD", Timezone: "Asia/Dhaka", Latitude: 23.8103, Longitude: 90.4125},
	"ng": {Locale: "en-NG", Timezone: "Africa/Lagos", Latitude: 6.5244, Longitude: 3.3792},
	"ke": {Locale: "sw-KE", Timezone: "Africa/Nairobi", Latitude: -1.2921, Longitude: 36.8219},
	"za": {Locale: "en-ZA", Timezone: "Africa/Johannesburg", Latitude: -26.2041, Longitude: 28.0473},
	"br": {Locale: "pt-BR", Timezone: "America/Sao_Paulo", Latitude: -23.5505, Longitude: -46.6333},
	"mx": {Locale: "es-MX", Timezone: "America/Mexico_City", Latitude: 19.4326, Longitude: -99.1332},
	"ar": {Locale: "es-AR", Timezone: "America/Argentina/Buenos_Aires", Latitude: -34.6037, Longitude: -58.3816},
	"co": {Locale: "es-CO", Timezone: "America/Bogota", Latitude: 4.7110, Longitude: -74.0721},
	"cl": {Locale: "es-CL", Timezone: "America/Santiago", Latitude: -33.4489, Longitude: -70.6693},
	"pe": {Locale: "es-PE", Timezone: "America/Lima", Latitude: -12.0464, Longitude: -77.0428},
	"us": {Locale: "en-US", Timezone: "America/New_York", Latitude: 40.7128, Longitude: -74.0060},
	"gb": {Locale: "en-GB", Timezone: "Europe/London", Latitude: 51.5074, Longitude: -0.1278},
	"de": {Locale: "de-DE", Timezone: "Europe/Berlin", Latitude: 52.5200, Longitude: 13.4050},
	"fr": {Locale: "fr-FR", Timezone: "Europe/Paris", Latitude: 48.8566, Longitude: 2.3522},
	"es": {Locale: "es-ES", Timezone: "Europe/Madrid", Latitude: 40.4168, Longitude: -3.7038},
	"it": {Locale: "it-IT", Timezone: "Europe/Rome", Latitude: 41.9028, Longitude: 12.4964},
	"pl": {Locale: "pl-PL", Timezone: "Europe/Warsaw", Latitude: 52.2297, Longitude: 21.0122},
	"ro": {Locale: "ro-RO", Timezone: "Europe/Bucharest", Latitude: 44.4268, Longitude: 26.1025},
	"nl": {Locale: "nl-NL", Timezone: "Europe/Amsterdam", Latitude: 52.3676, Longitude: 4.9041},
	"pt": {Locale: "pt-PT", Timezone: "Europe/Lisbon", Latitude: 38.7223, Longitude: -9.1393},
	"cz": {Locale: "cs-CZ", Timezone: "Europe/Prague", Latitude: 50.0755, Longitude: 14.4378},
}

// Lookup resolves a region code, case-insensitively. Unknown codes return
// the neutral fallback identity and ok=false so callers can decide whether
// to proceed or complain.
func Lookup(region string) (Info, bool) {
	info, ok := regions[strings.ToLower(strings.TrimSpace(region))]
	if !ok {
		return fallback, false
	}
	return info, true
}

// Fallback returns the neutral identity used for unknown regions.
func Fallback() Info {
	return fallback
}
