package resolver

import (
	"strings"
)

var registrarTokens = map[string]string{
	"llc":         "LLC",
	"inc":         "Inc",
	"ltd":         "Ltd",
	"limited":     "Limited",
	"gmbh":        "GmbH",
	"corp":        "Corp",
	"ag":          "AG",
	"sa":          "SA",
	"godaddy":     "GoDaddy",
	"godaddy.com": "GoDaddy.com",
	"namecheap":   "Namecheap",
	"cloudflare":  "Cloudflare",
	"markmonitor": "MarkMonitor",
	"tucows":      "Tucows",
	"gandi":       "Gandi",
	"porkbun":     "Porkbun",
	"dynadot":     "Dynadot",
	"ionos":       "IONOS",
	"ovh":         "OVH",
	"ovhcloud":    "OVHcloud",
	"enom":        "eNom",
	"name.com":    "Name.com",
	"csc":         "CSC",
	"safenames":   "Safenames",
	"squarespace": "Squarespace",
	"hostinger":   "Hostinger",
	"google":      "Google",
	"amazon":      "Amazon",
}

const trailingPunct = ".,;:"

// NormalizeRegistrar trims, collapses whitespace and applies canonical
// casing to well-known abbreviations and vendor names. Unknown words keep
// their original spelling.
func NormalizeRegistrar(name string) string {
	fields := strings.Fields(name)
	for i, f := range fields {
		word := strings.TrimRight(f, trailingPunct)
		suffix := f[len(word):]
		if canon, ok := registrarTokens[strings.ToLower(word)]; ok {
			fields[i] = canon + suffix
		}
	}
	return strings.Join(fields, " ")
}
