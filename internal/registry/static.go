package registry

import (
	_ "embed"
	"encoding/json"
)

//go:embed static_pricing.json
var staticPricing []byte

// StaticEntries is the built-in pricing table, the lowest-priority source.
func StaticEntries() []ModelEntry {
	var entries []ModelEntry
	if err := json.Unmarshal(staticPricing, &entries); err != nil {
		// The table is embedded at build time; a parse failure is a bug.
		panic("registry: invalid embedded pricing table: " + err.Error())
	}
	return entries
}
