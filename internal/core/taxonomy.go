package core

// sectorTaxonomy is the canonical sector list. Order matters: the classifier
// breaks edit-distance ties in favor of the earlier entry.
var sectorTaxonomy = []Sector{
	{ID: "power", Name: "Power"},
	{ID: "transport", Name: "Transport"},
	{ID: "buildings", Name: "Buildings"},
	{ID: "manufacturing", Name: "Manufacturing"},
	{ID: "fossil_fuel_operations", Name: "Fossil fuel operations"},
	{ID: "agriculture", Name: "Agriculture"},
	{ID: "waste", Name: "Waste"},
	{ID: "mineral_extraction", Name: "Mineral extraction"},
	{ID: "forestry_and_land_use", Name: "Forestry and land use"},
	{ID: "fluorinated_gases", Name: "Fluorinated gases"},
}

// sectorAliases maps normalized labels (see normalizeLabel) to canonical slugs.
var sectorAliases = map[string]string{
	"electricity":            "power",
	"electricity generation": "power",
	"power generation":       "power",
	"power sector":           "power",
	"electric power":         "power",

	"transportation":         "transport",
	"road transportation":    "transport",
	"road transport":         "transport",
	"aviation":               "transport",
	"domestic aviation":      "transport",
	"international aviation": "transport",
	"shipping":               "transport",
	"domestic shipping":      "transport",
	"international shipping": "transport",
	"railways":               "transport",

	"residential":                   "buildings",
	"commercial buildings":          "buildings",
	"residential and commercial":    "buildings",
	"residential onsite fuel usage": "buildings",

	"industry":   "manufacturing",
	"industrial": "manufacturing",
	"steel":      "manufacturing",
	"cement":     "manufacturing",
	"chemicals":  "manufacturing",
	"aluminum":   "manufacturing",

	"oil and gas":            "fossil_fuel_operations",
	"oil gas":                "fossil_fuel_operations",
	"oil and gas production": "fossil_fuel_operations",
	"oil and gas refining":   "fossil_fuel_operations",
	"fossil fuels":           "fossil_fuel_operations",
	"fossil fuel":            "fossil_fuel_operations",
	"coal mining":            "fossil_fuel_operations",

	"livestock":            "agriculture",
	"cropland":             "agriculture",
	"enteric fermentation": "agriculture",
	"rice cultivation":     "agriculture",
	"manure management":    "agriculture",

	"solid waste":          "waste",
	"solid waste disposal": "waste",
	"wastewater":           "waste",

	"mining":   "mineral_extraction",
	"minerals": "mineral_extraction",
	"mineral":  "mineral_extraction",

	"forestry":     "forestry_and_land_use",
	"land use":     "forestry_and_land_use",
	"lulucf":       "forestry_and_land_use",
	"forest fires": "forestry_and_land_use",

	"f gases":         "fluorinated_gases",
	"fgases":          "fluorinated_gases",
	"fluorinated gas": "fluorinated_gases",
}

// Sectors returns a copy of the canonical taxonomy in tie-break order.
func Sectors() []Sector {
	out := make([]Sector, len(sectorTaxonomy))
	copy(out, sectorTaxonomy)
	return out
}

// SectorBySlug returns the taxonomy entry for slug.
func SectorBySlug(slug string) (Sector, bool) {
	for _, s := range sectorTaxonomy {
		if s.ID == slug {
			return s, true
		}
	}
	return Sector{}, false
}
