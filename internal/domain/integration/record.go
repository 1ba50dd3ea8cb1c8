package integration

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// NormalizedRecord Value Object
// ---------------------------------------------------------------------------

// NormalizedRecord describes one vehicle listing as produced by the crawler.
// Records are immutable once validated; the engine never mutates them.
type NormalizedRecord struct {
	// IdentityKey uniquely identifies one real-world item across runs
	IdentityKey string
	// Title is the display title of the listing
	Title string
	// Price is the primary amount, nil when unknown
	Price *float64
	// CompareAtPrice is the optional comparison (list) amount
	CompareAtPrice *float64
	// Attributes holds the categorical vehicle attributes
	Attributes VehicleAttributes
	// Features is the ordered list of feature strings
	Features []string
	// Media is the ordered list of media references
	Media []MediaReference
	// SourceURL is the page the record was extracted from
	SourceURL string
}

// MediaReference is an opaque external media reference.
type MediaReference struct {
	URL     string
	Caption string
}

// Validate checks the invariants required before a record may reach the engine.
func (r NormalizedRecord) Validate() error {
	if strings.TrimSpace(r.IdentityKey) == "" {
		return ErrRecordMissingKey
	}
	return nil
}

// Key returns the trimmed identity key.
func (r NormalizedRecord) Key() string {
	return strings.TrimSpace(r.IdentityKey)
}

// HasPrice reports whether the primary amount is present and finite.
func (r NormalizedRecord) HasPrice() bool {
	return isFiniteAmount(r.Price)
}

// HasCompareAtPrice reports whether the comparison amount is present and finite.
func (r NormalizedRecord) HasCompareAtPrice() bool {
	return isFiniteAmount(r.CompareAtPrice)
}

func isFiniteAmount(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Amount is a helper to build optional amounts in literals.
func Amount(v float64) *float64 {
	return &v
}

// ---------------------------------------------------------------------------
// VehicleAttributes
// ---------------------------------------------------------------------------

// Attribute keys used for metafields and descriptions.
const (
	AttrMake           = "make"
	AttrModel          = "model"
	AttrYear           = "year"
	AttrMileage        = "mileage"
	AttrFuelType       = "fuel_type"
	AttrTransmission   = "transmission"
	AttrBodyType       = "body_type"
	AttrColor          = "color"
	AttrEngineCapacity = "engine_capacity"
	AttrPower          = "power"
)

// VehicleAttributes is the fixed set of free-text categorical attributes.
// Any field may be empty.
type VehicleAttributes struct {
	Make           string
	Model          string
	Year           string
	Mileage        string
	FuelType       string
	Transmission   string
	BodyType       string
	Color          string
	EngineCapacity string
	Power          string
}

// AttributeEntry is one known attribute with its value.
type AttributeEntry struct {
	Key   string
	Label string
	Value string
}

// Entries returns all known attributes in a fixed order, including empty ones.
func (a VehicleAttributes) Entries() []AttributeEntry {
	return []AttributeEntry{
		{Key: AttrMake, Label: "Make", Value: a.Make},
		{Key: AttrModel, Label: "Model", Value: a.Model},
		{Key: AttrYear, Label: "Year", Value: a.Year},
		{Key: AttrMileage, Label: "Mileage", Value: a.Mileage},
		{Key: AttrFuelType, Label: "Fuel", Value: a.FuelType},
		{Key: AttrTransmission, Label: "Transmission", Value: a.Transmission},
		{Key: AttrBodyType, Label: "Body type", Value: a.BodyType},
		{Key: AttrColor, Label: "Color", Value: a.Color},
		{Key: AttrEngineCapacity, Label: "Engine capacity", Value: a.EngineCapacity},
		{Key: AttrPower, Label: "Power", Value: a.Power},
	}
}

// NonEmpty returns the entries whose trimmed value is not empty.
func (a VehicleAttributes) NonEmpty() []AttributeEntry {
	all := a.Entries()
	out := make([]AttributeEntry, 0, len(all))
	for _, e := range all {
		v := strings.TrimSpace(e.Value)
		if v == "" {
			continue
		}
		e.Value = v
		out = append(out, e)
	}
	return out
}

// Set assigns an attribute by key. Unknown keys are ignored and reported as false.
func (a *VehicleAttributes) Set(key, value string) bool {
	switch key {
	case AttrMake:
		a.Make = value
	case AttrModel:
		a.Model = value
	case AttrYear:
		a.Year = value
	case AttrMileage:
		a.Mileage = value
	case AttrFuelType:
		a.FuelType = value
	case AttrTransmission:
		a.Transmission = value
	case AttrBodyType:
		a.BodyType = value
	case AttrColor:
		a.Color = value
	case AttrEngineCapacity:
		a.EngineCapacity = value
	case AttrPower:
		a.Power = value
	default:
		return false
	}
	return true
}
