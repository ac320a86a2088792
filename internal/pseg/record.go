// Package pseg defines the pseudo-segment record (one parcel x land-cover
// segment intersection polygon) and the schema check that turns a raw
// vector layer into records the classification ledger can own.
package pseg

import (
	"strings"

	"github.com/twpayne/go-geom"
)

// Class is a land-cover class name as it appears in the Class_name column.
type Class string

// Land-cover classes accepted by the engine.
const (
	Water            Class = "Water"
	Buildings        Class = "Buildings"
	Roads            Class = "Roads"
	TreeCanopy       Class = "Tree Canopy"
	LowVegetation    Class = "Low Vegetation"
	ScrubShrub       Class = `Scrub\Shrub`
	Barren           Class = "Barren"
	OtherImpervious  Class = "Other Impervious Surfaces"
	EmergentWetlands Class = "Emergent Wetlands"

	// Structures only appears after the TC-over reclass of
	// "Tree Canopy Over Structures".
	Structures Class = "Structures"

	TCOverRoads           Class = "Tree Canopy Over Roads"
	TCOverStructures      Class = "Tree Canopy Over Structures"
	TCOverOtherImpervious Class = "Tree Canopy Over Other Impervious Surfaces"
)

// TCOverPrefix marks tree-canopy-over-X classes.
const TCOverPrefix = "Tree Canopy Over "

// TCOverLogic is the audit value written by the TC-over reclass.
const TCOverLogic = "TC Over Landcover"

var accepted = map[Class]bool{
	Water: true, Buildings: true, Roads: true, TreeCanopy: true,
	LowVegetation: true, ScrubShrub: true, Barren: true,
	OtherImpervious: true, EmergentWetlands: true,
	TCOverRoads: true, TCOverStructures: true, TCOverOtherImpervious: true,
}

// Accepted reports whether c is a class the engine knows how to classify.
func (c Class) Accepted() bool {
	return accepted[c]
}

// In reports whether c is one of classes.
func (c Class) In(classes ...Class) bool {
	for _, x := range classes {
		if c == x {
			return true
		}
	}
	return false
}

// Record is one pseg row. An empty LU or Logic means null.
type Record struct {
	PSID      int64
	PID       int64
	SID       int64
	ClassName Class

	LU     string
	Logic  string
	LUCode int

	PArea  float64
	SArea  float64
	PSArea float64

	// PLC holds p_lc_1..p_lc_12 at indexes 0..11.
	PLC    [12]float64
	SC18   [5]float64
	PC18   [5]float64
	SC1719 [5]float64
	SN16   [2]float64

	PLUZ string
	SLUZ string

	Geom *geom.MultiPolygon
}

// Classified reports whether the record already carries a land-use label.
func (r *Record) Classified() bool {
	return r.LU != ""
}

// LC returns parcel land-cover composition p_lc_<i> for i in 1..12.
func (r *Record) LC(i int) float64 {
	return r.PLC[i-1]
}

// BuiltArea returns p_lc_7..p_lc_12, the built (structure and road)
// composition of the owning parcel.
func (r *Record) BuiltArea() float64 {
	var sum float64
	for i := 7; i <= 12; i++ {
		sum += r.LC(i)
	}
	return sum
}

// LUContains reports whether the current label contains sub.
func (r *Record) LUContains(sub string) bool {
	return r.LU != "" && strings.Contains(r.LU, sub)
}

// Bounds returns the record's envelope, or nil without geometry.
func (r *Record) Bounds() *geom.Bounds {
	if r.Geom == nil {
		return nil
	}
	return r.Geom.Bounds()
}

// ExpandLabel substitutes {class} in template with the record's Class_name.
func ExpandLabel(template string, c Class) string {
	if !strings.Contains(template, "{class}") {
		return template
	}
	return strings.ReplaceAll(template, "{class}", string(c))
}
