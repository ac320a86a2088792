package cascade

import (
	"fmt"

	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// Ancillary layer names referenced by DefaultRules.
const (
	LayerHERE          = "here"
	LayerTransmission  = "transmission"
	LayerUrbanArea     = "uac"
	LayerLandfills     = "landfills"
	LayerMines         = "mines"
	LayerSolar         = "solar"
	LayerStateTimber   = "timber_{state}"
	LayerLCMAPPatterns = "lcmap_patterns"
	LayerLCMAPAge      = "lcmap_age"
)

// Area thresholds in square metres.
const (
	acre      = 4046.0
	fiveAcres = 5 * acre
	tenAcres  = 40468.0
)

// Label used by the catch-all and a few fallbacks.
const SuspendedHerbaceous = "Suspended Succession Herbaceous"

var (
	lv = pseg.LowVegetation
	ss = pseg.ScrubShrub
	br = pseg.Barren

	turfExclusions = []string{"Turf Herbaceous", "Turf Low Vegetation"}
)

func is(classes ...pseg.Class) ledger.Predicate {
	return func(r *pseg.Record) bool { return r.ClassName.In(classes...) }
}

// occupied reports a small parcel with at least 93 m² of structures or
// roads.
func occupied(r *pseg.Record) bool {
	return r.PArea <= acre && r.BuiltArea() >= 93
}

func sumC18(v [5]float64, from, to int) float64 {
	var s float64
	for i := from; i <= to; i++ {
		s += v[i]
	}
	return s
}

func bigTreeCanopy(r *pseg.Record) bool {
	return r.ClassName == pseg.TreeCanopy && r.SArea >= 10000 && r.PArea > acre
}

// DefaultRules returns the production cascade in execution order.
func DefaultRules() []Rule {
	var rules []Rule
	add := func(r ...Rule) { rules = append(rules, r...) }

	// 1. Land cover that maps directly to land use.
	add(
		&DirectRule{
			Meta:  Meta{"landcover", 1},
			Where: is(pseg.Water, pseg.Buildings, pseg.OtherImpervious, pseg.Roads, pseg.TreeCanopy, pseg.EmergentWetlands),
			LU:    "{class}", Logic: "landcover",
		},
		&DirectRule{
			Meta:  Meta{"Occupied parcel turf", 1},
			Where: func(r *pseg.Record) bool { return r.ClassName == lv && occupied(r) },
			LU:    "Turf Herbaceous", Logic: "Occupied parcel turf",
		},
		&DirectRule{
			Meta:  Meta{"Occupied parcel barren", 1},
			Where: func(r *pseg.Record) bool { return r.ClassName == br && occupied(r) },
			LU:    "Developed Barren", Logic: "Occupied parcel barren",
		},
	)

	// 2. Turf around buildings.
	add(
		&OverlayRule{
			Meta:  Meta{"HERE turf subset", 2},
			Where: is(lv), Layer: LayerHERE,
			LU: "Turf {class}", Logic: "HERE turf subset",
		},
		&AdjacencyRule{
			Meta: Meta{"Building turf", 2},
			Candidates: func(r *pseg.Record) bool {
				return r.ClassName == lv && (r.PSArea < 1000 || (r.PArea < fiveAcres && r.SLUZ == "TG"))
			},
			Reference: is(pseg.Buildings),
			Test:      spatial.BorderTest{Kind: spatial.Minimum},
			LU:        "Turf {class}", Logic: "Building turf",
		},
		&AdjacencyRule{
			Meta:       Meta{"adj to building turf", 2},
			Candidates: func(r *pseg.Record) bool { return r.ClassName == lv && r.PSArea < 1000 },
			Reference:  func(r *pseg.Record) bool { return r.ClassName == lv && r.Logic == "Building turf" },
			Test:       spatial.BorderTest{Kind: spatial.Minimum},
			LU:         "Turf {class}", Logic: "adj to building turf",
		},
	)

	// 3. Road verges.
	add(&AdjacencyRule{
		Meta: Meta{"roadside sus", 3},
		Candidates: func(r *pseg.Record) bool {
			return r.ClassName.In(lv, br, ss) && r.SArea < 2000 && sumC18(r.SC18, 1, 4) < r.SArea*0.5
		},
		Reference: is(pseg.Roads),
		Test:      spatial.BorderTest{Kind: spatial.Percent, Value: 0.25},
		LU:        "Suspended Succession {class}", Logic: "roadside sus",
	})

	// 4. Agriculture from the CDL and NLCD tabulations.
	bigLV := func(r *pseg.Record) bool { return r.ClassName == lv && r.PArea > fiveAcres }
	add(
		&DirectRule{
			Meta: Meta{"nlcd and cdl have maj pas", 4},
			Where: func(r *pseg.Record) bool {
				return bigLV(r) && r.SN16[1] > r.SN16[0] && r.SC18[4] > sumC18(r.SC18, 0, 3)
			},
			LU: "Pasture {class}", Logic: "nlcd and cdl have maj pas",
		},
		&DirectRule{
			Meta:  Meta{"p_area > 50% NLCD Pasture", 4},
			Where: func(r *pseg.Record) bool { return bigLV(r) && r.SN16[1] > r.PArea*0.5 },
			LU:    "Pasture {class}", Logic: "p_area > 50% NLCD Pasture",
		},
		&DirectRule{
			Meta:  Meta{"s_c18_1 > 10000", 4},
			Where: func(r *pseg.Record) bool { return bigLV(r) && r.SC18[1] > 10000 && r.SC18[4] < 10000 },
			LU:    "Cropland {class}", Logic: "s_c18_1 > 10000",
		},
		&DirectRule{
			Meta:  Meta{"s_c18_4 > 10000", 4},
			Where: func(r *pseg.Record) bool { return bigLV(r) && r.SC18[4] > 10000 },
			LU:    "Pasture {class}", Logic: "s_c18_4 > 10000",
		},
		&DirectRule{
			Meta:  Meta{"s_c18_3 > 20%", 4},
			Where: func(r *pseg.Record) bool { return bigLV(r) && r.SC18[3] > r.SArea*0.2 },
			LU:    "Orchard/Vineyard {class}", Logic: "s_c18_3 > 20%",
		},
	)

	// 5. Ancillary overlays.
	add(
		&OverlayRule{
			Meta: Meta{"transmission lines anci", 5},
			Where: func(r *pseg.Record) bool {
				return (!r.Classified() || r.LUContains("Natural Succession")) &&
					r.SLUZ != "CROP" && r.SLUZ != "PAS" && r.SLUZ != "OV" &&
					r.ClassName.In(lv, br, ss) && r.SArea < 10000
			},
			Layer: LayerTransmission, Overwrite: true,
			LU: "Suspended Succession {class}", Logic: "transmission lines anci",
		},
		&OverlayRule{
			Meta:  Meta{"Census UAC sjoin", 5},
			Where: is(br), Layer: LayerUrbanArea,
			LU: "Developed {class}", Logic: "Census UAC sjoin",
		},
		&OverlayRule{
			Meta:  Meta{"landfill sjoin", 5},
			Where: is(lv, br, ss), Layer: LayerLandfills,
			LU: "Suspended Succession {class}", Logic: "landfill sjoin",
		},
		&OverlayRule{
			Meta:  Meta{"mines anci", 5},
			Where: is(lv, br, ss), Layer: LayerMines,
			LU: "Natural Succession {class}", Logic: "mines anci",
		},
		&AdjacencyRule{
			Meta:       Meta{"bar adj to wat", 5},
			Candidates: func(r *pseg.Record) bool { return r.ClassName == br && r.SArea < 1000 },
			Reference:  func(r *pseg.Record) bool { return r.ClassName == pseg.Water && r.SArea > 15 },
			Test:       spatial.BorderTest{Kind: spatial.Percent, Value: 0.3},
			LU:         "Shore {class}", Logic: "bar adj to wat",
		},
		&AdjacencyRule{
			Meta:       Meta{"bar adj to shore", 5},
			Candidates: is(br),
			Reference:  func(r *pseg.Record) bool { return r.LU == "Shore Barren" },
			Test:       spatial.BorderTest{Kind: spatial.Minimum},
			LU:         "Shore {class}", Logic: "bar adj to shore",
		},
		&OverlayRule{
			Meta:  Meta{"solar sjoin", 5},
			Where: is(lv, pseg.Buildings, ss, br, pseg.OtherImpervious), Layer: LayerSolar,
			LU: "Solar {class}", Logic: "solar sjoin",
		},
	)

	// 6. Natural succession by size, tree cover and adjacency to forest.
	notTG := func(r *pseg.Record) bool { return r.SLUZ != "TG" }
	add(
		&DirectRule{
			Meta: Meta{"70% TC parcel, s_area < 1000", 6},
			Where: func(r *pseg.Record) bool {
				return r.SArea < 1000 && notTG(r) && r.ClassName.In(lv, ss) && r.LC(3) > r.PArea*0.45
			},
			LU: "Natural Succession {class}", Logic: "70% TC parcel, s_area < 1000",
		},
		&DirectRule{
			Meta: Meta{"Nat Sus, c18_0*0.85 93m2 of road or building", 6},
			Where: func(r *pseg.Record) bool {
				return r.SArea < 1000 && notTG(r) && r.ClassName.In(lv, ss) &&
					r.BuiltArea() < 93 && r.PC18[0] > r.PArea*0.85
			},
			LU: "Natural Succession {class}", Logic: "Nat Sus, c18_0*0.85 93m2 of road or building",
		},
		&DirectRule{
			Meta: Meta{"nat 70% tc 150m2", 6},
			Where: func(r *pseg.Record) bool {
				return r.ClassName.In(lv, ss) && notTG(r) && r.PArea > acre && r.SArea < 150 &&
					r.LC(3) > r.PArea*0.7 && r.PC18[0] > r.PArea*0.7
			},
			LU: "Natural Succession {class}", Logic: "nat 70% tc 150m2",
		},
		&AdjacencyRule{
			Meta: Meta{"Nat Big TC adj 1", 6},
			Candidates: func(r *pseg.Record) bool {
				return r.ClassName.In(lv, br, ss) && r.PArea > acre && r.SArea <= 5000 && notTG(r)
			},
			Reference: bigTreeCanopy,
			Test:      spatial.BorderTest{Kind: spatial.Percent, Value: 0.7},
			LU:        "Natural Succession {class}", Logic: "Nat Big TC adj 1",
		},
		&AdjacencyRule{
			Meta:       Meta{"Nat Big TC adj 2", 6},
			Candidates: func(r *pseg.Record) bool { return r.ClassName == ss && r.PArea > acre && notTG(r) },
			Reference:  bigTreeCanopy,
			Test:       spatial.BorderTest{Kind: spatial.Minimum},
			LU:         "Natural Succession {class}", Logic: "Nat Big TC adj 2",
		},
	)

	// 7. First parcel majority.
	add(&MajorityRule{
		Meta:    Meta{"majority lu 1 of 3", 7},
		Classes: []pseg.Class{lv, br, ss}, Exclusions: turfExclusions, Threshold: 0.50,
	})

	// 8. Timber harvest.
	add(
		&OverlayRule{
			Meta:  Meta{"timber sjoin", 8},
			Where: is(lv, br, ss), Layer: LayerStateTimber, States: []string{"PA", "MD"},
			LU: "Harvested Forest {class}", Logic: "timber sjoin",
		},
		&TimberRule{
			Meta:         Meta{"LCMAP timber harvest", 8},
			Where:        is(lv, br),
			PatternLayer: LayerLCMAPPatterns, AgeLayer: LayerLCMAPAge,
			MinFraction: 0.1, MaxAge: 5,
			HarvestLU: "Harvested Forest {class}", HarvestLogic: "lcmap clearing",
			SuccessionLU: "Natural Succession {class}", SuccessionLogic: "LCMAP clearing before 2015",
		},
	)

	// 9. Zoning.
	add(&DirectRule{
		Meta: Meta{"luz 'TG' maj <1ac", 9},
		Where: func(r *pseg.Record) bool {
			return r.ClassName == lv && r.PLUZ == "TG" && r.PArea < acre
		},
		LU: "Turf Herbaceous", Logic: "luz 'TG' maj <1ac",
	})
	add(luzRules("ss", []pseg.Class{ss}, []luzLabel{
		{"NAT", "Natural Succession"},
		{"OV", "Orchard/Vineyard"},
		{"SUS", "Suspended Succession"},
		{"CAFO", "Pasture"},
		{"CATT", "Pasture"},
		{"TIM", "Harvested Forest"},
	})...)
	add(luzRules("lvb", []pseg.Class{lv, br}, []luzLabel{
		{"CAFO", "Pasture"},
		{"CATT", "Pasture"},
		{"CENT", "Cropland"},
		{"EXT", "Natural Succession"},
		{"FALL", "Suspended Succession"},
		{"NAT", "Natural Succession"},
		{"OV", "Orchard/Vineyard"},
		{"SUS", "Suspended Succession"},
		{"TIM", "Harvested Forest"},
	})...)
	add(
		&DirectRule{
			Meta: Meta{"s_luz PAS, no cdl conflict, 5ac+", 9},
			Where: func(r *pseg.Record) bool {
				return r.ClassName.In(lv, br) && r.PArea > fiveAcres && r.SLUZ == "PAS" &&
					r.PLUZ == r.SLUZ && r.PC18[4] > r.PC18[1]
			},
			LU: "Pasture {class}", Logic: "s_luz PAS, no cdl conflict, 5ac+",
		},
		&DirectRule{
			Meta: Meta{"s_luz CROP, no cdl conflict, 5ac+", 9},
			Where: func(r *pseg.Record) bool {
				return r.ClassName.In(lv, br) && r.PArea > fiveAcres && r.SLUZ == "CROP" &&
					r.PLUZ == r.SLUZ && r.PC18[4] < r.PC18[1]
			},
			LU: "Cropland {class}", Logic: "s_luz CROP, no cdl conflict, 5ac+",
		},
	)

	// 10. Second parcel majority.
	add(&MajorityRule{
		Meta:    Meta{"majority lu 2 of 3", 10},
		Classes: []pseg.Class{lv, br, ss}, Exclusions: turfExclusions, Threshold: 0.25,
	})

	// 11. Fallbacks by remaining land cover.
	add(
		&DirectRule{
			Meta:  Meta{"All remaining Barren", 11},
			Where: is(br),
			LU:    "Developed Barren", Logic: "All remaining Barren",
		},
		&DirectRule{
			Meta: Meta{"Remaining LV w/ building in parcel <10ac", 11},
			Where: func(r *pseg.Record) bool {
				return r.ClassName == lv && r.LC(7) > 0 && r.PArea <= tenAcres
			},
			LU: "Turf Herbaceous", Logic: "Remaining LV w/ building in parcel <10ac",
		},
		&DirectRule{
			Meta: Meta{"remaining lv luz 'TG' w/building", 11},
			Where: func(r *pseg.Record) bool {
				return r.ClassName == lv && r.LC(7) > 0 && r.PLUZ == "TG"
			},
			LU: "Turf Herbaceous", Logic: "remaining lv luz 'TG' w/building",
		},
		&DirectRule{
			Meta: Meta{"Remaining LV w/ >30% p_lc_3 no build", 11},
			Where: func(r *pseg.Record) bool {
				return r.ClassName.In(lv, ss) && r.LC(7) == 0 && r.LC(3) > r.PArea*0.3
			},
			LU: "Natural Succession Herbaceous", Logic: "Remaining LV w/ >30% p_lc_3 no build",
		},
		&DirectRule{
			Meta: Meta{"Remaining LV or SS no build EVE or DEC LUZ", 11},
			Where: func(r *pseg.Record) bool {
				return r.ClassName.In(lv, ss) && r.LC(7) == 0 && (r.SLUZ == "EVE" || r.SLUZ == "DEC")
			},
			LU: "Natural Succession {class}", Logic: "Remaining LV or SS no build EVE or DEC LUZ",
		},
		&DirectRule{
			Meta:  Meta{"Remaining SS no limits", 11},
			Where: is(ss),
			LU:    "Natural Succession {class}", Logic: "Remaining SS no limits",
		},
	)

	// 12. Adjacency to natural succession and small-parcel pasture fixes.
	add(
		&AdjacencyRule{
			Meta:       Meta{"lvb adj to nat sus", 12},
			Candidates: is(lv, br, ss),
			Reference: func(r *pseg.Record) bool {
				return r.LU == "Natural Succession Herbaceous" || r.LU == `Natural Succession Scrub\Shrub`
			},
			Test: spatial.BorderTest{Kind: spatial.Minimum},
			LU:   "Natural Succession {class}", Logic: "lvb adj to nat sus",
		},
		&DirectRule{
			Meta:  Meta{"p_area = 0", 12},
			Where: func(r *pseg.Record) bool { return r.ClassName == lv && r.PArea == 0 },
			LU:    SuspendedHerbaceous, Logic: "p_area = 0",
		},
		&DirectRule{
			Meta: Meta{"Reclass Pas to Nat <5ac p", 12},
			Where: func(r *pseg.Record) bool {
				return r.LUContains("Pasture") && r.LC(7) == 0 && r.PArea < fiveAcres && r.ClassName.In(lv, br, ss)
			},
			LU: "Natural Succession {class}", Logic: "Reclass Pas to Nat <5ac p", Overwrite: true,
		},
		&DirectRule{
			Meta: Meta{"Reclass Pas to Turf <5ac p w/ building", 12},
			Where: func(r *pseg.Record) bool {
				return (r.LUContains("Pasture") || !r.Classified()) && r.LC(7) > 0 && r.PArea < fiveAcres && r.ClassName == lv
			},
			LU: "Turf Herbaceous", Logic: "Reclass Pas to Turf <5ac p w/ building", Overwrite: true,
		},
	)

	// 13. Third parcel majority, allowed to replace earlier labels.
	add(&MajorityRule{
		Meta:    Meta{"majority lu 3 of 3", 13},
		Classes: []pseg.Class{lv}, Exclusions: turfExclusions, Threshold: 0.60, Overwrite: true,
	})

	// 14. Mop-up.
	add(
		&AdjacencyRule{
			Meta:       Meta{"Remnant adj to nat sus", 14},
			Candidates: is(lv, br, ss),
			Reference:  func(r *pseg.Record) bool { return r.LUContains("Natural Succession") },
			Test:       spatial.BorderTest{Kind: spatial.Minimum},
			LU:         "Natural Succession {class}", Logic: "Remnant adj to nat sus",
		},
		&DirectRule{
			Meta: Meta{"ag_gen last chance", 14},
			Where: func(r *pseg.Record) bool {
				return r.ClassName == lv && r.SLUZ == "AG_GEN" && r.SArea > 10000 && r.LC(5) > r.PArea*0.5
			},
			LU: "Cropland Herbaceous", Logic: "ag_gen last chance",
		},
	)

	// 15. Everything else.
	add(&CatchAllRule{Meta: Meta{"Whatevers left", 15}, LU: SuspendedHerbaceous, Logic: "Whatevers left"})

	return rules
}

type luzLabel struct {
	luz   string
	label string
}

func luzRules(prefix string, classes []pseg.Class, labels []luzLabel) []Rule {
	out := make([]Rule, 0, len(labels))
	for _, l := range labels {
		name := fmt.Sprintf("%s s_luz %s maj", prefix, l.luz)
		out = append(out, &DirectRule{
			Meta:  Meta{name, 9},
			Where: func(r *pseg.Record) bool { return r.ClassName.In(classes...) && r.SLUZ == l.luz },
			LU:    l.label + " {class}", Logic: name,
		})
	}
	return out
}
