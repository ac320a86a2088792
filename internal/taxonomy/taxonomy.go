// Package taxonomy holds the land-use configuration data consumed by the
// classification engine: the label to lucode table, the ordered label
// rewrite table, the zoning (LUZ) vocabulary and the state FIPS lookup.
//
// A Taxonomy is immutable once loaded and is passed explicitly to the
// cascade and the output stage.
package taxonomy

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultYAML []byte

// NoLUZ is the zoning value used when a segment has no zoning majority.
const NoLUZ = "no_luz"

// Rename is one literal substring rewrite applied to final labels.
type Rename struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type document struct {
	Codes   map[string]int    `yaml:"codes"`
	Renames []Rename          `yaml:"renames"`
	LUZ     []string          `yaml:"luz"`
	States  map[string]string `yaml:"states"`
}

// Taxonomy is the immutable land-use configuration.
type Taxonomy struct {
	codes   map[string]int
	renames []Rename
	luz     map[string]struct{}
	states  map[string]string
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultYAML)
}

// Load reads a taxonomy from path, or the embedded defaults when path is empty.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "taxonomy: decode")
	}
	if len(doc.Codes) == 0 {
		return nil, eris.New("taxonomy: no lucodes defined")
	}

	t := &Taxonomy{
		codes:  make(map[string]int, len(doc.Codes)),
		luz:    make(map[string]struct{}, len(doc.LUZ)+1),
		states: make(map[string]string, len(doc.States)),
	}
	for k, v := range doc.Codes {
		t.codes[clean(k)] = v
	}
	for _, r := range doc.Renames {
		if r.From == "" {
			return nil, eris.New("taxonomy: rename with empty source")
		}
		t.renames = append(t.renames, r)
	}
	for _, z := range doc.LUZ {
		t.luz[z] = struct{}{}
	}
	t.luz[NoLUZ] = struct{}{}
	for k, v := range doc.States {
		t.states[k] = v
	}
	return t, nil
}

// Code returns the lucode for a final label.
func (t *Taxonomy) Code(lu string) (int, bool) {
	c, ok := t.codes[clean(lu)]
	return c, ok
}

// Codes returns a copy of the lucode table.
func (t *Taxonomy) Codes() map[string]int {
	out := make(map[string]int, len(t.codes))
	for k, v := range t.codes {
		out[k] = v
	}
	return out
}

// Normalize applies the rename table, in order, to a working label.
func (t *Taxonomy) Normalize(lu string) string {
	if lu == "" {
		return lu
	}
	out := clean(lu)
	for _, r := range t.renames {
		out = strings.ReplaceAll(out, r.From, r.To)
	}
	return out
}

// Renames returns the ordered rewrite table.
func (t *Taxonomy) Renames() []Rename {
	return append([]Rename(nil), t.renames...)
}

// IsLUZ reports whether v is a known zoning code.
func (t *Taxonomy) IsLUZ(v string) bool {
	_, ok := t.luz[v]
	return ok
}

// LUZValues returns the zoning vocabulary in sorted order.
func (t *Taxonomy) LUZValues() []string {
	out := make([]string, 0, len(t.luz))
	for z := range t.luz {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}

// State returns the postal code for a two-digit state FIPS.
func (t *Taxonomy) State(fips string) (string, bool) {
	s, ok := t.states[fips]
	return s, ok
}

// StateForCounty extracts the state FIPS from a county identifier and looks
// it up. County identifiers end in the five-digit county FIPS, optionally
// prefixed by a name and underscore ("acco_51001").
func (t *Taxonomy) StateForCounty(county string) (string, bool) {
	id := county
	if i := strings.LastIndex(id, "_"); i >= 0 {
		id = id[i+1:]
	}
	if len(id) < 5 {
		return "", false
	}
	return t.State(id[len(id)-5 : len(id)-3])
}

// clean folds label spelling drift that is invisible in the source data:
// Unicode composition and repeated whitespace.
func clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
