package gpkg

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// GeoPackage binary header flags.
const (
	flagLittleEndian = 0x01
	flagEnvelopeXY   = 0x01 << 1
	flagEmpty        = 0x01 << 4
	envelopeMask     = 0x0E
)

// EncodeGeometry wraps g in a GeoPackage binary header carrying srid and
// an XY envelope, followed by little-endian WKB.
func EncodeGeometry(g geom.T, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.WriteString("GP")
	buf.WriteByte(0) // version 1

	flags := byte(flagLittleEndian)
	empty := g.Empty()
	if empty {
		flags |= flagEmpty
	} else {
		flags |= flagEnvelopeXY
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.LittleEndian, int32(srid)); err != nil {
		return nil, eris.Wrap(err, "gpkg: write srs id")
	}
	if !empty {
		b := g.Bounds()
		env := [4]float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)}
		if err := binary.Write(&buf, binary.LittleEndian, env); err != nil {
			return nil, eris.Wrap(err, "gpkg: write envelope")
		}
	}

	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: encode wkb")
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeGeometry parses a GeoPackage geometry blob and returns the
// geometry and the SRS id from its header.
func DecodeGeometry(data []byte) (geom.T, int, error) {
	if len(data) < 8 || data[0] != 'G' || data[1] != 'P' {
		return nil, 0, eris.New("gpkg: not a geopackage geometry")
	}
	flags := data[3]
	if flags&0x20 != 0 {
		return nil, 0, eris.New("gpkg: extended geometries are not supported")
	}
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(data[4:8])))

	var envLen int
	switch (flags & envelopeMask) >> 1 {
	case 0:
	case 1:
		envLen = 32
	case 2, 3:
		envLen = 48
	case 4:
		envLen = 64
	default:
		return nil, 0, eris.Errorf("gpkg: invalid envelope indicator in flags %#x", flags)
	}
	off := 8 + envLen
	if len(data) < off {
		return nil, 0, eris.New("gpkg: truncated geometry header")
	}
	g, err := wkb.Unmarshal(data[off:])
	if err != nil {
		return nil, 0, eris.Wrap(err, "gpkg: decode wkb")
	}
	return g, srid, nil
}

// headerEnvelope reads the XY envelope from a geometry blob without
// decoding the WKB. ok is false when the header carries none.
func headerEnvelope(data []byte) (minX, maxX, minY, maxY float64, ok bool) {
	if len(data) < 40 || data[0] != 'G' || data[1] != 'P' {
		return 0, 0, 0, 0, false
	}
	flags := data[3]
	if (flags&envelopeMask)>>1 == 0 {
		return 0, 0, 0, 0, false
	}
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	f := func(i int) float64 { return math.Float64frombits(order.Uint64(data[8+8*i:])) }
	return f(0), f(1), f(2), f(3), true
}
