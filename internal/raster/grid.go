// Package raster provides the integer grids the engine reads land-cover
// and timber layers from, the zonal aggregation over them, and the
// rasterization of the final lucode layer.
package raster

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// Grid is a north-up single-band integer raster with square pixels.
// OriginX/OriginY is the upper-left corner of pixel (0, 0).
type Grid struct {
	Width     int
	Height    int
	OriginX   float64
	OriginY   float64
	PixelSize float64
	NoData    int32
	Data      []int32
}

// NewGrid allocates a grid filled with nodata.
func NewGrid(width, height int, originX, originY, pixelSize float64, nodata int32) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("raster: invalid size %dx%d", width, height)
	}
	if pixelSize <= 0 {
		return nil, eris.Errorf("raster: invalid pixel size %v", pixelSize)
	}
	g := &Grid{
		Width: width, Height: height,
		OriginX: originX, OriginY: originY,
		PixelSize: pixelSize,
		NoData:    nodata,
		Data:      make([]int32, width*height),
	}
	if nodata != 0 {
		for i := range g.Data {
			g.Data[i] = nodata
		}
	}
	return g, nil
}

// NewGridCovering allocates a nodata grid snapped to multiples of
// pixelSize that covers e.
func NewGridCovering(e spatial.Envelope, pixelSize float64, nodata int32) (*Grid, error) {
	if e.IsEmpty() {
		return nil, eris.New("raster: empty extent")
	}
	if pixelSize <= 0 {
		return nil, eris.Errorf("raster: invalid pixel size %v", pixelSize)
	}
	minX := math.Floor(e.MinX/pixelSize) * pixelSize
	maxY := math.Ceil(e.MaxY/pixelSize) * pixelSize
	w := int(math.Ceil((e.MaxX - minX) / pixelSize))
	h := int(math.Ceil((maxY - e.MinY) / pixelSize))
	return NewGrid(max(w, 1), max(h, 1), minX, maxY, pixelSize, nodata)
}

// At returns the value at (col, row).
func (g *Grid) At(col, row int) int32 {
	return g.Data[row*g.Width+col]
}

// Set writes v at (col, row).
func (g *Grid) Set(col, row int, v int32) {
	g.Data[row*g.Width+col] = v
}

// Envelope returns the grid's extent.
func (g *Grid) Envelope() spatial.Envelope {
	return spatial.NewEnvelope(g.OriginX, g.OriginY-float64(g.Height)*g.PixelSize,
		g.OriginX+float64(g.Width)*g.PixelSize, g.OriginY)
}

// Centre returns the map coordinate of the centre of (col, row).
func (g *Grid) Centre(col, row int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.PixelSize, g.OriginY - (float64(row)+0.5)*g.PixelSize
}

// Window returns the inclusive range of pixels whose area overlaps e,
// clamped to the grid. Every pixel with its centre in e is included.
// Pixels that e only touches along an edge are not. ok is false when
// the range is empty.
func (g *Grid) Window(e spatial.Envelope) (c0, r0, c1, r1 int, ok bool) {
	if !g.Envelope().Intersects(e) {
		return 0, 0, 0, 0, false
	}
	c0 = int(math.Floor((e.MinX - g.OriginX) / g.PixelSize))
	c1 = int(math.Ceil((e.MaxX-g.OriginX)/g.PixelSize)) - 1
	r0 = int(math.Floor((g.OriginY - e.MaxY) / g.PixelSize))
	r1 = int(math.Ceil((g.OriginY-e.MinY)/g.PixelSize)) - 1
	c0, r0 = max(c0, 0), max(r0, 0)
	c1, r1 = min(c1, g.Width-1), min(r1, g.Height-1)
	return c0, r0, c1, r1, c0 <= c1 && r0 <= r1
}

// Crop returns a copy of the pixels covering e. The result shares
// georeferencing with g.
func (g *Grid) Crop(e spatial.Envelope) (*Grid, error) {
	c0, r0, c1, r1, ok := g.Window(e)
	if !ok {
		return nil, eris.New("raster: crop extent does not overlap grid")
	}
	out, err := NewGrid(c1-c0+1, r1-r0+1,
		g.OriginX+float64(c0)*g.PixelSize, g.OriginY-float64(r0)*g.PixelSize,
		g.PixelSize, g.NoData)
	if err != nil {
		return nil, err
	}
	for r := r0; r <= r1; r++ {
		copy(out.Data[(r-r0)*out.Width:(r-r0+1)*out.Width], g.Data[r*g.Width+c0:r*g.Width+c1+1])
	}
	return out, nil
}
