package raster

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"
)

// WorldFilePath returns the .tfw sidecar for a .tif path.
func WorldFilePath(tifPath string) string {
	ext := filepath.Ext(tifPath)
	return strings.TrimSuffix(tifPath, ext) + ".tfw"
}

// ReadGeoTIFF loads a single-band integer TIFF and georeferences it from
// its world file. Rotated world files are rejected.
func ReadGeoTIFF(path string, nodata int32) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	img, err := tiff.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode %s", path)
	}

	wf, err := readWorldFile(WorldFilePath(path))
	if err != nil {
		return nil, err
	}
	if wf.rotX != 0 || wf.rotY != 0 {
		return nil, eris.Errorf("raster: %s is rotated", path)
	}
	if wf.sizeX <= 0 || wf.sizeY >= 0 || wf.sizeX != -wf.sizeY {
		return nil, eris.Errorf("raster: %s needs square north-up pixels", path)
	}

	b := img.Bounds()
	g, err := NewGrid(b.Dx(), b.Dy(), wf.centreX-wf.sizeX/2, wf.centreY-wf.sizeY/2, wf.sizeX, nodata)
	if err != nil {
		return nil, err
	}

	switch m := img.(type) {
	case *image.Gray:
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				g.Set(c, r, int32(m.Pix[r*m.Stride+c]))
			}
		}
	case *image.Paletted:
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				g.Set(c, r, int32(m.Pix[r*m.Stride+c]))
			}
		}
	case *image.Gray16:
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				i := r*m.Stride + 2*c
				g.Set(c, r, int32(m.Pix[i])<<8|int32(m.Pix[i+1]))
			}
		}
	default:
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				v := color.Gray16Model.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.Gray16)
				g.Set(c, r, int32(v.Y))
			}
		}
	}
	return g, nil
}

// WriteGeoTIFF writes g as a deflate-compressed 16-bit TIFF plus world
// file. Values must fit in 0..65535.
func WriteGeoTIFF(path string, g *Grid) error {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			v := g.At(c, r)
			if v < 0 || v > 0xFFFF {
				return eris.Errorf("raster: value %d at (%d,%d) does not fit 16 bits", v, c, r)
			}
			img.SetGray16(c, r, color.Gray16{Y: uint16(v)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}
	w := bufio.NewWriter(f)
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "raster: encode %s", path)
	}
	if err := w.Flush(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "raster: flush %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", path)
	}
	return writeWorldFile(WorldFilePath(path), g)
}

type worldFile struct {
	sizeX, rotY, rotX, sizeY, centreX, centreY float64
}

func readWorldFile(path string) (worldFile, error) {
	var wf worldFile
	data, err := os.ReadFile(path)
	if err != nil {
		return wf, eris.Wrapf(err, "raster: read world file %s", path)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return wf, eris.Errorf("raster: world file %s has %d values, want 6", path, len(fields))
	}
	vals := make([]float64, 6)
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return wf, eris.Wrapf(err, "raster: world file %s line %d", path, i+1)
		}
		vals[i] = v
	}
	return worldFile{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]}, nil
}

func writeWorldFile(path string, g *Grid) error {
	cx, cy := g.Centre(0, 0)
	body := fmt.Sprintf("%.10f\n0.0\n0.0\n%.10f\n%.10f\n%.10f\n", g.PixelSize, -g.PixelSize, cx, cy)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return eris.Wrapf(err, "raster: write world file %s", path)
	}
	return nil
}
