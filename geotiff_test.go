package main

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"
)

func TestZoomResolution(t *testing.T) {
	// z0整球一张瓦片，约156543米/像素
	if got := zoomResolution(0); math.Abs(got-156543.033928) > 0.001 {
		t.Errorf("zoomResolution(0) = %f", got)
	}
	if got, want := zoomResolution(10), zoomResolution(9)/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("resolution must halve per zoom: z10=%f, z9/2=%f", got, want)
	}
}

func TestTileRangeOf(t *testing.T) {
	tiles := []TileIndex{
		{X: 5, Y: 9, Zoom: 8},
		{X: 3, Y: 11, Zoom: 8},
		{X: 4, Y: 10, Zoom: 8},
	}
	minX, minY, maxX, maxY := tileRangeOf(tiles)
	if minX != 3 || minY != 9 || maxX != 5 || maxY != 11 {
		t.Errorf("range = (%d, %d, %d, %d)", minX, minY, maxX, maxY)
	}
}

func TestGeoTIFFWriteMosaic(t *testing.T) {
	store, err := NewTileStore("tiff")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Cleanup()

	red := solidPNG(t, color.NRGBA{R: 255, A: 255})
	for _, tile := range []TileIndex{
		{X: 4, Y: 2, Zoom: 3},
		{X: 5, Y: 2, Zoom: 3},
	} {
		if err := store.Put(GroupComposited, tile, red); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	outPath := filepath.Join(t.TempDir(), "mosaic.tif")
	w := &GeoTIFFWriter{conf: OutputConf{Type: OutputGeoTIFF, Path: outPath}}
	if err := w.writeMosaic(store, GroupComposited, 3, 100, outPath); err != nil {
		t.Fatalf("writeMosaic: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open mosaic: %v", err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("decode mosaic: %v", err)
	}
	if img.Bounds().Dx() != 512 || img.Bounds().Dy() != 256 {
		t.Errorf("mosaic size %v, want 512x256", img.Bounds())
	}
	r, _, _, _ := img.At(100, 100).RGBA()
	if r>>8 < 250 {
		t.Errorf("mosaic pixel not red: %d", r>>8)
	}

	// 世界文件6行，首行是像素分辨率
	tfw, err := os.ReadFile(strings.TrimSuffix(outPath, ".tif") + ".tfw")
	if err != nil {
		t.Fatalf("read tfw: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(tfw)), "\n")
	if len(lines) != 6 {
		t.Fatalf("tfw has %d lines, want 6", len(lines))
	}
	if !strings.HasPrefix(lines[0], "19567.87") {
		t.Errorf("tfw resolution line = %q", lines[0])
	}

	if _, err := os.Stat(strings.TrimSuffix(outPath, ".tif") + ".prj"); err != nil {
		t.Errorf("prj sidecar missing: %v", err)
	}
}

func TestGeoTIFFWriteMosaicBakesGroupOpacity(t *testing.T) {
	store, err := NewTileStore("tiffop")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Cleanup()

	red := solidPNG(t, color.NRGBA{R: 255, A: 255})
	if err := store.Put("relief", TileIndex{X: 0, Y: 0, Zoom: 2}, red); err != nil {
		t.Fatalf("put: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "relief.tif")
	w := &GeoTIFFWriter{conf: OutputConf{Type: OutputGeoTIFF, Path: outPath}}
	if err := w.writeMosaic(store, "relief", 2, 50, outPath); err != nil {
		t.Fatalf("writeMosaic: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open mosaic: %v", err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("decode mosaic: %v", err)
	}
	_, _, _, a := img.At(100, 100).RGBA()
	if got := int(a >> 8); got < 125 || got > 129 {
		t.Errorf("baked alpha = %d, want ~127 for opacity 50", got)
	}
}
