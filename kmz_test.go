package main

import (
	"archive/zip"
	"image/color"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestCalculateLODPixels(t *testing.T) {
	cases := []struct {
		zoom, min, max   int
		wantMin, wantMax int
	}{
		{10, 10, 10, -1, -1}, // 单级别无LOD
		{14, 10, 14, 80, -1}, // 最高级别向上无界
		{10, 10, 14, -1, 256},
		{12, 10, 14, 80, 256},
	}
	for _, c := range cases {
		gotMin, gotMax := calculateLODPixels(c.zoom, c.min, c.max)
		if gotMin != c.wantMin || gotMax != c.wantMax {
			t.Errorf("calculateLODPixels(%d, %d, %d) = (%d, %d), want (%d, %d)",
				c.zoom, c.min, c.max, gotMin, gotMax, c.wantMin, c.wantMax)
		}
	}
}

func TestKmlOpacityColor(t *testing.T) {
	cases := []struct {
		opacity int
		want    string
	}{
		{100, "ffffffff"},
		{60, "99ffffff"},
		{0, "00ffffff"},
	}
	for _, c := range cases {
		if got := kmlOpacityColor(c.opacity); got != c.want {
			t.Errorf("kmlOpacityColor(%d) = %q, want %q", c.opacity, got, c.want)
		}
	}
}

func TestKMZGenerate(t *testing.T) {
	store, err := NewTileStore("kmz")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Cleanup()

	red := solidPNG(t, color.NRGBA{R: 255, A: 255})
	tiles := []TileIndex{
		{X: 909, Y: 403, Zoom: 10},
		{X: 910, Y: 403, Zoom: 10},
		{X: 1818, Y: 806, Zoom: 11},
	}
	for _, tile := range tiles {
		if err := store.Put(GroupComposited, tile, red); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	task := &ExportTask{
		ID:          "t",
		Name:        "Test Export",
		Description: "unit test",
		MinZoom:     10,
		MaxZoom:     11,
	}

	outPath := filepath.Join(t.TempDir(), "out.kmz")
	writer := &KMZWriter{conf: OutputConf{Type: OutputKMZ, Path: outPath, Format: PNG}}
	if err := writer.Generate(task, store); err != nil {
		t.Fatalf("generate: %v", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open kmz: %v", err)
	}
	defer zr.Close()

	names := make(map[string]bool)
	var kml string
	for _, f := range zr.File {
		names[f.Name] = true
		if f.Name == "doc.kml" {
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("open doc.kml: %v", err)
			}
			data, _ := io.ReadAll(rc)
			rc.Close()
			kml = string(data)
		}
	}

	if !names["doc.kml"] {
		t.Fatal("doc.kml missing from archive")
	}
	for _, tile := range tiles {
		want := tileArcName(GroupComposited, tile)
		if !names[want] {
			t.Errorf("tile entry %s missing from archive", want)
		}
	}

	if !strings.Contains(kml, "<name>Test Export</name>") {
		t.Error("document name missing from kml")
	}
	if got := strings.Count(kml, "<GroundOverlay>"); got != 3 {
		t.Errorf("kml has %d GroundOverlay entries, want 3", got)
	}
	// 多级别导出必须带Region/Lod
	if !strings.Contains(kml, "<minLodPixels>80</minLodPixels>") {
		t.Error("lod thresholds missing from kml")
	}
	if !strings.Contains(kml, "files/tiles/composited/10_909_403.png") {
		t.Error("tile href missing from kml")
	}
}
