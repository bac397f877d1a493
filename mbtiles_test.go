package main

import "testing"

func TestXYZToTMS(t *testing.T) {
	cases := []struct {
		y, zoom int
		want    int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{403, 10, 620},
		{1023, 10, 0},
	}
	for _, c := range cases {
		if got := xyzToTMS(c.y, c.zoom); got != c.want {
			t.Errorf("xyzToTMS(%d, %d) = %d, want %d", c.y, c.zoom, got, c.want)
		}
	}
}

func TestMBTilesGroupPath(t *testing.T) {
	w := &MBTilesWriter{conf: OutputConf{Path: "out/export.mbtiles"}}
	if got := w.groupPath("composited", 1); got != "out/export.mbtiles" {
		t.Errorf("single group path = %q", got)
	}
	if got := w.groupPath("relief", 2); got != "out/export_relief.mbtiles" {
		t.Errorf("multi group path = %q", got)
	}
}
