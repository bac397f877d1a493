package main

import (
	"reflect"
	"testing"
)

func testSource() *LayerSource {
	return &LayerSource{
		Name:        "std",
		DisplayName: "Standard Map",
		URLTemplate: "https://example.com/{z}/{x}/{y}.png",
		Extension:   PNG,
		MinZoom:     2,
		MaxZoom:     18,
	}
}

func TestResolveSourceZoom(t *testing.T) {
	comp := &LayerComposition{Source: testSource()}
	cases := []struct {
		name      string
		available []int
		target    int
		want      int
	}{
		{"exact match", []int{10, 11, 12}, 11, 11},
		{"nearest lower", []int{8, 10}, 13, 10},
		{"nearest higher", []int{14, 16}, 12, 14},
		{"tie prefers higher", []int{11, 13}, 12, 13},
		{"tie prefers higher wide", []int{11, 15}, 13, 15},
		{"only lower candidates", []int{9, 10}, 15, 10},
		{"only higher candidates", []int{14}, 11, 14},
	}
	for _, c := range cases {
		if got := comp.ResolveSourceZoom(c.target, c.available); got != c.want {
			t.Errorf("%s: ResolveSourceZoom(%d, %v) = %d, want %d", c.name, c.target, c.available, got, c.want)
		}
	}
}

func TestResolveSourceZoomEmptyAvailable(t *testing.T) {
	comp := &LayerComposition{Source: testSource()}
	comp.Source.MaxZoom = 16

	// 空集合退化为min(原生最大级别, 目标级别)
	if got := comp.ResolveSourceZoom(18, nil); got != 16 {
		t.Errorf("target above native max: got %d, want 16", got)
	}
	if got := comp.ResolveSourceZoom(10, nil); got != 10 {
		t.Errorf("target below native max: got %d, want 10", got)
	}
}

func TestAvailableSourceZooms(t *testing.T) {
	comp := &LayerComposition{
		Source:      testSource(),
		LODMode:     LODSelectZooms,
		SelectZooms: []int{15, 1, 11, 25},
	}
	comp.Source.MinZoom = 10
	comp.Source.MaxZoom = 16

	// 原生区间外的级别过滤而不报错，结果排序
	got := comp.AvailableSourceZooms()
	if !reflect.DeepEqual(got, []int{11, 15}) {
		t.Errorf("AvailableSourceZooms = %v, want [11 15]", got)
	}
}

func TestAvailableSourceZoomsAllMode(t *testing.T) {
	comp := &LayerComposition{Source: testSource(), LODMode: LODAllZooms}
	comp.Source.MinZoom = 3
	comp.Source.MaxZoom = 5
	got := comp.AvailableSourceZooms()
	if !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("AvailableSourceZooms = %v, want [3 4 5]", got)
	}
}

func TestValidate(t *testing.T) {
	good := &LayerComposition{
		Source:     testSource(),
		Opacity:    80,
		Blend:      BlendMultiply,
		ExportMode: ExportComposited,
		LODMode:    LODAllZooms,
	}
	if err := good.Validate(); err != nil {
		t.Errorf("valid composition rejected: %v", err)
	}

	bad := *good
	bad.Opacity = 101
	if err := bad.Validate(); err == nil {
		t.Error("opacity 101 accepted")
	}

	bad = *good
	bad.Blend = "darken"
	if err := bad.Validate(); err == nil {
		t.Error("unknown blend mode accepted")
	}
}

func TestSeparateLayersByExportMode(t *testing.T) {
	a := &LayerComposition{Source: testSource(), Enabled: true, ExportMode: ExportComposited}
	b := &LayerComposition{Source: testSource(), Enabled: true, ExportMode: ExportComposited}
	c := &LayerComposition{Source: testSource(), Enabled: true, ExportMode: ExportSeparate}

	composited, separate := SeparateLayersByExportMode([]*LayerComposition{a, b, c})
	if len(composited) != 2 || len(separate) != 1 {
		t.Errorf("got %d composited, %d separate; want 2, 1", len(composited), len(separate))
	}
}

func TestSeparateLayersSingleAlwaysSeparate(t *testing.T) {
	// 单图层无像素可混，走独立分组拿容器级透明度
	only := &LayerComposition{Source: testSource(), Enabled: true, ExportMode: ExportComposited}
	composited, separate := SeparateLayersByExportMode([]*LayerComposition{only})
	if len(composited) != 0 || len(separate) != 1 {
		t.Errorf("got %d composited, %d separate; want 0, 1", len(composited), len(separate))
	}
}

func TestCopyIsDeep(t *testing.T) {
	orig := &LayerComposition{Source: testSource(), SelectZooms: []int{3, 4}}
	dup := orig.Copy()
	dup.SelectZooms[0] = 99
	if orig.SelectZooms[0] != 3 {
		t.Error("Copy shares SelectZooms backing array")
	}
}
