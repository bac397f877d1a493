package main

import (
	"fmt"
	"sort"
)

// BlendMode 图层混合模式
type BlendMode string

const (
	BlendNormal   BlendMode = "normal"
	BlendMultiply BlendMode = "multiply"
	BlendScreen   BlendMode = "screen"
	BlendOverlay  BlendMode = "overlay"
)

// ExportMode 图层导出分组
const (
	ExportComposited = "composited"
	ExportSeparate   = "separate"
)

// LODMode 图层可用级别策略
const (
	LODAllZooms    = "all_zooms"
	LODSelectZooms = "select_zooms"
)

// LayerComposition 单次导出中一个图层的合成设置
type LayerComposition struct {
	Source      *LayerSource
	Opacity     int // 0-100
	Blend       BlendMode
	Enabled     bool
	ExportMode  string
	LODMode     string
	SelectZooms []int
}

// Validate 校验合成设置
func (c *LayerComposition) Validate() error {
	if c.Source == nil {
		return fmt.Errorf("layer composition has no source")
	}
	if c.Opacity < 0 || c.Opacity > 100 {
		return fmt.Errorf("layer %s: opacity must be 0-100, got %d", c.Source.Name, c.Opacity)
	}
	switch c.Blend {
	case BlendNormal, BlendMultiply, BlendScreen, BlendOverlay:
	default:
		return fmt.Errorf("layer %s: unknown blend mode %q", c.Source.Name, c.Blend)
	}
	switch c.ExportMode {
	case ExportComposited, ExportSeparate:
	default:
		return fmt.Errorf("layer %s: unknown export mode %q", c.Source.Name, c.ExportMode)
	}
	switch c.LODMode {
	case LODAllZooms, LODSelectZooms:
	default:
		return fmt.Errorf("layer %s: unknown lod mode %q", c.Source.Name, c.LODMode)
	}
	return nil
}

// Copy 后台任务提交前做值拷贝，避免与后续配置修改产生别名
func (c *LayerComposition) Copy() *LayerComposition {
	dup := *c
	dup.SelectZooms = append([]int(nil), c.SelectZooms...)
	return &dup
}

// AvailableSourceZooms 图层可原生提供的级别集合
// select_zooms模式下与原生区间求交，超出部分过滤而不报错
func (c *LayerComposition) AvailableSourceZooms() []int {
	if c.LODMode == LODSelectZooms {
		var zooms []int
		for _, z := range c.SelectZooms {
			if z >= c.Source.MinZoom && z <= c.Source.MaxZoom {
				zooms = append(zooms, z)
			}
		}
		sort.Ints(zooms)
		return zooms
	}

	zooms := make([]int, 0, c.Source.MaxZoom-c.Source.MinZoom+1)
	for z := c.Source.MinZoom; z <= c.Source.MaxZoom; z++ {
		zooms = append(zooms, z)
	}
	return zooms
}

// ResolveSourceZoom 选择离目标级别最近的可用源级别
//
// 目标级别可用时原样返回。集合为空时退化为min(原生最大级别, 目标级别)。
// 上下都有候选且距离相等时取更高级别，降采样画质更好。
func (c *LayerComposition) ResolveSourceZoom(targetZoom int, available []int) int {
	lower, higher := -1, -1
	for _, z := range available {
		if z == targetZoom {
			return targetZoom
		}
		if z < targetZoom && (lower == -1 || z > lower) {
			lower = z
		}
		if z > targetZoom && (higher == -1 || z < higher) {
			higher = z
		}
	}

	if lower == -1 && higher == -1 {
		return minInt(c.Source.MaxZoom, targetZoom)
	}
	if higher == -1 {
		return lower
	}
	if lower == -1 {
		return higher
	}
	if targetZoom-lower < higher-targetZoom {
		return lower
	}
	return higher
}

// SeparateLayersByExportMode 按导出分组拆分启用的图层
// 只有一个启用图层时总是走separate，用容器级透明度代替像素级合成
func SeparateLayersByExportMode(layers []*LayerComposition) (composited, separate []*LayerComposition) {
	var enabled []*LayerComposition
	for _, c := range layers {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}

	if len(enabled) == 1 {
		return nil, enabled
	}

	for _, c := range enabled {
		if c.ExportMode == ExportSeparate {
			separate = append(separate, c)
		} else {
			composited = append(composited, c)
		}
	}
	return composited, separate
}
