package main

import (
	"fmt"
	"strconv"
	"strings"
)

// LayerSource 瓦片图层静态描述
type LayerSource struct {
	Name        string
	DisplayName string
	URLTemplate string
	Extension   string
	MinZoom     int
	MaxZoom     int
	Attribution string
}

// TileURL 获取瓦片URL
func (s *LayerSource) TileURL(x, y, z int) string {
	url := strings.Replace(s.URLTemplate, "{x}", strconv.Itoa(x), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(y), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(z), -1)
	return url
}

// LayerRegistry 图层注册表，启动时构建一次，只读传递
type LayerRegistry struct {
	sources map[string]*LayerSource
}

// Lookup 按名称查找图层
func (r *LayerRegistry) Lookup(name string) (*LayerSource, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Names 已注册图层名称
func (r *LayerRegistry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

func gsiURLTemplate(name, extension string) string {
	return fmt.Sprintf("https://maps.gsi.go.jp/xyz/%s/{z}/{x}/{y}.%s", name, extension)
}

// builtinLayerSources 国土地理院内置图层
func builtinLayerSources() []*LayerSource {
	return []*LayerSource{
		{
			Name:        "std",
			DisplayName: "Standard Map",
			URLTemplate: gsiURLTemplate("std", PNG),
			Extension:   PNG,
			MinZoom:     2,
			MaxZoom:     18,
			Attribution: "国土地理院 標準地図",
		},
		{
			Name:        "pale",
			DisplayName: "Pale Map",
			URLTemplate: gsiURLTemplate("pale", PNG),
			Extension:   PNG,
			MinZoom:     2,
			MaxZoom:     18,
			Attribution: "国土地理院 淡色地図",
		},
		{
			Name:        "english",
			DisplayName: "English Map",
			URLTemplate: gsiURLTemplate("english", PNG),
			Extension:   PNG,
			MinZoom:     5,
			MaxZoom:     8,
			Attribution: "国土地理院 English",
		},
		{
			Name:        "ort",
			DisplayName: "Orthographic Aerial Photos",
			URLTemplate: gsiURLTemplate("ort", JPG),
			Extension:   JPG,
			MinZoom:     2,
			MaxZoom:     18,
			Attribution: "国土地理院 オルソ画像",
		},
		{
			Name:        "relief",
			DisplayName: "Elevation Relief",
			URLTemplate: gsiURLTemplate("relief", PNG),
			Extension:   PNG,
			MinZoom:     5,
			MaxZoom:     15,
			Attribution: "国土地理院 色別標高図",
		},
		{
			Name:        "hillshademap",
			DisplayName: "Hillshade Map",
			URLTemplate: gsiURLTemplate("hillshademap", PNG),
			Extension:   PNG,
			MinZoom:     2,
			MaxZoom:     16,
			Attribution: "国土地理院 陰影起伏図",
		},
	}
}

// NewLayerRegistry 构建注册表，自定义图层可覆盖内置同名项
func NewLayerRegistry(custom []*LayerSource) (*LayerRegistry, error) {
	r := &LayerRegistry{sources: make(map[string]*LayerSource)}
	for _, s := range builtinLayerSources() {
		r.sources[s.Name] = s
	}
	for _, s := range custom {
		if s.Name == "" {
			return nil, fmt.Errorf("custom layer source missing name")
		}
		if s.URLTemplate == "" {
			return nil, fmt.Errorf("custom layer source %s missing url template", s.Name)
		}
		if s.Extension == "" {
			s.Extension = PNG
		}
		if s.MaxZoom == 0 {
			s.MaxZoom = ZoomMax
		}
		r.sources[s.Name] = s
	}
	return r, nil
}
