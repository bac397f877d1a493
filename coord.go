package main

import (
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WebMercatorLatLimit Web墨卡托纬度极限
const WebMercatorLatLimit = 85.05112877980659

// EarthRadius 地球半径（米）
const EarthRadius = 6378137.0

// OriginShift 墨卡托原点偏移
const OriginShift = math.Pi * EarthRadius

// Extent WGS84经纬度范围
type Extent struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Valid 校验范围合法性
func (e Extent) Valid() error {
	if e.MinLon >= e.MaxLon || e.MinLat >= e.MaxLat {
		return fmt.Errorf("extent min must be less than max: %+v", e)
	}
	if e.MinLon < -180 || e.MaxLon > 180 || e.MinLat < -90 || e.MaxLat > 90 {
		return fmt.Errorf("extent out of world bounds: %+v", e)
	}
	return nil
}

// Center 中心点
func (e Extent) Center() (lon, lat float64) {
	return (e.MinLon + e.MaxLon) / 2, (e.MinLat + e.MaxLat) / 2
}

// TileBounds 瓦片的WGS84边界
type TileBounds struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Contains 判断点是否落在边界内
func (b TileBounds) Contains(lon, lat float64) bool {
	return lon >= b.West && lon <= b.East && lat >= b.South && lat <= b.North
}

// LonLatToTile 经纬度转瓦片行列号
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))

	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n))
	return x, y
}

// TileToBounds 瓦片行列号转WGS84边界
func TileToBounds(x, y, zoom int) TileBounds {
	n := math.Exp2(float64(zoom))

	west := float64(x)/n*360.0 - 180.0
	east := float64(x+1)/n*360.0 - 180.0

	northRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	southRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y+1)/n)))

	return TileBounds{
		North: northRad * 180.0 / math.Pi,
		South: southRad * 180.0 / math.Pi,
		East:  east,
		West:  west,
	}
}

// tileRangeInExtent 四角投影后的瓦片行列范围
// 投影非线性，四个角都要投影后再取最值，不能只取对角两点
func tileRangeInExtent(e Extent, zoom int) (xMin, xMax, yMin, yMax int) {
	xNW, yNW := LonLatToTile(e.MinLon, e.MaxLat, zoom)
	xNE, yNE := LonLatToTile(e.MaxLon, e.MaxLat, zoom)
	xSW, ySW := LonLatToTile(e.MinLon, e.MinLat, zoom)
	xSE, ySE := LonLatToTile(e.MaxLon, e.MinLat, zoom)

	xMin = minInt(minInt(xNW, xNE), minInt(xSW, xSE))
	xMax = maxInt(maxInt(xNW, xNE), maxInt(xSW, xSE))
	yMin = minInt(minInt(yNW, yNE), minInt(ySW, ySE))
	yMax = maxInt(maxInt(yNW, yNE), maxInt(ySW, ySE))
	return
}

// TilesInExtent 范围内全部瓦片索引
func TilesInExtent(e Extent, zoom int) []TileIndex {
	xMin, xMax, yMin, yMax := tileRangeInExtent(e, zoom)

	tiles := make([]TileIndex, 0, (xMax-xMin+1)*(yMax-yMin+1))
	for x := xMin; x <= xMax; x++ {
		for y := yMin; y <= yMax; y++ {
			tiles = append(tiles, TileIndex{X: x, Y: y, Zoom: zoom})
		}
	}
	return tiles
}

// EstimateTileCount 估算瓦片数，不生成索引列表
func EstimateTileCount(e Extent, zoom int) int {
	xMin, xMax, yMin, yMax := tileRangeInExtent(e, zoom)
	return (xMax - xMin + 1) * (yMax - yMin + 1)
}

// EstimateDownloadSize 估算下载量（MB）
func EstimateDownloadSize(tileCount int, extension string) float64 {
	avgKB := 50.0 // png
	if extension == JPG {
		avgKB = 80.0
	}
	return float64(tileCount) * avgKB / 1024.0
}

// LonToMeters WGS84经度转Web墨卡托X（米）
func LonToMeters(lon float64) float64 {
	return lon * OriginShift / 180.0
}

// LatToMeters WGS84纬度转Web墨卡托Y（米）
func LatToMeters(lat float64) float64 {
	latRad := lat * math.Pi / 180.0
	return math.Log(math.Tan(math.Pi/4+latRad/2)) * EarthRadius
}

// LoadExtentFromGeojson 从geojson文件计算范围
func LoadExtentFromGeojson(path string) (Extent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Extent{}, fmt.Errorf("unable to read geojson file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Extent{}, fmt.Errorf("unable to unmarshal feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return Extent{}, fmt.Errorf("no features in geojson file %s", path)
	}

	bound := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	for _, f := range fc.Features {
		bound = bound.Union(f.Geometry.Bound())
	}

	return Extent{
		MinLon: bound.Min[0],
		MinLat: bound.Min[1],
		MaxLon: bound.Max[0],
		MaxLat: bound.Max[1],
	}, nil
}
