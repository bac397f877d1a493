package main

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// GeoTIFFWriter GeoTIFF输出器
// 每分组每级别拼一张整幅TIFF，配.tfw世界文件和.prj定义EPSG:3857参考
type GeoTIFFWriter struct {
	conf OutputConf
}

// EPSG:3857球面墨卡托WKT
const webMercatorWKT = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","3857"]]`

// Name 输出器名称
func (w *GeoTIFFWriter) Name() string { return OutputGeoTIFF }

// EstimateTiles 预估瓦片数
func (w *GeoTIFFWriter) EstimateTiles(e Extent, minZoom, maxZoom, groupCount int) int {
	return estimateTilesPerGroup(e, minZoom, maxZoom) * groupCount
}

// zoomResolution 该级别每像素对应的墨卡托米数
func zoomResolution(zoom int) float64 {
	return 2 * OriginShift / float64(TileSize) / float64(int(1)<<uint(zoom))
}

// mosaicPath 分组加级别对应的输出路径
func (w *GeoTIFFWriter) mosaicPath(group string, zoom, groupCount int) string {
	ext := filepath.Ext(w.conf.Path)
	base := strings.TrimSuffix(w.conf.Path, ext)
	if groupCount > 1 {
		base = base + "_" + group
	}
	return fmt.Sprintf("%s_z%d%s", base, zoom, ext)
}

// tileRangeOf 瓦片集合的行列包围盒
func tileRangeOf(tiles []TileIndex) (minX, minY, maxX, maxY int) {
	minX, minY = tiles[0].X, tiles[0].Y
	maxX, maxY = minX, minY
	for _, t := range tiles[1:] {
		minX = minInt(minX, t.X)
		minY = minInt(minY, t.Y)
		maxX = maxInt(maxX, t.X)
		maxY = maxInt(maxY, t.Y)
	}
	return minX, minY, maxX, maxY
}

// writeWorldFile 写.tfw，坐标指向左上角像素中心
func writeWorldFile(path string, zoom, minX, minY int) error {
	res := zoomResolution(zoom)
	bounds := TileToBounds(minX, minY, zoom)
	originX := LonToMeters(bounds.West) + res/2
	originY := LatToMeters(bounds.North) - res/2
	content := fmt.Sprintf("%.10f\n0.0\n0.0\n%.10f\n%.6f\n%.6f\n", res, -res, originX, originY)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write world file: %w", err)
	}
	return nil
}

// writeMosaic 一个分组一个级别拼幅落盘
func (w *GeoTIFFWriter) writeMosaic(store *TileStore, group string, zoom, opacity int, finalPath string) error {
	tiles := store.Tiles(group, zoom)
	if len(tiles) == 0 {
		return nil
	}
	minX, minY, maxX, maxY := tileRangeOf(tiles)
	width := (maxX - minX + 1) * TileSize
	height := (maxY - minY + 1) * TileSize
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	for _, t := range tiles {
		data, err := store.Read(group, t)
		if err != nil {
			log.Warnf("tile file missing from store: %d/%d/%d", t.Zoom, t.X, t.Y)
			continue
		}
		img, err := decodeTile(data)
		if err != nil {
			return fmt.Errorf("decode stored tile %d/%d/%d: %w", t.Zoom, t.X, t.Y, err)
		}
		applyOpacity(img, opacity)
		offset := image.Pt((t.X-minX)*TileSize, (t.Y-minY)*TileSize)
		draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(TileSize, TileSize))}, img, image.Point{}, draw.Src)
	}

	partPath := finalPath + ".part"
	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create geotiff: %w", err)
	}
	defer os.Remove(partPath)

	if err := tiff.Encode(file, canvas, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		file.Close()
		return fmt.Errorf("encode geotiff: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close geotiff: %w", err)
	}
	if err := commitFile(partPath, finalPath); err != nil {
		return err
	}

	ext := filepath.Ext(finalPath)
	sidecar := strings.TrimSuffix(finalPath, ext)
	if err := writeWorldFile(sidecar+".tfw", zoom, minX, minY); err != nil {
		return err
	}
	if err := os.WriteFile(sidecar+".prj", []byte(webMercatorWKT+"\n"), 0o644); err != nil {
		return fmt.Errorf("write prj file: %w", err)
	}

	log.Infof("geotiff mosaic created (%dx%d px): %s", width, height, finalPath)
	return nil
}

// Generate 生成GeoTIFF拼幅
func (w *GeoTIFFWriter) Generate(task *ExportTask, store *TileStore) error {
	if err := os.MkdirAll(filepath.Dir(w.conf.Path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	groups := store.Groups()
	for _, group := range groups {
		opacity := 100
		if group != GroupComposited {
			opacity = task.GroupOpacity(group)
		}
		for _, zoom := range store.Zooms(group) {
			if err := w.writeMosaic(store, group, zoom, opacity, w.mosaicPath(group, zoom, len(groups))); err != nil {
				return err
			}
		}
	}
	return nil
}
