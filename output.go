package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// 输出类型，封闭集合，核心只依赖OutputWriter接口
const (
	OutputKMZ     = "kmz"
	OutputMBTiles = "mbtiles"
	OutputGeoTIFF = "geotiff"
)

// OutputWriter 输出器契约
// 估算和真实执行用同一套角点投影算法，预检数字和实际产量完全一致
type OutputWriter interface {
	Name() string
	EstimateTiles(e Extent, minZoom, maxZoom, groupCount int) int
	Generate(task *ExportTask, store *TileStore) error
}

// NewOutputWriter 按类型创建输出器
func NewOutputWriter(conf OutputConf) (OutputWriter, error) {
	if conf.Path == "" {
		return nil, fmt.Errorf("output %q has no path", conf.Type)
	}
	if conf.Format == "" {
		conf.Format = PNG
	}
	if conf.Format == JPG && conf.JpegQuality == 0 {
		conf.JpegQuality = 85
	}
	switch conf.Type {
	case OutputKMZ:
		return &KMZWriter{conf: conf}, nil
	case OutputMBTiles:
		return &MBTilesWriter{conf: conf}, nil
	case OutputGeoTIFF:
		return &GeoTIFFWriter{conf: conf}, nil
	default:
		return nil, fmt.Errorf("unknown output type %q (valid: kmz, mbtiles, geotiff)", conf.Type)
	}
}

// estimateTilesPerGroup 各级别瓦片数合计
func estimateTilesPerGroup(e Extent, minZoom, maxZoom int) int {
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		total += EstimateTileCount(e, z)
	}
	return total
}

// commitFile 临时文件落位成正式输出
// 写入全程用.part后缀，硬中断不会留下结构残缺的容器文件
func commitFile(partPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return fmt.Errorf("commit output file: %w", err)
	}
	return nil
}
