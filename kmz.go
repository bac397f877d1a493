package main

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"os"
)

// KMZWriter KMZ输出器
// doc.kml加地面叠加层描述，瓦片图片按分组打进deflate压缩包
type KMZWriter struct {
	conf OutputConf
}

type kmlFile struct {
	XMLName  xml.Name    `xml:"kml"`
	Xmlns    string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name        string      `xml:"name"`
	Description string      `xml:"description,omitempty"`
	Folders     []kmlFolder `xml:"Folder"`
}

type kmlFolder struct {
	Name     string             `xml:"name"`
	Folders  []kmlFolder        `xml:"Folder,omitempty"`
	Overlays []kmlGroundOverlay `xml:"GroundOverlay,omitempty"`
}

type kmlGroundOverlay struct {
	Name      string       `xml:"name"`
	Color     string       `xml:"color,omitempty"`
	DrawOrder int          `xml:"drawOrder"`
	Icon      kmlIcon      `xml:"Icon"`
	LatLonBox kmlLatLonBox `xml:"LatLonBox"`
	Region    *kmlRegion   `xml:"Region,omitempty"`
}

type kmlIcon struct {
	Href string `xml:"href"`
}

type kmlLatLonBox struct {
	North float64 `xml:"north"`
	South float64 `xml:"south"`
	East  float64 `xml:"east"`
	West  float64 `xml:"west"`
}

type kmlRegion struct {
	LatLonAltBox kmlLatLonBox `xml:"LatLonAltBox"`
	Lod          kmlLod       `xml:"Lod"`
}

type kmlLod struct {
	MinLodPixels int `xml:"minLodPixels"`
	MaxLodPixels int `xml:"maxLodPixels"`
}

// Name 输出器名称
func (w *KMZWriter) Name() string { return OutputKMZ }

// EstimateTiles 预估瓦片数
func (w *KMZWriter) EstimateTiles(e Extent, minZoom, maxZoom, groupCount int) int {
	return estimateTilesPerGroup(e, minZoom, maxZoom) * groupCount
}

// calculateLODPixels 各级别的KML Region显示阈值
//
// 阈值区间互相重叠且偏低，放大时高级别瓦片尽早出现、低级别
// 瓦片隐藏。-1表示无穷。
func calculateLODPixels(zoom, minZoom, maxZoom int) (minLod, maxLod int) {
	if minZoom == maxZoom {
		return -1, -1
	}
	if zoom == maxZoom {
		return 80, -1
	}
	if zoom == minZoom {
		return -1, 256
	}
	return 80, 256
}

// kmlOpacityColor 不透明度转KML颜色（aabbggrr，白色载体）
func kmlOpacityColor(opacity int) string {
	alpha := opacity * 255 / 100
	return fmt.Sprintf("%02xffffff", alpha)
}

// tileArcName 瓦片在压缩包里的路径
func tileArcName(group string, t TileIndex) string {
	return fmt.Sprintf("files/tiles/%s/%s", group, tileFileName(t))
}

// groundOverlaysForGroup 一个分组一个级别的全部地面叠加层
func (w *KMZWriter) groundOverlaysForGroup(store *TileStore, group string, zoom int, color string, lod bool, minZoom, maxZoom int) []kmlGroundOverlay {
	tiles := store.Tiles(group, zoom)
	overlays := make([]kmlGroundOverlay, 0, len(tiles))

	for _, t := range tiles {
		bounds := TileToBounds(t.X, t.Y, t.Zoom)
		overlay := kmlGroundOverlay{
			Name:      fmt.Sprintf("Tile %d/%d/%d", t.Zoom, t.X, t.Y),
			Color:     color,
			DrawOrder: t.Zoom,
			Icon:      kmlIcon{Href: tileArcName(group, t)},
			LatLonBox: kmlLatLonBox{
				North: bounds.North,
				South: bounds.South,
				East:  bounds.East,
				West:  bounds.West,
			},
		}
		if lod {
			minLod, maxLod := calculateLODPixels(zoom, minZoom, maxZoom)
			overlay.Region = &kmlRegion{
				LatLonAltBox: overlay.LatLonBox,
				Lod:          kmlLod{MinLodPixels: minLod, MaxLodPixels: maxLod},
			}
		}
		overlays = append(overlays, overlay)
	}
	return overlays
}

// Generate 生成KMZ文件
func (w *KMZWriter) Generate(task *ExportTask, store *TileStore) error {
	lod := task.MinZoom < task.MaxZoom

	doc := kmlDocument{
		Name:        task.DocName(),
		Description: task.DocDescription(),
	}

	for _, group := range store.Groups() {
		color := ""
		folderName := "Layer: Base"
		if group != GroupComposited {
			folderName = "Layer: " + group
			// 独立图层用容器级透明度，像素保持原样
			color = kmlOpacityColor(task.GroupOpacity(group))
		}

		layerFolder := kmlFolder{Name: folderName}
		zooms := store.Zooms(group)
		// 高级别在前，与绘制顺序一致
		for i := len(zooms) - 1; i >= 0; i-- {
			zoom := zooms[i]
			overlays := w.groundOverlaysForGroup(store, group, zoom, color, lod, task.MinZoom, task.MaxZoom)
			if len(overlays) == 0 {
				continue
			}
			zoomName := fmt.Sprintf("Zoom %d", zoom)
			if !lod {
				zoomName = group + " Tiles"
			}
			layerFolder.Folders = append(layerFolder.Folders, kmlFolder{Name: zoomName, Overlays: overlays})
		}
		doc.Folders = append(doc.Folders, layerFolder)
	}

	kmlData, err := xml.MarshalIndent(kmlFile{
		Xmlns:    "http://www.opengis.net/kml/2.2",
		Document: doc,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal kml: %w", err)
	}
	kmlData = append([]byte(xml.Header), kmlData...)

	partPath := w.conf.Path + ".part"
	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create kmz: %w", err)
	}
	defer os.Remove(partPath)

	zw := zip.NewWriter(file)

	// doc.kml必须在包根
	entry, err := zw.Create("doc.kml")
	if err != nil {
		file.Close()
		return fmt.Errorf("create doc.kml entry: %w", err)
	}
	if _, err := entry.Write(kmlData); err != nil {
		file.Close()
		return fmt.Errorf("write doc.kml: %w", err)
	}

	written := 0
	for _, group := range store.Groups() {
		for _, zoom := range store.Zooms(group) {
			for _, t := range store.Tiles(group, zoom) {
				data, err := store.Read(group, t)
				if err != nil {
					log.Warnf("tile file missing from store: %d/%d/%d", t.Zoom, t.X, t.Y)
					continue
				}
				entry, err := zw.Create(tileArcName(group, t))
				if err != nil {
					file.Close()
					return fmt.Errorf("create tile entry: %w", err)
				}
				if _, err := entry.Write(data); err != nil {
					file.Close()
					return fmt.Errorf("write tile entry: %w", err)
				}
				written++
			}
		}
	}

	if err := zw.Close(); err != nil {
		file.Close()
		return fmt.Errorf("finalize kmz: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close kmz: %w", err)
	}

	if err := commitFile(partPath, w.conf.Path); err != nil {
		return err
	}
	log.Infof("kmz archive created with %d tiles: %s", written, w.conf.Path)
	return nil
}
