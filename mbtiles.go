package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/shaxbee/go-spatialite"
)

// MBTilesWriter MBTiles 1.3输出器
// 每个分组一个.mbtiles库，多分组时文件名带分组后缀
type MBTilesWriter struct {
	conf OutputConf
}

// Name 输出器名称
func (w *MBTilesWriter) Name() string { return OutputMBTiles }

// EstimateTiles 预估瓦片数
func (w *MBTilesWriter) EstimateTiles(e Extent, minZoom, maxZoom, groupCount int) int {
	return estimateTilesPerGroup(e, minZoom, maxZoom) * groupCount
}

// xyzToTMS MBTiles行号是TMS方向，Y轴翻转
func xyzToTMS(y, zoom int) int {
	return (1 << uint(zoom)) - 1 - y
}

// groupPath 分组对应的输出路径
func (w *MBTilesWriter) groupPath(group string, groupCount int) string {
	if groupCount <= 1 {
		return w.conf.Path
	}
	ext := filepath.Ext(w.conf.Path)
	return strings.TrimSuffix(w.conf.Path, ext) + "_" + group + ext
}

// createSchema 建表
func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE metadata (name TEXT, value TEXT)`,
		`CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`,
		`CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// writeMetadata 写元数据表，bounds/center/minzoom/maxzoom按规范必填
func (w *MBTilesWriter) writeMetadata(db *sql.DB, task *ExportTask, group string) error {
	name := task.Name
	if group != GroupComposited {
		name = name + " - " + group
	}
	centerLon, centerLat := task.Extent.Center()
	meta := [][2]string{
		{"name", name},
		{"format", w.conf.Format},
		{"bounds", fmt.Sprintf("%g,%g,%g,%g", task.Extent.MinLon, task.Extent.MinLat, task.Extent.MaxLon, task.Extent.MaxLat)},
		{"center", fmt.Sprintf("%g,%g,%d", centerLon, centerLat, task.MaxZoom)},
		{"minzoom", fmt.Sprintf("%d", task.MinZoom)},
		{"maxzoom", fmt.Sprintf("%d", task.MaxZoom)},
		{"type", "baselayer"},
	}
	if task.Description != "" {
		meta = append(meta, [2]string{"description", task.Description})
	}
	if attr := task.Attribution(); attr != "" {
		meta = append(meta, [2]string{"attribution", attr})
	}
	for _, kv := range meta {
		if _, err := db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("write metadata %s: %w", kv[0], err)
		}
	}
	return nil
}

// writeGroup 一个分组灌成一个完整的.mbtiles
func (w *MBTilesWriter) writeGroup(task *ExportTask, store *TileStore, group, finalPath string) error {
	partPath := finalPath + ".part"
	os.Remove(partPath)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	db, err := sql.Open("spatialite", partPath)
	if err != nil {
		return fmt.Errorf("open mbtiles db: %w", err)
	}
	defer os.Remove(partPath)
	defer db.Close()

	if err := createSchema(db); err != nil {
		return err
	}
	if err := w.writeMetadata(db, task, group); err != nil {
		return err
	}

	opacity := 100
	if group != GroupComposited {
		opacity = task.GroupOpacity(group)
	}

	written := 0
	// 逐级别一个事务，中断时整级别回滚
	for _, zoom := range store.Zooms(group) {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin zoom %d tx: %w", zoom, err)
		}
		stmt, err := tx.Prepare(`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("prepare insert: %w", err)
		}
		for _, t := range store.Tiles(group, zoom) {
			data, err := store.Read(group, t)
			if err != nil {
				log.Warnf("tile file missing from store: %d/%d/%d", t.Zoom, t.X, t.Y)
				continue
			}
			data, err = ApplyPNGOpacity(data, opacity)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("apply opacity to tile %d/%d/%d: %w", t.Zoom, t.X, t.Y, err)
			}
			data, err = EncodeTile(data, w.conf.Format, w.conf.JpegQuality)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("encode tile %d/%d/%d: %w", t.Zoom, t.X, t.Y, err)
			}
			if _, err := stmt.Exec(t.Zoom, t.X, xyzToTMS(t.Y, t.Zoom), data); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("insert tile %d/%d/%d: %w", t.Zoom, t.X, t.Y, err)
			}
			written++
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit zoom %d: %w", zoom, err)
		}
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("close mbtiles db: %w", err)
	}
	if err := commitFile(partPath, finalPath); err != nil {
		return err
	}
	log.Infof("mbtiles created with %d tiles: %s", written, finalPath)
	return nil
}

// Generate 生成MBTiles文件
func (w *MBTilesWriter) Generate(task *ExportTask, store *TileStore) error {
	groups := store.Groups()
	for _, group := range groups {
		if err := w.writeGroup(task, store, group, w.groupPath(group, len(groups))); err != nil {
			return err
		}
	}
	return nil
}
