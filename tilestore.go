package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// TileStore 单次导出的中间瓦片暂存
//
// 成品瓦片先落到临时目录，输出器全部提交后整体清理。
// 瓦片绝不跨任务复用，省掉缓存一致性问题。
type TileStore struct {
	dir    string
	mu     sync.Mutex
	groups map[string]map[int][]TileIndex
}

// NewTileStore 创建暂存目录
func NewTileStore(taskID string) (*TileStore, error) {
	dir, err := os.MkdirTemp("", "gsitiler-"+taskID+"-")
	if err != nil {
		return nil, fmt.Errorf("create tile store dir: %w", err)
	}
	return &TileStore{
		dir:    dir,
		groups: make(map[string]map[int][]TileIndex),
	}, nil
}

// GroupComposited 混合输出的分组名，独立图层分组用图层名
const GroupComposited = "composited"

func tileFileName(t TileIndex) string {
	return fmt.Sprintf("%d_%d_%d.png", t.Zoom, t.X, t.Y)
}

// Put 写入一张成品瓦片
func (s *TileStore) Put(group string, t TileIndex, data []byte) error {
	groupDir := filepath.Join(s.dir, group)
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return fmt.Errorf("create group dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(groupDir, tileFileName(t)), data, 0o644); err != nil {
		return fmt.Errorf("write tile %d/%d/%d: %w", t.Zoom, t.X, t.Y, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byZoom, ok := s.groups[group]
	if !ok {
		byZoom = make(map[int][]TileIndex)
		s.groups[group] = byZoom
	}
	byZoom[t.Zoom] = append(byZoom[t.Zoom], t)
	return nil
}

// Read 读回一张瓦片
func (s *TileStore) Read(group string, t TileIndex) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, group, tileFileName(t)))
}

// Groups 已写入的分组名
func (s *TileStore) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Zooms 某分组已写入的级别，升序
func (s *TileStore) Zooms(group string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zooms []int
	for z := range s.groups[group] {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)
	return zooms
}

// Tiles 某分组某级别的瓦片索引，行列号排序保证输出确定
func (s *TileStore) Tiles(group string, zoom int) []TileIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	tiles := append([]TileIndex(nil), s.groups[group][zoom]...)
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})
	return tiles
}

// Count 瓦片总数
func (s *TileStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, byZoom := range s.groups {
		for _, tiles := range byZoom {
			n += len(tiles)
		}
	}
	return n
}

// Cleanup 删除暂存目录，注册到SafeExit后中断退出也不留垃圾
func (s *TileStore) Cleanup() {
	if s.dir != "" {
		os.RemoveAll(s.dir)
	}
}
