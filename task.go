package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// 金字塔构建策略
// perzoom逐级别独立合成，pyramid只合成最高级别再逐级降采样
const (
	StrategyPerZoom = "perzoom"
	StrategyPyramid = "pyramid"
)

// InitTask 初始化导出任务
func InitTask() {
	start := time.Now()

	registry, err := buildRegistry(conf.Sources)
	if err != nil {
		log.Fatalf("layer source config error: %s", err)
	}

	extent, err := loadExtent()
	if err != nil {
		log.Fatalf("extent config error: %s", err)
	}

	layers, err := buildCompositions(registry, conf.Layers)
	if err != nil {
		log.Fatalf("layer config error: %s", err)
	}

	outputs := make([]OutputWriter, 0, len(conf.Outputs))
	for _, oc := range conf.Outputs {
		writer, err := NewOutputWriter(oc)
		if err != nil {
			log.Fatalf("output config error: %s", err)
		}
		outputs = append(outputs, writer)
	}

	fetcher := NewFetcher(
		conf.Fetch.Workers,
		conf.Fetch.Retries,
		time.Duration(conf.Fetch.RetryDelay)*time.Millisecond,
		time.Duration(conf.Fetch.RequestDelay)*time.Millisecond,
		time.Duration(conf.Fetch.Timeout)*time.Second,
	)

	task, err := NewExportTask(extent, layers, outputs, fetcher)
	if err != nil {
		log.Fatalf("task config error: %s", err)
	}
	// 注册安全退出
	SafeExitInst.Register(task.AbortFun)

	if err := task.Run(); err != nil {
		log.Fatalf("task %s failed: %s", task.ID, err)
	}

	secs := time.Since(start).Seconds()
	log.Printf("\n%.3fs finished...", secs)
}

// buildRegistry 内置图层加自定义图层
func buildRegistry(sources []SourceConf) (*LayerRegistry, error) {
	custom := make([]*LayerSource, 0, len(sources))
	for _, sc := range sources {
		custom = append(custom, &LayerSource{
			Name:        sc.Name,
			DisplayName: sc.DisplayName,
			URLTemplate: sc.URL,
			Extension:   sc.Extension,
			MinZoom:     sc.Min,
			MaxZoom:     sc.Max,
			Attribution: sc.Attribution,
		})
	}
	return NewLayerRegistry(custom)
}

// loadExtent 范围取geojson覆盖面或经纬度矩形
func loadExtent() (Extent, error) {
	if conf.Extent.Geojson != "" {
		return LoadExtentFromGeojson(conf.Extent.Geojson)
	}
	e := Extent{
		MinLon: conf.Extent.MinLon,
		MinLat: conf.Extent.MinLat,
		MaxLon: conf.Extent.MaxLon,
		MaxLat: conf.Extent.MaxLat,
	}
	return e, e.Valid()
}

// buildCompositions 配置转图层合成设置
func buildCompositions(registry *LayerRegistry, layers []LayerConf) ([]*LayerComposition, error) {
	comps := make([]*LayerComposition, 0, len(layers))
	for _, lc := range layers {
		source, ok := registry.Lookup(lc.Source)
		if !ok {
			return nil, fmt.Errorf("unknown layer source %q (known: %v)", lc.Source, registry.Names())
		}
		comp := &LayerComposition{
			Source:      source,
			Opacity:     lc.Opacity,
			Blend:       BlendMode(lc.Blend),
			Enabled:     lc.Enabled,
			ExportMode:  lc.ExportMode,
			LODMode:     lc.LodMode,
			SelectZooms: lc.SelectZooms,
		}
		if comp.Blend == "" {
			comp.Blend = BlendNormal
		}
		if comp.ExportMode == "" {
			comp.ExportMode = ExportComposited
		}
		if comp.LODMode == "" {
			comp.LODMode = LODAllZooms
		}
		if err := comp.Validate(); err != nil {
			return nil, err
		}
		comps = append(comps, comp)
	}
	return comps, nil
}

// layerGroup 一次独立渲染的图层集合，对应暂存和输出里的一个分组
type layerGroup struct {
	name   string
	layers []*LayerComposition
}

// ExportTask 导出任务
type ExportTask struct {
	ID          string
	Name        string
	Description string
	Extent      Extent
	MinZoom     int
	MaxZoom     int
	Strategy    string
	Layers      []*LayerComposition
	Outputs     []OutputWriter

	compositor  *Compositor
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewExportTask 创建导出任务，所有配置问题在联网前暴露
func NewExportTask(extent Extent, layers []*LayerComposition, outputs []OutputWriter, fetcher *Fetcher) (*ExportTask, error) {
	if err := extent.Valid(); err != nil {
		return nil, err
	}
	minZoom, maxZoom := conf.Task.Min, conf.Task.Max
	if minZoom < ZoomMin || maxZoom > ZoomMax || minZoom > maxZoom {
		return nil, fmt.Errorf("zoom range %d-%d out of bounds (%d-%d)", minZoom, maxZoom, ZoomMin, ZoomMax)
	}
	switch conf.Task.Strategy {
	case StrategyPerZoom, StrategyPyramid:
	default:
		return nil, fmt.Errorf("unknown strategy %q (valid: perzoom, pyramid)", conf.Task.Strategy)
	}
	enabled := 0
	for _, c := range layers {
		if c.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return nil, fmt.Errorf("no enabled layers")
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no outputs configured")
	}

	id, _ := shortid.Generate()
	ctx, cancel := context.WithCancel(context.Background())

	copies := make([]*LayerComposition, 0, len(layers))
	for _, c := range layers {
		copies = append(copies, c.Copy())
	}

	workers := conf.Task.Workers
	if workers <= 0 {
		workers = 4
	}

	return &ExportTask{
		ID:          id,
		Name:        conf.Task.Name,
		Description: conf.Task.Description,
		Extent:      extent,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		Strategy:    conf.Task.Strategy,
		Layers:      copies,
		Outputs:     outputs,
		compositor:  NewCompositor(fetcher),
		workerCount: workers,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// AbortFun 结束任务
func (task *ExportTask) AbortFun() {
	task.cancel()
}

// DocName 输出文档标题
func (task *ExportTask) DocName() string {
	return task.Name
}

// DocDescription 输出文档描述，带来源署名
func (task *ExportTask) DocDescription() string {
	desc := task.Description
	if attr := task.Attribution(); attr != "" {
		if desc != "" {
			desc += "\n"
		}
		desc += "Source: " + attr
	}
	return desc
}

// Attribution 启用图层的署名合并，去重保序
func (task *ExportTask) Attribution() string {
	var attrs []string
	seen := map[string]bool{}
	for _, c := range task.Layers {
		if !c.Enabled || c.Source.Attribution == "" || seen[c.Source.Attribution] {
			continue
		}
		seen[c.Source.Attribution] = true
		attrs = append(attrs, c.Source.Attribution)
	}
	return strings.Join(attrs, ", ")
}

// GroupOpacity 独立图层分组的容器级不透明度
func (task *ExportTask) GroupOpacity(group string) int {
	for _, c := range task.Layers {
		if c.Enabled && c.Source.Name == group {
			return c.Opacity
		}
	}
	return 100
}

// groups 启用图层按导出分组拆分
func (task *ExportTask) groups() []layerGroup {
	var enabled []*LayerComposition
	for _, c := range task.Layers {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	composited, separate := SeparateLayersByExportMode(enabled)

	var groups []layerGroup
	if len(composited) > 0 {
		groups = append(groups, layerGroup{name: GroupComposited, layers: composited})
	}
	for _, c := range separate {
		// 独立分组像素保持原样，透明度由输出器在容器层或落盘时应用
		solo := c.Copy()
		solo.Opacity = 100
		groups = append(groups, layerGroup{name: c.Source.Name, layers: []*LayerComposition{solo}})
	}
	return groups
}

// logEstimates 预检：瓦片量和体量估算
func (task *ExportTask) logEstimates(groupCount int) {
	perGroup := estimateTilesPerGroup(task.Extent, task.MinZoom, task.MaxZoom)
	for z := task.MinZoom; z <= task.MaxZoom; z++ {
		log.Printf("zoom: %d, tiles: %d \n", z, EstimateTileCount(task.Extent, z))
	}
	log.Infof("task %s: %d groups, %d tiles per group, ~%.1f MB",
		task.ID, groupCount, perGroup, EstimateDownloadSize(perGroup*groupCount, PNG))
	for _, out := range task.Outputs {
		log.Infof("output %s: %d tiles", out.Name(), out.EstimateTiles(task.Extent, task.MinZoom, task.MaxZoom, groupCount))
	}
}

// Run 执行导出
func (task *ExportTask) Run() error {
	groups := task.groups()
	task.logEstimates(len(groups))

	store, err := NewTileStore(task.ID)
	if err != nil {
		return err
	}
	defer store.Cleanup()
	SafeExitInst.Register(store.Cleanup)

	for _, group := range groups {
		log.Infof("Task group: %s starting", group.name)
		switch task.Strategy {
		case StrategyPyramid:
			err = task.renderPyramid(group, store)
		default:
			err = task.renderPerZoom(group, store)
		}
		if err != nil {
			return fmt.Errorf("render group %s: %w", group.name, err)
		}
	}

	log.Infof("compositing done, %d tiles staged", store.Count())

	for _, out := range task.Outputs {
		if err := task.ctx.Err(); err != nil {
			return err
		}
		if err := out.Generate(task, store); err != nil {
			return fmt.Errorf("output %s: %w", out.Name(), err)
		}
	}
	return nil
}

// compositeZoom 一个分组一个级别的全部瓦片并发合成
func (task *ExportTask) compositeZoom(group layerGroup, zoom int, sink func(t TileIndex, png []byte) error) error {
	tiles := TilesInExtent(task.Extent, zoom)
	bar := pb.New(len(tiles)).Prefix(fmt.Sprintf("Zoom %d : ", zoom)).Postfix("\n")
	bar.SetRefreshRate(time.Second)
	bar.Start()

	workers := make(chan struct{}, task.workerCount)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, t := range tiles {
		select {
		case <-task.ctx.Done():
			wg.Wait()
			bar.Finish()
			mu.Lock()
			defer mu.Unlock()
			// 取消可能由合成错误触发，真实原因优先
			if firstErr != nil {
				return firstErr
			}
			return task.ctx.Err()
		case workers <- struct{}{}:
		}
		wg.Add(1)
		go func(t TileIndex) {
			defer func() {
				wg.Done()
				<-workers
			}()
			data, err := task.compositor.CompositeTile(task.ctx, t.X, t.Y, t.Zoom, group.layers)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					task.cancel()
				}
				return
			}
			if err := sink(t, data); err != nil && firstErr == nil {
				firstErr = err
				task.cancel()
			}
			bar.Increment()
		}(t)
	}
	wg.Wait()
	bar.FinishPrint(fmt.Sprintf("Task %s group %s zoom %d finished ~", task.ID, group.name, zoom))
	return firstErr
}

// renderPerZoom 逐级别独立合成，每级别都按解析规则取最近可用源级别
func (task *ExportTask) renderPerZoom(group layerGroup, store *TileStore) error {
	for zoom := task.MinZoom; zoom <= task.MaxZoom; zoom++ {
		err := task.compositeZoom(group, zoom, func(t TileIndex, png []byte) error {
			return store.Put(group.name, t, png)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// renderPyramid 只合成最高级别，低级别由上级瓦片2x2降采样得到
// 低级别不再回源，带宽省一半以上，画质与逐级别方式基本一致
func (task *ExportTask) renderPyramid(group layerGroup, store *TileStore) error {
	var mu sync.Mutex
	var finest []ImageTile

	err := task.compositeZoom(group, task.MaxZoom, func(t TileIndex, data []byte) error {
		img, err := decodeTile(data)
		if err != nil {
			return err
		}
		if err := store.Put(group.name, t, data); err != nil {
			return err
		}
		mu.Lock()
		finest = append(finest, ImageTile{X: t.X, Y: t.Y, Img: img})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	levels := BuildPyramid(finest, task.MaxZoom, task.MinZoom, func(zoom, done, total int) {
		if done == total {
			log.Infof("pyramid zoom %d: %d tiles", zoom, total)
		}
	})
	for zoom := task.MaxZoom - 1; zoom >= task.MinZoom; zoom-- {
		for _, it := range levels[zoom] {
			if err := task.ctx.Err(); err != nil {
				return err
			}
			data, err := encodePNG(it.Img)
			if err != nil {
				return err
			}
			if err := store.Put(group.name, TileIndex{X: it.X, Y: it.Y, Zoom: zoom}, data); err != nil {
				return err
			}
		}
	}
	return nil
}
