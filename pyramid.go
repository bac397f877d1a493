package main

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// DownsampleLevel 把级别Z的瓦片集降采样成级别Z-1
//
// 源瓦片按父索引(x>>1, y>>1)分组，每组在512x512画布上按
// (x%2, y%2)定位四个子象限，缺的子片保持透明，最后用
// Catmull-Rom滤波缩回256x256。马赛克里细线条多，最近邻
// 缩放会有明显锯齿。
func DownsampleLevel(sourceTiles []ImageTile, progress func(done, total int)) []ImageTile {
	groups := make(map[TileIndex][]ImageTile)
	for _, t := range sourceTiles {
		parent := TileIndex{X: t.X >> 1, Y: t.Y >> 1}
		groups[parent] = append(groups[parent], t)
	}

	out := make([]ImageTile, 0, len(groups))
	done := 0
	for parent, children := range groups {
		canvas := image.NewNRGBA(image.Rect(0, 0, 2*TileSize, 2*TileSize))
		for _, child := range children {
			if child.Img == nil {
				continue
			}
			px := (child.X & 1) * TileSize
			py := (child.Y & 1) * TileSize
			xdraw.Draw(canvas, image.Rect(px, py, px+TileSize, py+TileSize), child.Img, image.Point{}, xdraw.Src)
		}

		dst := newTransparentTile()
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), canvas, canvas.Bounds(), xdraw.Src, nil)

		out = append(out, ImageTile{X: parent.X, Y: parent.Y, Img: dst})

		done++
		if progress != nil {
			progress(done, len(groups))
		}
	}
	return out
}

// BuildPyramid 从最细级别逐级降采样出整座金字塔
//
// 每一级只消费上一级的输出，不回头从最细级别重算，保证相邻
// 两级恰好差一个倍频程，级别切换过渡平滑。
func BuildPyramid(finestTiles []ImageTile, finestZoom, coarsestZoom int, progress func(zoom, done, total int)) map[int][]ImageTile {
	pyramid := map[int][]ImageTile{finestZoom: finestTiles}

	current := finestTiles
	for zoom := finestZoom - 1; zoom >= coarsestZoom; zoom-- {
		z := zoom
		var cb func(done, total int)
		if progress != nil {
			cb = func(done, total int) { progress(z, done, total) }
		}
		current = DownsampleLevel(current, cb)
		pyramid[zoom] = current
	}
	return pyramid
}
