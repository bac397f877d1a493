package main

import (
	"image"
)

// TileSize 默认瓦片大小
const TileSize = 256

// ZoomMin 最小级别
const ZoomMin = 0

// ZoomMax 最大级别
const ZoomMax = 18

// TileIndex 瓦片索引
type TileIndex struct {
	X    int
	Y    int
	Zoom int
}

// Parent 上一级父瓦片索引
func (t TileIndex) Parent() TileIndex {
	return TileIndex{X: t.X >> 1, Y: t.Y >> 1, Zoom: t.Zoom - 1}
}

// FlipY XYZ转TMS行号
func (t TileIndex) FlipY() int {
	return (1 << uint(t.Zoom)) - 1 - t.Y
}

// ImageTile 解码后的瓦片存储
type ImageTile struct {
	X   int
	Y   int
	Img *image.NRGBA
}

// Constants representing TileFormat types
const (
	PNG string = "png"
	JPG        = "jpg"
)
