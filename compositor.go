package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// ErrCorruptTile 瓦片字节无法解码
var ErrCorruptTile = errors.New("corrupt tile data")

// maxDownsampleZoomDiff 降采样允许的最大级别差
// 每差一级源瓦片数翻4倍，差4级一张目标瓦片要拉256张源瓦片。
// 放大方向不受此限，任何级别差都只取一张祖先瓦片。
const maxDownsampleZoomDiff = 4

// Compositor 瓦片合成器，按图层顺序叠加出成品瓦片
type Compositor struct {
	fetcher *Fetcher
}

// NewCompositor 创建合成器
func NewCompositor(fetcher *Fetcher) *Compositor {
	return &Compositor{fetcher: fetcher}
}

// newTransparentTile 全透明空白瓦片
func newTransparentTile() *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
}

// decodeTile 解码任意格式瓦片为NRGBA
// 解码失败说明数据已损坏，与缺片、网络故障是不同的错误类别
func decodeTile(data []byte) (*image.NRGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptTile, err)
	}
	if nrgba, ok := src.(*image.NRGBA); ok && nrgba.Bounds() == image.Rect(0, 0, TileSize, TileSize) {
		return nrgba, nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
	return dst, nil
}

// encodePNG 编码为无损PNG
func encodePNG(img *image.NRGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// applyOpacity 按不透明度缩放alpha通道
// 在原alpha基础上相乘，半透明源像素能正确参与合成
func applyOpacity(img *image.NRGBA, opacity int) {
	if opacity >= 100 {
		return
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(int(img.Pix[i]) * opacity / 100)
	}
}

// blendOnto 把overlay按混合模式叠加到acc上
//
// RGB通道按模式逐像素混合，混合结果再用overlay的alpha与底图做
// alpha合成。叠加顺序敏感，调用方必须自底向上串行执行。
func blendOnto(acc, overlay *image.NRGBA, mode BlendMode) {
	for i := 0; i < len(acc.Pix); i += 4 {
		or := int(overlay.Pix[i])
		og := int(overlay.Pix[i+1])
		ob := int(overlay.Pix[i+2])
		oa := int(overlay.Pix[i+3])

		br := int(acc.Pix[i])
		bg := int(acc.Pix[i+1])
		bb := int(acc.Pix[i+2])
		ba := int(acc.Pix[i+3])

		var nr, ng, nb int
		switch mode {
		case BlendMultiply:
			nr = br * or / 255
			ng = bg * og / 255
			nb = bb * ob / 255
		case BlendScreen:
			nr = 255 - (255-br)*(255-or)/255
			ng = 255 - (255-bg)*(255-og)/255
			nb = 255 - (255-bb)*(255-ob)/255
		case BlendOverlay:
			nr = overlayChannel(br, or)
			ng = overlayChannel(bg, og)
			nb = overlayChannel(bb, ob)
		default: // normal
			nr, ng, nb = or, og, ob
		}

		acc.Pix[i] = uint8((br*(255-oa) + nr*oa) / 255)
		acc.Pix[i+1] = uint8((bg*(255-oa) + ng*oa) / 255)
		acc.Pix[i+2] = uint8((bb*(255-oa) + nb*oa) / 255)
		acc.Pix[i+3] = uint8(oa + ba*(255-oa)/255)
	}
}

// overlayChannel 标准overlay双分支公式
func overlayChannel(base, over int) int {
	if base < 128 {
		return 2 * base * over / 255
	}
	return 255 - 2*(255-base)*(255-over)/255
}

// CompositeTile 合成一张目标瓦片
//
// 图层列表自底向上依次取源瓦片、应用不透明度、按混合模式叠加。
// 空图层列表返回全透明瓦片。单个图层取片失败以透明片顶替，
// 绝不因一个图层缺片放弃整张合成。
func (c *Compositor) CompositeTile(ctx context.Context, x, y, zoom int, layers []*LayerComposition) ([]byte, error) {
	acc := newTransparentTile()

	for _, comp := range layers {
		if !comp.Enabled {
			continue
		}

		tile, err := c.layerTile(ctx, comp, x, y, zoom)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrCorruptTile) {
				return nil, fmt.Errorf("layer %s tile %d/%d/%d: %w", comp.Source.Name, zoom, x, y, err)
			}
			// 缺片退化为透明，对合成结果无贡献
			log.Debugf("layer %s tile %d/%d/%d missing: %s", comp.Source.Name, zoom, x, y, err)
			continue
		}

		applyOpacity(tile, comp.Opacity)
		blendOnto(acc, tile, comp.Blend)
	}

	return encodePNG(acc)
}

// layerTile 取一个图层在目标瓦片位置的内容，必要时重采样
func (c *Compositor) layerTile(ctx context.Context, comp *LayerComposition, x, y, zoom int) (*image.NRGBA, error) {
	available := comp.AvailableSourceZooms()
	sourceZoom := comp.ResolveSourceZoom(zoom, available)

	switch {
	case sourceZoom == zoom:
		data, err := c.fetcher.FetchOne(ctx, comp.Source, x, y, zoom)
		if err != nil {
			return nil, err
		}
		return decodeTile(data)

	case sourceZoom < zoom:
		return c.upsampleFromAncestor(ctx, comp.Source, x, y, zoom, sourceZoom)

	default:
		return c.downsampleFromGrid(ctx, comp.Source, x, y, zoom, sourceZoom)
	}
}

// upsampleFromAncestor 从低级别祖先瓦片放大出目标瓦片
// 取祖先瓦片中对应的子象限区域，双线性放大到整张目标瓦片
func (c *Compositor) upsampleFromAncestor(ctx context.Context, source *LayerSource, x, y, zoom, sourceZoom int) (*image.NRGBA, error) {
	diff := zoom - sourceZoom
	// 差8级时子象限只剩1像素，再远已无内容可放大
	if TileSize>>uint(diff) < 1 {
		return nil, fmt.Errorf("zoom diff %d leaves no source pixels to upsample", diff)
	}

	fetchX := x >> uint(diff)
	fetchY := y >> uint(diff)
	offX := x - fetchX<<uint(diff)
	offY := y - fetchY<<uint(diff)

	data, err := c.fetcher.FetchOne(ctx, source, fetchX, fetchY, sourceZoom)
	if err != nil {
		return nil, err
	}
	src, err := decodeTile(data)
	if err != nil {
		return nil, err
	}

	sub := TileSize >> uint(diff)
	srcRect := image.Rect(offX*sub, offY*sub, (offX+1)*sub, (offY+1)*sub)

	dst := newTransparentTile()
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, srcRect, xdraw.Src, nil)
	return dst, nil
}

// downsampleFromGrid 从高级别子孙瓦片网格缩小出目标瓦片
// 网格里缺的片保持透明，拼好后高质量滤波缩到标准瓦片大小
func (c *Compositor) downsampleFromGrid(ctx context.Context, source *LayerSource, x, y, zoom, sourceZoom int) (*image.NRGBA, error) {
	diff := sourceZoom - zoom
	if diff > maxDownsampleZoomDiff {
		return nil, fmt.Errorf("zoom diff %d too large to downsample", diff)
	}

	scale := 1 << uint(diff)
	baseX := x << uint(diff)
	baseY := y << uint(diff)

	grid := make([]TileIndex, 0, scale*scale)
	for dy := 0; dy < scale; dy++ {
		for dx := 0; dx < scale; dx++ {
			grid = append(grid, TileIndex{X: baseX + dx, Y: baseY + dy, Zoom: sourceZoom})
		}
	}

	fetched := c.fetcher.FetchBatch(ctx, source, grid, nil)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("no source tiles at zoom %d for %d/%d/%d", sourceZoom, zoom, x, y)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, TileSize*scale, TileSize*scale))
	for _, ft := range fetched {
		img, err := decodeTile(ft.Data)
		if err != nil {
			log.Debugf("corrupt source tile %d/%d/%d: %s", ft.Zoom, ft.X, ft.Y, err)
			continue
		}
		px := (ft.X - baseX) * TileSize
		py := (ft.Y - baseY) * TileSize
		xdraw.Draw(canvas, image.Rect(px, py, px+TileSize, py+TileSize), img, image.Point{}, xdraw.Src)
	}

	dst := newTransparentTile()
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), canvas, canvas.Bounds(), xdraw.Src, nil)
	return dst, nil
}
