package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// EncodeTile 把合成器输出的PNG转成目标格式
// png原样透传，jpg先铺白底再编码（JPEG没有alpha通道）
func EncodeTile(pngData []byte, format string, jpegQuality int) ([]byte, error) {
	switch format {
	case PNG:
		return pngData, nil
	case JPG:
		return encodePNGToJPEG(pngData, jpegQuality)
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
}

// ApplyPNGOpacity 把分组透明度烘进PNG像素
// 独立分组合成时不烘透明度，没有容器层的输出格式落盘前在这里补
func ApplyPNGOpacity(pngData []byte, opacity int) ([]byte, error) {
	if opacity >= 100 {
		return pngData, nil
	}
	img, err := decodeTile(pngData)
	if err != nil {
		return nil, err
	}
	applyOpacity(img, opacity)
	return encodePNG(img)
}

func encodePNGToJPEG(pngData []byte, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality must be 1-100, got %d", quality)
	}

	src, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptTile, err)
	}

	background := image.NewNRGBA(src.Bounds())
	xdraw.Draw(background, background.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.Draw(background, background.Bounds(), src, src.Bounds().Min, xdraw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, background, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
