package main

import (
	"bytes"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestEncodeTilePNGPassthrough(t *testing.T) {
	data := solidPNG(t, color.NRGBA{R: 5, A: 255})
	out, err := EncodeTile(data, PNG, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("png passthrough modified the data")
	}
}

func TestEncodeTileJPEGWhiteBackground(t *testing.T) {
	// 全透明瓦片转JPEG后应是白底
	transparent, err := encodePNG(newTransparentTile())
	if err != nil {
		t.Fatalf("encode transparent: %v", err)
	}
	out, err := EncodeTile(transparent, JPG, 85)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	r, g, b, _ := img.At(128, 128).RGBA()
	if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
		t.Errorf("expected white background, got rgb(%d, %d, %d)", r>>8, g>>8, b>>8)
	}
}

func TestEncodeTileBadQuality(t *testing.T) {
	data := solidPNG(t, color.NRGBA{A: 255})
	if _, err := EncodeTile(data, JPG, 0); err == nil {
		t.Error("quality 0 accepted")
	}
	if _, err := EncodeTile(data, JPG, 101); err == nil {
		t.Error("quality 101 accepted")
	}
}

func TestApplyPNGOpacity(t *testing.T) {
	data := solidPNG(t, color.NRGBA{R: 255, A: 255})

	out, err := ApplyPNGOpacity(data, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	px := centerPixel(t, out)
	if px.A != 127 {
		t.Errorf("alpha = %d, want 127", px.A)
	}
	if px.R != 255 {
		t.Errorf("color channel touched: R = %d", px.R)
	}

	same, err := ApplyPNGOpacity(data, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(same, data) {
		t.Error("opacity 100 must pass data through untouched")
	}
}

func TestEncodeTileUnknownFormat(t *testing.T) {
	if _, err := EncodeTile([]byte("x"), "webp", 80); err == nil {
		t.Error("unknown format accepted")
	}
}
