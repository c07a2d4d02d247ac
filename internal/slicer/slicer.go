// Package slicer cuts a square panorama into an equal grid of panels.
package slicer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
)

// DefaultGrid is the number of rows and columns in a storybook panorama.
const DefaultGrid = 3

// ErrInvalidGeometry is returned when an image cannot be cut into an equal
// square grid.
var ErrInvalidGeometry = errors.New("invalid image geometry")

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Slice cuts img into grid*grid square panels in row-major order: panel
// r*grid+c covers column c of row r. img must be square with a side evenly
// divisible by grid. Returned panels keep img's pixel type when it supports
// SubImage; they share its pixel memory.
func Slice(img image.Image, grid int) ([]image.Image, error) {
	if grid <= 0 {
		return nil, fmt.Errorf("%w: grid size %d", ErrInvalidGeometry, grid)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w != h {
		return nil, fmt.Errorf("%w: image is %dx%d, want square", ErrInvalidGeometry, w, h)
	}
	if w == 0 || w%grid != 0 {
		return nil, fmt.Errorf("%w: side %d is not divisible by %d", ErrInvalidGeometry, w, grid)
	}

	side := w / grid
	panels := make([]image.Image, 0, grid*grid)
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			min := b.Min.Add(image.Pt(col*side, row*side))
			rect := image.Rectangle{Min: min, Max: min.Add(image.Pt(side, side))}
			panels = append(panels, crop(img, rect))
		}
	}
	return panels, nil
}

func crop(img image.Image, rect image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Assemble is the inverse of Slice: it lays panels out row-major on a fresh
// RGBA canvas. All panels must be the same square size.
func Assemble(panels []image.Image, grid int) (*image.RGBA, error) {
	if grid <= 0 || len(panels) != grid*grid {
		return nil, fmt.Errorf("%w: got %d panels for a %dx%d grid", ErrInvalidGeometry, len(panels), grid, grid)
	}
	side := panels[0].Bounds().Dx()
	canvas := image.NewRGBA(image.Rect(0, 0, side*grid, side*grid))
	for i, p := range panels {
		pb := p.Bounds()
		if pb.Dx() != side || pb.Dy() != side {
			return nil, fmt.Errorf("%w: panel %d is %dx%d, want %dx%d", ErrInvalidGeometry, i, pb.Dx(), pb.Dy(), side, side)
		}
		row, col := i/grid, i%grid
		at := image.Rect(col*side, row*side, (col+1)*side, (row+1)*side)
		draw.Draw(canvas, at, p, pb.Min, draw.Src)
	}
	return canvas, nil
}

// MaxSide bounds the width and height Decode accepts.
const MaxSide = 8192

// Decode reads a PNG or JPEG image. The header is checked against MaxSide
// before any pixels are allocated.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image header: %w", err)
	}
	if cfg.Width > MaxSide || cfg.Height > MaxSide {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %dpx", ErrInvalidGeometry, cfg.Width, cfg.Height, MaxSide)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
