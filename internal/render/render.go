// Package render draws the daily token table as a PNG.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"trendcast/internal/domain"
	"trendcast/internal/market"
)

var (
	background = color.RGBA{R: 0x12, G: 0x12, B: 0x16, A: 0xff}
	panel      = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff}
	white      = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	gray       = color.RGBA{R: 0xaa, G: 0xaa, B: 0xaa, A: 0xff}
	green      = color.RGBA{R: 0x2e, G: 0xcc, B: 0x40, A: 0xff}
)

var ErrTooSmall = errors.New("render: canvas too small")

type PNG struct {
	Width  int
	Height int
	Title  string
}

func NewPNG() *PNG {
	return &PNG{Width: 1080, Height: 1080, Title: "TRENDING TOKENS (24H)"}
}

// Render draws one row per token inside a centered panel. An empty token list still
// produces a valid image with the title only.
func (p *PNG) Render(tokens []domain.Token) ([]byte, error) {
	w, h := p.Width, p.Height
	if w < 200 || h < 200 {
		return nil, ErrTooSmall
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	// panel geometry follows the 1080px template: 180px side margin, 200px top.
	left, top := w/6, h*10/54
	right, bottom := w-left/2, h-h/27
	box := image.Rect(left, top, right, bottom)
	draw.Draw(img, box, &image.Uniform{C: panel}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	text(img, face, white, left, top-40, p.Title)

	rows := len(tokens)
	if rows == 0 {
		text(img, face, gray, left+32, top+box.Dy()/2, "No trending tokens today")
	}
	itemH := box.Dy() / (max(rows, market.DefaultTopN) + 1)
	startY := top + (box.Dy()-itemH*rows)/2

	for i, t := range tokens {
		y := startY + i*itemH
		nameX := left + 32
		text(img, face, white, nameX, y+13, fmt.Sprintf("%d. %s", i+1, t.Name))
		text(img, face, gray, nameX, y+34, market.CompactUSD(t.Volume24hUSD)+" volume")

		change := market.Percent(t.PriceChange24h)
		textRight(img, face, green, right-60, y+13, change)
		textRight(img, face, white, right-60, y+34, market.CompactUSD(t.MarketCapUSD))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func text(dst draw.Image, face font.Face, c color.Color, x, y int, s string) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(s)
}

func textRight(dst draw.Image, face font.Face, c color.Color, x, y int, s string) {
	width := font.MeasureString(face, s).Round()
	text(dst, face, c, x-width, y, s)
}
