package card

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"tft-tracker/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	ErrMissingPlayer = errors.New("card: missing player data")
	ErrNoPlacement   = errors.New("card: missing placement")
)

type Player struct {
	Name      string
	Rank      domain.RankSnapshot
	DeltaText string
	Units     []domain.Unit
}

type Card struct {
	Mode      domain.Mode
	Placement int
	Player    Player
	Teammate  *Player
}

const (
	cardWidth  = 640
	unitSize   = 52
	unitGap    = 8
	unitCols   = 10
	headerPad  = 56
	blockPad   = 96
	marginLeft = 20
)

var (
	bgColor    = color.RGBA{14, 14, 14, 255}
	textColor  = color.RGBA{235, 235, 235, 255}
	dimColor   = color.RGBA{170, 170, 170, 255}
	goldColor  = color.RGBA{240, 200, 60, 255}
	unitColors = map[int]color.RGBA{
		1: {90, 90, 90, 255},
		2: {70, 120, 70, 255},
		3: {200, 170, 60, 255},
	}
)

// Renderer draws a match card offline: header, per-player rank lines and a
// unit roster grid, with an optional teammate block for double-up matches.
type Renderer struct {
	logger zerolog.Logger
}

func NewRenderer(logger zerolog.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render encodes the card to PNG. Structurally invalid input fails fast
// with a distinct error before any drawing happens.
func (r *Renderer) Render(c Card) ([]byte, error) {
	if err := validate(c); err != nil {
		return nil, err
	}

	height := blockPad + unitRows(c.Player.Units)*(unitSize+unitGap) + 30
	if c.Teammate != nil {
		height += blockPad + unitRows(c.Teammate.Units)*(unitSize+unitGap)
	}

	img := image.NewRGBA(image.Rect(0, 0, cardWidth, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{bgColor}, image.Point{}, draw.Src)

	title := "Solo Match"
	if c.Mode == domain.ModeDoubleUp {
		title = "Double Up Match"
	} else if c.Mode == domain.ModeOther {
		title = "Match"
	}
	drawText(img, title, marginLeft, 30, textColor)

	y := drawPlayerBlock(img, c.Player, &c.Placement, headerPad)
	if c.Teammate != nil {
		drawPlayerBlock(img, *c.Teammate, nil, y+30)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("card: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func validate(c Card) error {
	if c.Player.Name == "" {
		return ErrMissingPlayer
	}
	if c.Teammate != nil && c.Teammate.Name == "" {
		return ErrMissingPlayer
	}
	if c.Placement <= 0 {
		return ErrNoPlacement
	}
	return nil
}

func unitRows(units []domain.Unit) int {
	if len(units) == 0 {
		return 0
	}
	return (len(units) + unitCols - 1) / unitCols
}

// drawPlayerBlock renders one player's header and unit grid, returning the y
// coordinate below the block.
func drawPlayerBlock(img *image.RGBA, p Player, placement *int, offsetY int) int {
	drawText(img, p.Name, marginLeft, offsetY, textColor)

	rankLine := domain.FormatRank(p.Rank)
	if p.DeltaText != "" {
		rankLine += "  " + p.DeltaText
	}
	drawText(img, rankLine, marginLeft, offsetY+20, dimColor)

	if placement != nil {
		drawText(img, fmt.Sprintf("Placement: %d", *placement), marginLeft, offsetY+40, goldColor)
	}

	gridTop := offsetY + 50
	for i, unit := range p.Units {
		x := marginLeft + (i%unitCols)*(unitSize+unitGap)
		y := gridTop + (i/unitCols)*(unitSize+unitGap)

		tile := unitColors[unit.Stars]
		if tile.A == 0 {
			tile = unitColors[1]
		}
		rect := image.Rect(x, y, x+unitSize, y+unitSize)
		draw.Draw(img, rect, &image.Uniform{tile}, image.Point{}, draw.Src)

		drawText(img, shortName(unit.CharacterID), x+2, y+unitSize-14, textColor)
		drawText(img, strings.Repeat("*", unit.Stars), x+2, y+unitSize-2, goldColor)
	}

	return gridTop + unitRows(p.Units)*(unitSize+unitGap)
}

// shortName trims the set prefix from character ids like "TFT15_Ahri".
func shortName(characterID string) string {
	if idx := strings.Index(characterID, "_"); idx >= 0 && idx < len(characterID)-1 {
		characterID = characterID[idx+1:]
	}
	if len(characterID) > 7 {
		characterID = characterID[:7]
	}
	return characterID
}

func drawText(img *image.RGBA, text string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
