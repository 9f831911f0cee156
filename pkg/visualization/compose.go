package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay colours for the predicted and ground truth masks.
var (
	PredictionColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	TruthColor      = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

const (
	titleHeight  = 20
	overlayAlpha = 0.5
)

// Overlay tints the pixels of a mask with a colour.
type Overlay struct {
	Mask  *image.Alpha
	Color color.RGBA
}

// Panel is one titled image of a comparison figure.
type Panel struct {
	Title    string
	Base     image.Image
	Overlays []Overlay
}

// Compose lays the panels out left to right, each scaled into a cell x cell
// square under a title bar.
func Compose(panels []Panel, cell int) (*image.RGBA, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("no panels to compose")
	}
	if cell <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %d", cell)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cell*len(panels), cell+titleHeight))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for i, p := range panels {
		rect := image.Rect(i*cell, titleHeight, (i+1)*cell, titleHeight+cell)
		if p.Base != nil {
			draw.ApproxBiLinear.Scale(canvas, rect, p.Base, p.Base.Bounds(), draw.Src, nil)
		}
		for _, o := range p.Overlays {
			if o.Mask == nil {
				continue
			}
			draw.NearestNeighbor.Scale(canvas, rect, tint(o), o.Mask.Bounds(), draw.Over, nil)
		}
		drawTitle(canvas, p.Title, i*cell, cell)
	}
	return canvas, nil
}

// tint returns a translucent colour layer shaped like the mask.
func tint(o Overlay) *image.NRGBA {
	b := o.Mask.Bounds()
	img := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			a := o.Mask.AlphaAt(x, y).A
			if a == 0 {
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: o.Color.R,
				G: o.Color.G,
				B: o.Color.B,
				A: uint8(float64(a) * overlayAlpha),
			})
		}
	}
	return img
}

// drawTitle centres a title in the bar above a cell.
func drawTitle(dst draw.Image, title string, x0, cell int) {
	if title == "" {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(title).Ceil()
	x := x0 + (cell-width)/2
	if x < x0 {
		x = x0
	}
	d.Dot = fixed.P(x, titleHeight-5)
	d.DrawString(title)
}

// SavePNG encodes an image as PNG, creating the parent directory if needed.
// Nothing is left at path when encoding fails.
func SavePNG(img image.Image, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// UniqueFilename returns dir/name_N.png for the smallest N >= 1 that does not exist yet.
func UniqueFilename(dir, name string) string {
	for n := 1; ; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", name, n))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

// SaveComparison composes the panels and writes them to a new file in dir.
// Existing figures are never overwritten.
func SaveComparison(dir, name string, panels []Panel, cell int) (string, error) {
	img, err := Compose(panels, cell)
	if err != nil {
		return "", err
	}
	path := UniqueFilename(dir, name)
	if err := SavePNG(img, path); err != nil {
		return "", fmt.Errorf("failed to save figure: %w", err)
	}
	return path, nil
}
