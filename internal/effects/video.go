package effects

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/domain"
)

// FrameSource yields raw frames from the local video track.
type FrameSource interface {
	ReadFrame() (image.Image, error)
}

// Surface is the compositing sink that replaces the plain preview while
// an effect is active. Hide is called whenever the effect is none or
// the loop stops, so the raw stream shows through again.
type Surface interface {
	Push(*image.RGBA)
	Show()
	Hide()
}

const compositorFPS = 30

// Compositor runs the per-frame render loop for background effects.
// With effect none no loop runs and the surface stays hidden.
type Compositor struct {
	surface Surface
	replace image.Image

	mu      sync.Mutex
	effect  domain.BackgroundEffect
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCompositor renders onto surface; replaceImg is the static
// background used by the replace effect (nil falls back to a flat fill).
// A nil surface renders into the void, which headless setups rely on.
func NewCompositor(surface Surface, replaceImg image.Image) *Compositor {
	if surface == nil {
		surface = nopSurface{}
	}
	return &Compositor{surface: surface, replace: replaceImg, effect: domain.BackgroundNone}
}

type nopSurface struct{}

func (nopSurface) Push(*image.RGBA) {}
func (nopSurface) Show()            {}
func (nopSurface) Hide()            {}

// SetEffect switches the active effect. Changing to none cancels the
// loop; changing between blur and replace restarts it against src.
func (c *Compositor) SetEffect(ctx context.Context, effect domain.BackgroundEffect, src FrameSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.effect = effect
	if effect == domain.BackgroundNone || src == nil {
		c.surface.Hide()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running = true
	c.surface.Show()
	go c.loop(loopCtx, effect, src, done)
	log.Debug().Str("module", "effects.video").Str("effect", string(effect)).Msg("render loop started")
}

// Stop cancels the render loop and hides the surface. Idempotent; part
// of every teardown path.
func (c *Compositor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.effect = domain.BackgroundNone
	c.surface.Hide()
}

func (c *Compositor) stopLocked() {
	if !c.running {
		return
	}
	c.cancel()
	done := c.done
	c.running = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	<-done
	c.mu.Lock()
}

func (c *Compositor) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Compositor) Effect() domain.BackgroundEffect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effect
}

func (c *Compositor) loop(ctx context.Context, effect domain.BackgroundEffect, src FrameSource, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second / compositorFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := src.ReadFrame()
			if err != nil {
				// Source went away (track stopped); the controller will
				// cancel us, keep polling until then.
				continue
			}
			c.surface.Push(c.render(effect, frame))
		}
	}
}

// render draws the frame, then the effect layer at partial opacity.
// Blur smears the whole frame, not a segmented background; replace
// composites the static image over it. Both approximations are the
// contracted behavior.
func (c *Compositor) render(effect domain.BackgroundEffect, frame image.Image) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), frame, b.Min, draw.Src)

	switch effect {
	case domain.BackgroundBlur:
		blurred := boxBlur(out, 12)
		blendOver(out, blurred, 0.7)
	case domain.BackgroundReplace:
		layer := c.replace
		if layer == nil {
			layer = image.NewUniform(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
		}
		blendOver(out, scaleToFit(layer, out.Bounds()), 0.7)
	}
	return out
}

// boxBlur is a single-pass box blur with the given radius, cheap enough
// to run per frame at the compositor rate.
func boxBlur(src *image.RGBA, radius int) *image.RGBA {
	if radius < 1 {
		radius = 1
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	horiz := image.NewRGBA(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, a, n int
			for dx := -radius; dx <= radius; dx++ {
				xx := x + dx
				if xx < 0 || xx >= w {
					continue
				}
				i := src.PixOffset(xx, y)
				r += int(src.Pix[i])
				g += int(src.Pix[i+1])
				bl += int(src.Pix[i+2])
				a += int(src.Pix[i+3])
				n++
			}
			i := horiz.PixOffset(x, y)
			horiz.Pix[i] = uint8(r / n)
			horiz.Pix[i+1] = uint8(g / n)
			horiz.Pix[i+2] = uint8(bl / n)
			horiz.Pix[i+3] = uint8(a / n)
		}
	}
	out := image.NewRGBA(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, a, n int
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				i := horiz.PixOffset(x, yy)
				r += int(horiz.Pix[i])
				g += int(horiz.Pix[i+1])
				bl += int(horiz.Pix[i+2])
				a += int(horiz.Pix[i+3])
				n++
			}
			i := out.PixOffset(x, y)
			out.Pix[i] = uint8(r / n)
			out.Pix[i+1] = uint8(g / n)
			out.Pix[i+2] = uint8(bl / n)
			out.Pix[i+3] = uint8(a / n)
		}
	}
	return out
}

// blendOver mixes layer into dst with the given alpha.
func blendOver(dst *image.RGBA, layer image.Image, alpha float64) {
	b := dst.Bounds()
	lb := layer.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lr, lg, lbv, _ := layer.At(lb.Min.X+x-b.Min.X, lb.Min.Y+y-b.Min.Y).RGBA()
			i := dst.PixOffset(x, y)
			dst.Pix[i] = mix(dst.Pix[i], uint8(lr>>8), alpha)
			dst.Pix[i+1] = mix(dst.Pix[i+1], uint8(lg>>8), alpha)
			dst.Pix[i+2] = mix(dst.Pix[i+2], uint8(lbv>>8), alpha)
		}
	}
}

func mix(under, over uint8, alpha float64) uint8 {
	return uint8(float64(under)*(1-alpha) + float64(over)*alpha)
}

// scaleToFit does nearest-neighbor scaling of src onto bounds.
func scaleToFit(src image.Image, bounds image.Rectangle) *image.RGBA {
	out := image.NewRGBA(bounds)
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return out
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sx := sb.Min.X + (x-bounds.Min.X)*sb.Dx()/bounds.Dx()
			sy := sb.Min.Y + (y-bounds.Min.Y)*sb.Dy()/bounds.Dy()
			out.Set(x, y, src.At(sx, sy))
		}
	}
	return out
}
