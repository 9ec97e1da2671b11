package sim

import "math/rand"

// Fill regenerates the texture's pixel data from its kind and colors. Noise
// textures draw from rng; a nil rng leaves noise pixels at RGB1.
func (t *Texture) Fill(rng *rand.Rand) {
	if t.Width <= 0 || t.Height <= 0 {
		t.Width, t.Height = 8, 8
	}
	n := t.Width * t.Height * 3
	if len(t.Data) != n {
		t.Data = make([]uint8, n)
	}
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			var c RGB
			switch t.Kind {
			case TextureChecker:
				if (x/2+y/2)%2 == 0 {
					c = t.RGB1
				} else {
					c = t.RGB2
				}
			case TextureGradient:
				f := float64(y) / float64(max(t.Height-1, 1))
				c = mixRGB(t.RGB1, t.RGB2, f)
			case TextureNoise:
				c = t.RGB1
				if rng != nil && rng.Float64() < 0.5 {
					c = t.RGB2
				}
			default:
				c = t.RGB1
			}
			i := (y*t.Width + x) * 3
			t.Data[i], t.Data[i+1], t.Data[i+2] = c[0], c[1], c[2]
		}
	}
}

// At samples the texture at normalised coordinates u, v in [0, 1).
func (t *Texture) At(u, v float64) RGB {
	if len(t.Data) < t.Width*t.Height*3 || t.Width == 0 || t.Height == 0 {
		return t.RGB1
	}
	x := clampInt(int(u*float64(t.Width)), 0, t.Width-1)
	y := clampInt(int(v*float64(t.Height)), 0, t.Height-1)
	i := (y*t.Width + x) * 3
	return RGB{t.Data[i], t.Data[i+1], t.Data[i+2]}
}

func mixRGB(a, b RGB, f float64) RGB {
	var c RGB
	for i := range c {
		c[i] = uint8(float64(a[i])*(1-f) + float64(b[i])*f + 0.5)
	}
	return c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
