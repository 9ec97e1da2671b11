package tasks

import "github.com/boristopalov/simeval/pkg/sim"

// Named colors, see www.rapidtables.com/web/color/RGB_Color.html
var (
	BurlyWood     = sim.RGB{222, 184, 135}
	Sienna        = sim.RGB{160, 82, 45}
	DodgerBlue    = sim.RGB{30, 144, 255}
	DimGray       = sim.RGB{105, 105, 105}
	Beige         = sim.RGB{245, 245, 220}
	Tan           = sim.RGB{210, 180, 140}
	Wheat         = sim.RGB{245, 222, 179}
	DarkSlateGray = sim.RGB{47, 79, 79}
	LimeGreen     = sim.RGB{50, 205, 50}
	Silver        = sim.RGB{192, 192, 192}
	Maroon        = sim.RGB{128, 0, 0}
	FloralWhite   = sim.RGB{255, 250, 240}
	Azure         = sim.RGB{240, 255, 255}
	Black         = sim.RGB{0, 0, 0}
)

var palette = map[string]sim.RGB{
	"burly_wood":      BurlyWood,
	"sienna":          Sienna,
	"dodger_blue":     DodgerBlue,
	"dim_gray":        DimGray,
	"beige":           Beige,
	"tan":             Tan,
	"wheat":           Wheat,
	"dark_slate_gray": DarkSlateGray,
	"lime_green":      LimeGreen,
	"silver":          Silver,
	"maroon":          Maroon,
	"floral_white":    FloralWhite,
	"azure":           Azure,
	"black":           Black,
}

// Color resolves a palette name.
func Color(name string) (sim.RGB, bool) {
	c, ok := palette[name]
	return c, ok
}
