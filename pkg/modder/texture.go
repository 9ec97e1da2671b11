package modder

import (
	"fmt"
	"math/rand"

	"github.com/boristopalov/simeval/pkg/sim"
)

type ColorArgs struct {
	// GeomNames limits randomization; nil randomizes every geom.
	GeomNames []string `yaml:"geom_names" mapstructure:"geom_names"`
	// RandomizeLocal samples colors near the saved defaults.
	RandomizeLocal bool `yaml:"randomize_local" mapstructure:"randomize_local"`
	// RandomizeMaterial perturbs reflectance, shininess and specular.
	RandomizeMaterial          bool              `yaml:"randomize_material" mapstructure:"randomize_material"`
	LocalRGBInterpolation      float64           `yaml:"local_rgb_interpolation" mapstructure:"local_rgb_interpolation"`
	LocalMaterialInterpolation float64           `yaml:"local_material_interpolation" mapstructure:"local_material_interpolation"`
	TextureVariations          []sim.TextureKind `yaml:"texture_variations" mapstructure:"texture_variations"`
	RandomizeSkybox            bool              `yaml:"randomize_skybox" mapstructure:"randomize_skybox"`
}

func DefaultColorArgs() ColorArgs {
	return ColorArgs{
		GeomNames:                  nil,
		RandomizeLocal:             true,
		RandomizeMaterial:          true,
		LocalRGBInterpolation:      0.2,
		LocalMaterialInterpolation: 0.3,
		TextureVariations:          []sim.TextureKind{sim.TextureRGB, sim.TextureChecker, sim.TextureNoise, sim.TextureGradient},
		RandomizeSkybox:            true,
	}
}

type geomDefaults struct {
	geom     int
	rgba     [4]float64
	material *sim.Material
	texture  *sim.Texture
	texID    int
}

// TextureModder owns geom colors, material finish and texture patterns.
type TextureModder struct {
	base
	args     ColorArgs
	defaults []geomDefaults
	skybox   *sim.Texture
	skyID    int
	saved    bool
}

func NewTextureModder(s *sim.Sim, rng *rand.Rand, args ColorArgs) *TextureModder {
	return &TextureModder{
		base:  base{sim: s, rng: rng},
		args:  args,
		skyID: -1,
	}
}

// SetRGB hard-sets a geom color. Textured geoms get a flat texture of that
// color.
func (m *TextureModder) SetRGB(name string, rgb sim.RGB) error {
	model := m.sim.Model
	id, err := model.GeomID(name)
	if err != nil {
		return fmt.Errorf("set_rgb: %w", err)
	}
	if tex := model.GeomTexture(id); tex >= 0 {
		t := &model.Textures[tex]
		t.Kind = sim.TextureRGB
		t.RGB1, t.RGB2 = rgb, rgb
		t.Fill(nil)
		return nil
	}
	g := &model.Geoms[id]
	g.RGBA[0] = float64(rgb[0]) / 255
	g.RGBA[1] = float64(rgb[1]) / 255
	g.RGBA[2] = float64(rgb[2]) / 255
	return nil
}

// GetRGB returns the geom color as set by SetRGB.
func (m *TextureModder) GetRGB(name string) (sim.RGB, error) {
	return m.sim.Model.GeomRGB(name)
}

func (m *TextureModder) SaveDefaults() error {
	model := m.sim.Model
	ids, err := resolve(m.args.GeomNames, model.GeomNames(), model.GeomID)
	if err != nil {
		return fmt.Errorf("texture modder: %w", err)
	}
	m.defaults = m.defaults[:0]
	for _, id := range ids {
		d := geomDefaults{geom: id, rgba: model.Geoms[id].RGBA, texID: -1}
		if mat := model.Geoms[id].Material; mat >= 0 {
			cp := model.Materials[mat]
			d.material = &cp
		}
		if tex := model.GeomTexture(id); tex >= 0 {
			cp := model.Textures[tex]
			cp.Data = append([]uint8(nil), cp.Data...)
			d.texture, d.texID = &cp, tex
		}
		m.defaults = append(m.defaults, d)
	}
	m.skybox, m.skyID = nil, model.Skybox()
	if m.skyID >= 0 {
		cp := model.Textures[m.skyID]
		cp.Data = append([]uint8(nil), cp.Data...)
		m.skybox = &cp
	}
	m.saved = true
	return nil
}

func (m *TextureModder) RestoreDefaults() error {
	if !m.saved {
		return fmt.Errorf("texture modder: %w", ErrNoDefaults)
	}
	model := m.sim.Model
	for _, d := range m.defaults {
		if d.geom >= len(model.Geoms) {
			return fmt.Errorf("texture modder: geom %d: %w", d.geom, sim.ErrUnknownName)
		}
		model.Geoms[d.geom].RGBA = d.rgba
		if d.material != nil {
			model.Materials[model.Geoms[d.geom].Material] = *d.material
		}
		if d.texture != nil {
			t := *d.texture
			t.Data = append([]uint8(nil), t.Data...)
			model.Textures[d.texID] = t
		}
	}
	if m.skybox != nil && m.skyID < len(model.Textures) {
		t := *m.skybox
		t.Data = append([]uint8(nil), t.Data...)
		model.Textures[m.skyID] = t
	}
	return nil
}

func (m *TextureModder) Randomize() error {
	if !m.saved {
		return fmt.Errorf("texture modder: %w", ErrNoDefaults)
	}
	model := m.sim.Model
	for _, d := range m.defaults {
		if d.texture != nil {
			m.randomizeTexture(&model.Textures[d.texID], d.texture)
		} else {
			g := &model.Geoms[d.geom]
			rgb := m.sampleRGB(toRGB(d.rgba))
			g.RGBA[0] = float64(rgb[0]) / 255
			g.RGBA[1] = float64(rgb[1]) / 255
			g.RGBA[2] = float64(rgb[2]) / 255
		}
		if m.args.RandomizeMaterial && d.material != nil {
			mat := &model.Materials[model.Geoms[d.geom].Material]
			mat.Reflectance = m.sampleUnit(d.material.Reflectance)
			mat.Shininess = m.sampleUnit(d.material.Shininess)
			mat.Specular = m.sampleUnit(d.material.Specular)
		}
	}
	if m.args.RandomizeSkybox && m.skybox != nil {
		m.randomizeTexture(&model.Textures[m.skyID], m.skybox)
	}
	return nil
}

func (m *TextureModder) randomizeTexture(t, def *sim.Texture) {
	if len(m.args.TextureVariations) > 0 {
		t.Kind = m.args.TextureVariations[m.rng.Intn(len(m.args.TextureVariations))]
	}
	t.RGB1 = m.sampleRGB(def.RGB1)
	t.RGB2 = m.sampleRGB(def.RGB2)
	t.Fill(m.rng)
}

func (m *TextureModder) sampleRGB(def sim.RGB) sim.RGB {
	var c sim.RGB
	for i := range c {
		if m.args.RandomizeLocal {
			delta := m.uniform(-m.args.LocalRGBInterpolation, m.args.LocalRGBInterpolation) * 255
			c[i] = uint8(clip(float64(def[i])+delta, 0, 255) + 0.5)
		} else {
			c[i] = uint8(m.rng.Intn(256))
		}
	}
	return c
}

func (m *TextureModder) sampleUnit(def float64) float64 {
	if m.args.RandomizeLocal {
		return clip(def+m.uniform(-m.args.LocalMaterialInterpolation, m.args.LocalMaterialInterpolation), 0, 1)
	}
	return m.rng.Float64()
}

func toRGB(rgba [4]float64) sim.RGB {
	var c sim.RGB
	for i := range c {
		c[i] = uint8(clip(rgba[i], 0, 1)*255 + 0.5)
	}
	return c
}
