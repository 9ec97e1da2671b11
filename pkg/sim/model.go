// Package sim is a small rigid-scene simulator: a parameterised model (geoms,
// materials, textures, lights, cameras, bodies, joints), mutable per-episode data,
// a damped end-effector integrator and a pinhole renderer.
package sim

import (
	"errors"
	"fmt"
)

var ErrUnknownName = errors.New("unknown name")

type Vec3 [3]float64

type Quat [4]float64

type RGB [3]uint8

type TextureKind string

const (
	TextureRGB      TextureKind = "rgb"
	TextureChecker  TextureKind = "checker"
	TextureNoise    TextureKind = "noise"
	TextureGradient TextureKind = "gradient"
)

type Options struct {
	Timestep  float64
	Gravity   Vec3
	Density   float64
	Viscosity float64
}

type Geom struct {
	Name     string
	Body     int // -1 for world geoms
	Pos      Vec3
	Size     Vec3
	RGBA     [4]float64
	Material int // -1 when the geom has no material
	Friction Vec3
	Solref   [2]float64
	Solimp   [3]float64
}

type Material struct {
	Name        string
	RGBA        [4]float64
	Reflectance float64
	Shininess   float64
	Specular    float64
	Texture     int // -1 when untextured
}

type Texture struct {
	Name   string
	Kind   TextureKind
	RGB1   RGB
	RGB2   RGB
	Width  int
	Height int
	Data   []uint8
	Skybox bool
}

type Light struct {
	Name     string
	Pos      Vec3
	Dir      Vec3
	Specular Vec3
	Ambient  Vec3
	Diffuse  Vec3
	Active   bool
}

type Camera struct {
	Name string
	Body int // -1 for world cameras; otherwise Pos is relative to the body
	Pos  Vec3
	Quat Quat
	Fovy float64
}

type Body struct {
	Name    string
	Pos     Vec3
	Quat    Quat
	Mass    float64
	Inertia Vec3
}

type Joint struct {
	Name         string
	Stiffness    float64
	FrictionLoss float64
	Damping      float64
	Armature     float64
}

// Model holds every parameter that randomization may touch. Per-episode state
// lives in Data.
type Model struct {
	Opt       Options
	Geoms     []Geom
	Materials []Material
	Textures  []Texture
	Lights    []Light
	Cameras   []Camera
	Bodies    []Body
	Joints    []Joint
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := &Model{
		Opt:       m.Opt,
		Geoms:     append([]Geom(nil), m.Geoms...),
		Materials: append([]Material(nil), m.Materials...),
		Textures:  make([]Texture, len(m.Textures)),
		Lights:    append([]Light(nil), m.Lights...),
		Cameras:   append([]Camera(nil), m.Cameras...),
		Bodies:    append([]Body(nil), m.Bodies...),
		Joints:    append([]Joint(nil), m.Joints...),
	}
	for i, t := range m.Textures {
		t.Data = append([]uint8(nil), t.Data...)
		c.Textures[i] = t
	}
	return c
}

func (m *Model) GeomID(name string) (int, error) {
	for i := range m.Geoms {
		if m.Geoms[i].Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("geom %q: %w", name, ErrUnknownName)
}

func (m *Model) BodyID(name string) (int, error) {
	for i := range m.Bodies {
		if m.Bodies[i].Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("body %q: %w", name, ErrUnknownName)
}

func (m *Model) CameraID(name string) (int, error) {
	for i := range m.Cameras {
		if m.Cameras[i].Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("camera %q: %w", name, ErrUnknownName)
}

func (m *Model) LightID(name string) (int, error) {
	for i := range m.Lights {
		if m.Lights[i].Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("light %q: %w", name, ErrUnknownName)
}

func (m *Model) JointID(name string) (int, error) {
	for i := range m.Joints {
		if m.Joints[i].Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("joint %q: %w", name, ErrUnknownName)
}

// GeomNames lists geom names in model order.
func (m *Model) GeomNames() []string {
	names := make([]string, len(m.Geoms))
	for i := range m.Geoms {
		names[i] = m.Geoms[i].Name
	}
	return names
}

func (m *Model) CameraNames() []string {
	names := make([]string, len(m.Cameras))
	for i := range m.Cameras {
		names[i] = m.Cameras[i].Name
	}
	return names
}

func (m *Model) LightNames() []string {
	names := make([]string, len(m.Lights))
	for i := range m.Lights {
		names[i] = m.Lights[i].Name
	}
	return names
}

func (m *Model) BodyNames() []string {
	names := make([]string, len(m.Bodies))
	for i := range m.Bodies {
		names[i] = m.Bodies[i].Name
	}
	return names
}

func (m *Model) JointNames() []string {
	names := make([]string, len(m.Joints))
	for i := range m.Joints {
		names[i] = m.Joints[i].Name
	}
	return names
}

// Skybox returns the index of the skybox texture, or -1.
func (m *Model) Skybox() int {
	for i := range m.Textures {
		if m.Textures[i].Skybox {
			return i
		}
	}
	return -1
}

// GeomTexture returns the texture index bound to a geom through its material,
// or -1.
func (m *Model) GeomTexture(id int) int {
	mat := m.Geoms[id].Material
	if mat < 0 || mat >= len(m.Materials) {
		return -1
	}
	return m.Materials[mat].Texture
}

// GeomRGB returns the base 0-255 color of a geom: the primary texture color for
// textured geoms, the geom rgba otherwise.
func (m *Model) GeomRGB(name string) (RGB, error) {
	id, err := m.GeomID(name)
	if err != nil {
		return RGB{}, err
	}
	if tex := m.GeomTexture(id); tex >= 0 {
		return m.Textures[tex].RGB1, nil
	}
	g := m.Geoms[id]
	return RGB{toByte(g.RGBA[0]), toByte(g.RGBA[1]), toByte(g.RGBA[2])}, nil
}

func toByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
