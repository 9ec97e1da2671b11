package sim

import (
	"image"
	"image/color"
	"math"
	"sort"
)

var (
	upNormal  = Vec3{0, 0, 1}
	fallbackC = RGB{90, 90, 90}
)

type splat struct {
	geom   int
	depth  float64
	cx, cy float64
	radius float64
	world  Vec3
}

// Render draws the scene from the named camera into a w x h image. Geoms are
// drawn as depth-sorted discs; colors come from textures, materials and the
// active lights.
func (s *Sim) Render(camera string, w, h int) (*image.RGBA, error) {
	cam, err := s.Model.CameraID(camera)
	if err != nil {
		return nil, err
	}
	c := s.Model.Cameras[cam]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	s.drawSky(img)

	fovy := c.Fovy
	if fovy <= 0 {
		fovy = 45
	}
	focal := (float64(h) / 2) / math.Tan(fovy*math.Pi/360)
	inv := conj(c.Quat)
	camPos := c.Pos
	if c.Body >= 0 && c.Body < len(s.Data.BodyPos) {
		camPos = add(s.Data.BodyPos[c.Body], c.Pos)
	}

	splats := make([]splat, 0, len(s.Model.Geoms))
	for i, g := range s.Model.Geoms {
		world := g.Pos
		if g.Body >= 0 && g.Body < len(s.Data.BodyPos) {
			world = add(s.Data.BodyPos[g.Body], g.Pos)
		}
		local := rotate(inv, sub(world, camPos))
		depth := -local[2]
		if depth <= 1e-6 {
			continue
		}
		splats = append(splats, splat{
			geom:   i,
			depth:  depth,
			cx:     float64(w)/2 + focal*local[0]/depth,
			cy:     float64(h)/2 - focal*local[1]/depth,
			radius: focal * math.Max(g.Size[0], g.Size[1]) / depth,
			world:  world,
		})
	}
	sort.SliceStable(splats, func(i, j int) bool { return splats[i].depth > splats[j].depth })

	for _, sp := range splats {
		s.drawSplat(img, sp)
	}
	return img, nil
}

func (s *Sim) drawSky(img *image.RGBA) {
	b := img.Bounds()
	sky := s.Model.Skybox()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		c := fallbackC
		if sky >= 0 {
			c = s.Model.Textures[sky].At(0.5, float64(y)/float64(b.Dy()))
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{c[0], c[1], c[2], 255})
		}
	}
}

func (s *Sim) drawSplat(img *image.RGBA, sp splat) {
	g := s.Model.Geoms[sp.geom]
	if g.RGBA[3] <= 0 {
		return
	}
	b := img.Bounds()
	r := math.Max(sp.radius, 0.5)
	x0 := clampInt(int(sp.cx-r), b.Min.X, b.Max.X-1)
	x1 := clampInt(int(sp.cx+r), b.Min.X, b.Max.X-1)
	y0 := clampInt(int(sp.cy-r), b.Min.Y, b.Max.Y-1)
	y1 := clampInt(int(sp.cy+r), b.Min.Y, b.Max.Y-1)
	if sp.cx+r < float64(b.Min.X) || sp.cx-r > float64(b.Max.X) || sp.cy+r < float64(b.Min.Y) || sp.cy-r > float64(b.Max.Y) {
		return
	}

	tex := s.Model.GeomTexture(sp.geom)
	var mat *Material
	if g.Material >= 0 && g.Material < len(s.Model.Materials) {
		mat = &s.Model.Materials[g.Material]
	}
	diffuse, specular := s.lighting(sp.world, mat)

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)-sp.cx, float64(y)-sp.cy
			if dx*dx+dy*dy > r*r {
				continue
			}
			base := [3]float64{g.RGBA[0], g.RGBA[1], g.RGBA[2]}
			if tex >= 0 {
				t := s.Model.Textures[tex].At(dx/(2*r)+0.5, dy/(2*r)+0.5)
				base = [3]float64{float64(t[0]) / 255, float64(t[1]) / 255, float64(t[2]) / 255}
				if mat != nil {
					for i := range base {
						base[i] *= mat.RGBA[i]
					}
				}
			}
			var out color.RGBA
			out.A = 255
			for i := 0; i < 3; i++ {
				v := base[i]*diffuse[i] + specular[i]
				if mat != nil {
					v = v*(1-mat.Reflectance) + mat.Reflectance*base[i]
				}
				switch i {
				case 0:
					out.R = toByte(v)
				case 1:
					out.G = toByte(v)
				case 2:
					out.B = toByte(v)
				}
			}
			img.SetRGBA(x, y, out)
		}
	}
}

// lighting returns the per-channel diffuse multiplier and additive specular
// term at a world point with an upward-facing normal.
func (s *Sim) lighting(p Vec3, mat *Material) (Vec3, Vec3) {
	var diff, spec Vec3
	active := 0
	for _, l := range s.Model.Lights {
		if !l.Active {
			continue
		}
		active++
		dir := normalize(l.Dir)
		lambert := math.Max(0, -dot(upNormal, dir))
		d := distance(l.Pos, p)
		atten := 1 / (1 + 0.05*d*d)
		shine := 0.0
		if mat != nil {
			shine = mat.Specular * math.Pow(lambert, 1+mat.Shininess*32)
		}
		for i := 0; i < 3; i++ {
			diff[i] += l.Ambient[i] + l.Diffuse[i]*lambert*atten
			spec[i] += l.Specular[i] * shine * atten
		}
	}
	if active == 0 {
		return Vec3{0.3, 0.3, 0.3}, Vec3{}
	}
	return diff, spec
}

func add(a, b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }

func sub(a, b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func normalize(v Vec3) Vec3 {
	n := math.Sqrt(dot(v, v))
	if n == 0 {
		return Vec3{0, 0, -1}
	}
	return Vec3{v[0] / n, v[1] / n, v[2] / n}
}

func conj(q Quat) Quat { return Quat{q[0], -q[1], -q[2], -q[3]} }

// rotate applies unit quaternion q (w, x, y, z) to v.
func rotate(q Quat, v Vec3) Vec3 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	n := math.Sqrt(w*w + x*x + y*y + z*z)
	if n == 0 {
		return v
	}
	w, x, y, z = w/n, x/n, y/n, z/n
	// t = 2 * cross(q.xyz, v)
	tx := 2 * (y*v[2] - z*v[1])
	ty := 2 * (z*v[0] - x*v[2])
	tz := 2 * (x*v[1] - y*v[0])
	return Vec3{
		v[0] + w*tx + (y*tz - z*ty),
		v[1] + w*ty + (z*tx - x*tz),
		v[2] + w*tz + (x*ty - y*tx),
	}
}

// NormalizeQuat returns q scaled to unit length.
func NormalizeQuat(q Quat) Quat {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return Quat{1, 0, 0, 0}
	}
	return Quat{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// MulQuat returns the Hamilton product a*b.
func MulQuat(a, b Quat) Quat {
	return Quat{
		a[0]*b[0] - a[1]*b[1] - a[2]*b[2] - a[3]*b[3],
		a[0]*b[1] + a[1]*b[0] + a[2]*b[3] - a[3]*b[2],
		a[0]*b[2] - a[1]*b[3] + a[2]*b[0] + a[3]*b[1],
		a[0]*b[3] + a[1]*b[2] - a[2]*b[1] + a[3]*b[0],
	}
}
