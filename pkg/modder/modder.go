// Package modder perturbs one category of simulation parameters each: texture
// and material colors, lights, cameras and dynamics. Every modder snapshots the
// live model with SaveDefaults, writes the snapshot back with RestoreDefaults and
// samples new values around the snapshot with Randomize.
package modder

import (
	"errors"
	"math"
	"math/rand"

	"github.com/boristopalov/simeval/pkg/sim"
)

var ErrNoDefaults = errors.New("defaults not saved")

type base struct {
	sim *sim.Sim
	rng *rand.Rand
}

// UpdateSim points the modder at a new simulation handle. Saved defaults are
// kept; they are applied to whichever handle is current.
func (b *base) UpdateSim(s *sim.Sim) {
	b.sim = s
}

func (b *base) Sim() *sim.Sim {
	return b.sim
}

func (b *base) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*b.rng.Float64()
}

// direction samples a unit vector uniformly on the sphere.
func (b *base) direction() sim.Vec3 {
	for {
		v := sim.Vec3{b.rng.NormFloat64(), b.rng.NormFloat64(), b.rng.NormFloat64()}
		n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
		if n > 1e-9 {
			return sim.Vec3{v[0] / n, v[1] / n, v[2] / n}
		}
	}
}

// jitter moves v by a random direction scaled by size.
func (b *base) jitter(v sim.Vec3, size float64) sim.Vec3 {
	d := b.direction()
	return sim.Vec3{v[0] + d[0]*size, v[1] + d[1]*size, v[2] + d[2]*size}
}

// rotateQuat applies a random rotation of at most maxAngle radians to q.
func (b *base) rotateQuat(q sim.Quat, maxAngle float64) sim.Quat {
	axis := b.direction()
	angle := b.uniform(-maxAngle, maxAngle)
	s := math.Sin(angle / 2)
	delta := sim.Quat{math.Cos(angle / 2), axis[0] * s, axis[1] * s, axis[2] * s}
	return sim.NormalizeQuat(sim.MulQuat(q, delta))
}

// scale multiplies v by (1 + u), u in [-ratio, ratio].
func (b *base) scale(v, ratio float64) float64 {
	return v * (1 + b.uniform(-ratio, ratio))
}

// shift adds u in [-size, size] to v.
func (b *base) shift(v, size float64) float64 {
	return v + b.uniform(-size, size)
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// resolve maps names (nil meaning all) to indices through lookup.
func resolve(names, all []string, lookup func(string) (int, error)) ([]int, error) {
	if names == nil {
		names = all
	}
	ids := make([]int, 0, len(names))
	for _, n := range names {
		id, err := lookup(n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
