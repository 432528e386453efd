package cache

import (
	"math"

	"navtile/common"
)

const isectEps = 1e-6

// isectSegAABB is a slab test of segment sp->sq against an axis-aligned box.
func isectSegAABB(sp, sq, amin, amax []float32) (tmin, tmax float32, hit bool) {
	var d [3]float32
	common.Vsub(d[:], sq, sp)
	tmin = 0
	tmax = math.MaxFloat32

	for i := 0; i < 3; i++ {
		if common.Abs(d[i]) < isectEps {
			if sp[i] < amin[i] || sp[i] > amax[i] {
				return 0, 0, false
			}
			continue
		}
		ood := 1.0 / d[i]
		t1 := (amin[i] - sp[i]) * ood
		t2 := (amax[i] - sp[i]) * ood
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, 0, false
		}
	}
	return tmin, tmax, true
}

// HitTestObstacle returns the live obstacle nearest along the segment, or 0.
// Ties on entry distance keep the first obstacle tested.
func (tc *TileCache) HitTestObstacle(sp, sq []float32) ObstacleRef {
	tmin := float32(math.MaxFloat32)
	var best *Obstacle
	for i := range tc.obstacles {
		ob := &tc.obstacles[i]
		if ob.state == ObstacleEmpty {
			continue
		}
		var bmin, bmax [3]float32
		ob.bounds(&bmin, &bmax)
		if t0, _, hit := isectSegAABB(sp, sq, bmin[:], bmax[:]); hit && t0 < tmin {
			tmin = t0
			best = ob
		}
	}
	return tc.obstacleRef(best)
}

// HitTestConnection returns the live off-mesh connection whose nearer endpoint
// is closest to pos within its pickup radius, or 0.
func (tc *TileCache) HitTestConnection(pos []float32) uint32 {
	bestDist := float32(math.MaxFloat32)
	bestID := uint32(0)
	for i := range tc.conns {
		cn := &tc.conns[i]
		if cn.state == ConnEmpty {
			continue
		}
		d := common.Min(
			common.VdistSqr(pos, cn.seed.Start[:]),
			common.VdistSqr(pos, cn.seed.End[:]))
		if d > cn.seed.Radius*cn.seed.Radius {
			continue
		}
		if d < bestDist {
			bestDist = d
			bestID = cn.id
		}
	}
	return bestID
}
