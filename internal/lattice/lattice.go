// Package lattice implements the 3-D wrap-around spatial index (spec.md
// section 4.B): a toroidal cube of fixed dimensions where each voxel holds
// a bounded, order-preserving sequence of occupants.
package lattice

import "errors"

// ErrFullVoxel is returned by Insert when the target voxel already holds
// its capacity of occupants.
var ErrFullVoxel = errors.New("lattice: voxel full")

// ErrNotFound is returned by Remove when the occupant is not present at
// the given coordinates.
var ErrNotFound = errors.New("lattice: occupant not found in voxel")

// Coord is a lattice coordinate triple, pre-wrap.
type Coord struct {
	X, Y, Z int
}

// Lattice is a W x H x D toroidal grid, capacity C occupants per voxel.
// Occupants are identified by an opaque uint32 (typically a process id);
// the lattice itself never allocates beyond its fixed [W*H*D*C] backing
// array.
type Lattice struct {
	W, H, D int
	Cap     int

	// voxels[i] is a bounded, order-preserving slice-of-a-fixed-array for
	// voxel i (linearized x + y*W + z*W*H). len(voxels[i]) is the live
	// occupant count; cap is always Cap.
	voxels [][]uint32

	total int
}

// Wrap maps v into [0, n) the way spec.md 4.B requires: ((v mod n) + n) mod n.
func Wrap(v, n int) int {
	m := v % n
	if m < 0 {
		m += n
	}
	return m
}

// New builds a w x h x d lattice where each voxel holds up to capacity
// occupants.
func New(w, h, d, capacity int) *Lattice {
	if w <= 0 || h <= 0 || d <= 0 || capacity <= 0 {
		panic("lattice: dimensions and capacity must be positive")
	}
	l := &Lattice{W: w, H: h, D: d, Cap: capacity}
	l.voxels = make([][]uint32, w*h*d)
	for i := range l.voxels {
		l.voxels[i] = make([]uint32, 0, capacity)
	}
	return l
}

func (l *Lattice) index(x, y, z int) int {
	wx := Wrap(x, l.W)
	wy := Wrap(y, l.H)
	wz := Wrap(z, l.D)
	return wx + wy*l.W + wz*l.W*l.H
}

// NodeID encodes (x,y,z) into the single integer the event queue uses for
// dst_node/src_node, wrapping coordinates first (spec.md section 3: "dst_node
// and src_node encode coordinates into a single integer").
func (l *Lattice) NodeID(x, y, z int) uint64 { return uint64(l.index(x, y, z)) }

// DecodeNode reverses NodeID.
func (l *Lattice) DecodeNode(id uint64) (x, y, z int) {
	i := int(id)
	x = i % l.W
	y = (i / l.W) % l.H
	z = i / (l.W * l.H)
	return
}

// Neighbors returns the 6 face-adjacent node ids of (x,y,z) on the torus,
// the canonical edge set the runtime wires into the delay map at setup
// (spec.md section 4.D propagation via "outgoing edges of dst_node").
func (l *Lattice) Neighbors(x, y, z int) []uint64 {
	deltas := [6][3]int{
		{1, 0, 0}, {-1, 0, 0},
		{0, 1, 0}, {0, -1, 0},
		{0, 0, 1}, {0, 0, -1},
	}
	out := make([]uint64, 0, 6)
	for _, d := range deltas {
		out = append(out, l.NodeID(x+d[0], y+d[1], z+d[2]))
	}
	return out
}

// Insert places obj into the voxel at (x,y,z), wrapping coordinates first.
func (l *Lattice) Insert(obj uint32, x, y, z int) error {
	i := l.index(x, y, z)
	v := l.voxels[i]
	if len(v) >= l.Cap {
		return ErrFullVoxel
	}
	l.voxels[i] = append(v, obj)
	l.total++
	return nil
}

// Remove deletes the first occurrence of obj from the voxel at (x,y,z),
// preserving the relative order of the remaining occupants.
func (l *Lattice) Remove(obj uint32, x, y, z int) error {
	i := l.index(x, y, z)
	v := l.voxels[i]
	for j, o := range v {
		if o == obj {
			l.voxels[i] = append(v[:j], v[j+1:]...)
			l.total--
			return nil
		}
	}
	return ErrNotFound
}

// IterateVoxel returns a copy of the bounded occupant sequence at (x,y,z).
// A copy is returned (not a reference into the internal backing array) so
// callers can safely range over it while mutating the lattice elsewhere.
func (l *Lattice) IterateVoxel(x, y, z int) []uint32 {
	i := l.index(x, y, z)
	v := l.voxels[i]
	out := make([]uint32, len(v))
	copy(out, v)
	return out
}

// Occupancy returns the number of occupants currently at (x,y,z).
func (l *Lattice) Occupancy(x, y, z int) int {
	return len(l.voxels[l.index(x, y, z)])
}

// Total returns the sum of all voxel occupancies, i.e. the left side of
// the lattice conservation invariant (spec.md section 8, property 2).
func (l *Lattice) Total() int { return l.total }

// Reset empties every voxel in place without shrinking the backing
// array, used by the reconstructor when an instance is declared failed
// (spec.md 4.H: "reset arenas in place... no deallocation").
func (l *Lattice) Reset() {
	for i := range l.voxels {
		l.voxels[i] = l.voxels[i][:0]
	}
	l.total = 0
}

// BoundaryFace samples one face of the cube (z==0, the "front" face) in
// row-major (x + y*W) order, used by the projection codec to fill the
// fixed 1024-cell boundary sample (spec.md section 3). Each sampled cell
// holds the occupant count at that (x,y,0) voxel, clamped into a uint32.
func (l *Lattice) BoundaryFace() []uint32 {
	out := make([]uint32, l.W*l.H)
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			out[x+y*l.W] = uint32(l.Occupancy(x, y, 0))
		}
	}
	return out
}

// OpposingFaceValue mirrors a boundary-face cell index onto this lattice's
// coordinates, used by the constraint engine (spec.md 4.G) to read "this
// instance's corresponding boundary cell" for a constraint received from a
// peer: the peer's face index decodes to (x,y) on the shared convention,
// and the local instance reads the same (x,y,0) voxel occupancy.
func (l *Lattice) OpposingFaceValue(cellIndex int) (x, y, value int) {
	if l.W == 0 {
		return 0, 0, 0
	}
	x = cellIndex % l.W
	y = (cellIndex / l.W) % l.H
	return x, y, l.Occupancy(x, y, 0)
}
