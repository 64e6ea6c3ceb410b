package types

import (
	"fmt"
	"math"
)

type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{v[0] * f, v[1] * f, v[2] * f} }

func (v Vec3) Norm() float64 { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }

func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{0, 0, 1}
	}
	return v.Scale(1 / n)
}

// Location is a rigid placement encoded as translation, rotation axis and
// rotation angle in degrees. The zero value with a zero angle is identity.
type Location struct {
	Translation Vec3
	Axis        Vec3
	Angle       float64
}

func IdentityLocation() Location {
	return Location{Axis: Vec3{0, 0, 1}}
}

func (l Location) IsIdentity() bool {
	return l.Translation == (Vec3{}) && math.Abs(math.Mod(l.Angle, 360)) < 1e-9
}

// Compose returns l∘other: other is applied first, then l.
func (l Location) Compose(other Location) Location {
	qa := quatFromAxisAngle(l.Axis, l.Angle)
	qb := quatFromAxisAngle(other.Axis, other.Angle)
	q := qa.mul(qb)
	axis, angle := q.axisAngle()
	return Location{
		Translation: l.Translation.Add(qa.rotate(other.Translation)),
		Axis:        axis,
		Angle:       angle,
	}
}

func (l Location) Apply(p Vec3) Vec3 {
	return quatFromAxisAngle(l.Axis, l.Angle).rotate(p).Add(l.Translation)
}

// List renders the location in manifest form [[x,y,z],[ax,ay,az],deg].
func (l Location) List() []any {
	return []any{
		[]any{l.Translation[0], l.Translation[1], l.Translation[2]},
		[]any{l.Axis[0], l.Axis[1], l.Axis[2]},
		l.Angle,
	}
}

func (l Location) String() string {
	return fmt.Sprintf("[%g,%g,%g] rot %g° about [%g,%g,%g]",
		l.Translation[0], l.Translation[1], l.Translation[2], l.Angle, l.Axis[0], l.Axis[1], l.Axis[2])
}

// ParseLocation accepts nil (identity) or [[x,y,z],[ax,ay,az],angle].
func ParseLocation(raw any) (Location, error) {
	if raw == nil {
		return IdentityLocation(), nil
	}
	items, ok := raw.([]any)
	if !ok {
		return Location{}, fmt.Errorf("location must be a list, got %T", raw)
	}
	if len(items) == 0 {
		return IdentityLocation(), nil
	}
	if len(items) != 3 {
		return Location{}, fmt.Errorf("location must have 3 elements, got %d", len(items))
	}
	translation, err := parseVec3(items[0])
	if err != nil {
		return Location{}, fmt.Errorf("location translation: %w", err)
	}
	axis, err := parseVec3(items[1])
	if err != nil {
		return Location{}, fmt.Errorf("location axis: %w", err)
	}
	angle, ok := ToFloat(items[2])
	if !ok {
		return Location{}, fmt.Errorf("location angle must be numeric, got %T", items[2])
	}
	if axis.Norm() == 0 {
		if angle != 0 {
			return Location{}, fmt.Errorf("location axis must be non-zero")
		}
		axis = Vec3{0, 0, 1}
	}
	return Location{Translation: translation, Axis: axis, Angle: angle}, nil
}

func parseVec3(raw any) (Vec3, error) {
	items, ok := raw.([]any)
	if !ok || len(items) != 3 {
		return Vec3{}, fmt.Errorf("expected a 3-vector, got %v", raw)
	}
	var out Vec3
	for i, item := range items {
		value, ok := ToFloat(item)
		if !ok {
			return Vec3{}, fmt.Errorf("component %d is not numeric: %v", i, item)
		}
		out[i] = value
	}
	return out, nil
}

type quat struct{ w, x, y, z float64 }

func quatFromAxisAngle(axis Vec3, deg float64) quat {
	if deg == 0 {
		return quat{w: 1}
	}
	a := axis.Normalize()
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return quat{w: math.Cos(half), x: a[0] * s, y: a[1] * s, z: a[2] * s}
}

func (q quat) mul(o quat) quat {
	return quat{
		w: q.w*o.w - q.x*o.x - q.y*o.y - q.z*o.z,
		x: q.w*o.x + q.x*o.w + q.y*o.z - q.z*o.y,
		y: q.w*o.y - q.x*o.z + q.y*o.w + q.z*o.x,
		z: q.w*o.z + q.x*o.y - q.y*o.x + q.z*o.w,
	}
}

func (q quat) rotate(v Vec3) Vec3 {
	p := quat{x: v[0], y: v[1], z: v[2]}
	r := q.mul(p).mul(quat{w: q.w, x: -q.x, y: -q.y, z: -q.z})
	return Vec3{r.x, r.y, r.z}
}

func (q quat) axisAngle() (Vec3, float64) {
	if q.w < 0 {
		q = quat{w: -q.w, x: -q.x, y: -q.y, z: -q.z}
	}
	w := math.Min(1, q.w)
	s := math.Sqrt(1 - w*w)
	if s < 1e-12 {
		return Vec3{0, 0, 1}, 0
	}
	return Vec3{q.x / s, q.y / s, q.z / s}, 2 * math.Acos(w) * 180 / math.Pi
}
