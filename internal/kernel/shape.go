// Package kernel holds opaque handles to geometry produced by external CAD
// kernels. Nothing here performs modelling: a Shape carries the serialized
// kernel object plus the metadata the kernel reported for it, and a
// compound only records its located children.
package kernel

import (
	"math"

	"partcad/internal/types"
)

const (
	FormatBrep     = "brep"
	FormatStep     = "step"
	FormatStl      = "stl"
	Format3mf      = "3mf"
	FormatDxf      = "dxf"
	FormatSvg      = "svg"
	FormatCompound = "compound"
)

// BoundingBox is an axis-aligned box. An empty box has Min > Max.
type BoundingBox struct {
	Min types.Vec3
	Max types.Vec3
}

func EmptyBox() BoundingBox {
	inf := math.Inf(1)
	return BoundingBox{Min: types.Vec3{inf, inf, inf}, Max: types.Vec3{-inf, -inf, -inf}}
}

func (b BoundingBox) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

func (b BoundingBox) Size() types.Vec3 {
	if b.IsEmpty() {
		return types.Vec3{}
	}
	return types.Vec3{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

func (b BoundingBox) Extend(p types.Vec3) BoundingBox {
	for i := range 3 {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
	return b
}

func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if o.IsEmpty() {
		return b
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Transform returns the box enclosing the eight transformed corners.
func (b BoundingBox) Transform(loc types.Location) BoundingBox {
	if b.IsEmpty() || loc.IsIdentity() {
		return b
	}
	out := EmptyBox()
	for i := range 8 {
		corner := types.Vec3{
			pick(i&1 == 0, b.Min[0], b.Max[0]),
			pick(i&2 == 0, b.Min[1], b.Max[1]),
			pick(i&4 == 0, b.Min[2], b.Max[2]),
		}
		out = out.Extend(loc.Apply(corner))
	}
	return out
}

func pick(first bool, a, b float64) float64 {
	if first {
		return a
	}
	return b
}

// BoxFromSlice decodes [xmin,ymin,zmin,xmax,ymax,zmax]; anything else is empty.
func BoxFromSlice(values []float64) BoundingBox {
	if len(values) != 6 {
		return EmptyBox()
	}
	return BoundingBox{
		Min: types.Vec3{values[0], values[1], values[2]},
		Max: types.Vec3{values[3], values[4], values[5]},
	}
}

func (b BoundingBox) Slice() []float64 {
	if b.IsEmpty() {
		return nil
	}
	return []float64{b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2]}
}

type Located struct {
	Shape    *Shape
	Name     string
	Location types.Location
}

// Shape is an immutable handle once returned from a materializer.
type Shape struct {
	Format   string
	Data     []byte
	Solids   int
	Box      BoundingBox
	Children []Located
}

func FromPayload(p types.ShapePayload) *Shape {
	return &Shape{
		Format: p.Format,
		Data:   p.Data,
		Solids: p.Solids,
		Box:    BoxFromSlice(p.BBox),
	}
}

func (s *Shape) Payload() types.ShapePayload {
	return types.ShapePayload{Format: s.Format, Data: s.Data, Solids: s.Solids, BBox: s.Box.Slice()}
}

// Compound groups shapes, each at its own location. A compound of nothing
// is a valid empty shape.
func Compound(children ...Located) *Shape {
	out := &Shape{Format: FormatCompound, Box: EmptyBox()}
	for _, child := range children {
		if child.Shape == nil {
			continue
		}
		out.Children = append(out.Children, child)
		out.Solids += child.Shape.SolidCount()
		out.Box = out.Box.Union(child.Shape.Box.Transform(child.Location))
	}
	return out
}

// FromPayloads wraps a script's output. A single shape is returned as is.
func FromPayloads(payloads []types.ShapePayload) *Shape {
	if len(payloads) == 1 {
		return FromPayload(payloads[0])
	}
	children := make([]Located, 0, len(payloads))
	for _, payload := range payloads {
		children = append(children, Located{Shape: FromPayload(payload), Location: types.IdentityLocation()})
	}
	return Compound(children...)
}

// SolidCount is the number of solids reported for the shape, including
// those of located children.
func (s *Shape) SolidCount() int {
	if s == nil {
		return 0
	}
	return s.Solids
}

func (s *Shape) IsEmpty() bool {
	return s == nil || (len(s.Data) == 0 && len(s.Children) == 0)
}

// Leaves flattens a compound into its non-compound shapes with composed
// locations.
func (s *Shape) Leaves() []Located {
	var out []Located
	var walk func(shape *Shape, name string, loc types.Location)
	walk = func(shape *Shape, name string, loc types.Location) {
		if shape == nil {
			return
		}
		if shape.Format != FormatCompound {
			out = append(out, Located{Shape: shape, Name: name, Location: loc})
			return
		}
		for _, child := range shape.Children {
			walk(child.Shape, child.Name, loc.Compose(child.Location))
		}
	}
	walk(s, "", types.IdentityLocation())
	return out
}
