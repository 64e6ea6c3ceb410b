package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/hpinc/go3mf"
	"github.com/rs/zerolog/log"

	"partcad/internal/kernel"
	"partcad/internal/ports"
	"partcad/internal/types"
)

// ShapeFileAdapter loads file-backed parts and sketches. The file content
// is kept verbatim; only solids and extents are inspected.
type ShapeFileAdapter struct{}

var _ ports.ShapeFilePort = ShapeFileAdapter{}

func NewShapeFileAdapter() ShapeFileAdapter {
	return ShapeFileAdapter{}
}

func (a ShapeFileAdapter) ReadShapeFile(ctx context.Context, kind types.FactoryType, path string) (*kernel.Shape, error) {
	if kind == types.FactoryType3mf {
		return read3MF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("shape file %s not found", path)).
			WithCause(err)
	}
	var shape *kernel.Shape
	switch kind {
	case types.FactoryTypeStep:
		shape, err = parseStep(data)
	case types.FactoryTypeStl:
		shape, err = parseStl(data)
	case types.FactoryTypeBrep:
		shape = parseBrep(data)
	case types.FactoryTypeDxf:
		shape = &kernel.Shape{Format: kernel.FormatDxf, Data: data, Box: kernel.EmptyBox()}
	case types.FactoryTypeSvg:
		shape = &kernel.Shape{Format: kernel.FormatSvg, Data: data, Box: kernel.EmptyBox()}
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s is not a file-backed type", kind))
	}
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to parse %s", path)).
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("path", path).Int("solids", shape.Solids).Msg("loaded shape file")
	return shape, nil
}

var (
	stepHeader = []byte("ISO-10303-21")
	stepPoint  = regexp.MustCompile(`CARTESIAN_POINT\s*\(\s*'[^']*'\s*,\s*\(([^)]*)\)\s*\)`)
)

func parseStep(data []byte) (*kernel.Shape, error) {
	if !bytes.Contains(data[:min(len(data), 256)], stepHeader) {
		return nil, fmt.Errorf("missing %s header", stepHeader)
	}
	upper := bytes.ToUpper(data)
	solids := bytes.Count(upper, []byte("MANIFOLD_SOLID_BREP")) + bytes.Count(upper, []byte("BREP_WITH_VOIDS"))
	box := kernel.EmptyBox()
	for _, match := range stepPoint.FindAllSubmatch(upper, -1) {
		if point, ok := parseVec(strings.Split(string(match[1]), ",")); ok {
			box = box.Extend(point)
		}
	}
	return &kernel.Shape{Format: kernel.FormatStep, Data: data, Solids: solids, Box: box}, nil
}

func parseVec(fields []string) (types.Vec3, bool) {
	var out types.Vec3
	if len(fields) < 3 {
		return out, false
	}
	for i := range 3 {
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return out, false
		}
		out[i] = value
	}
	return out, true
}

func parseStl(data []byte) (*kernel.Shape, error) {
	if len(data) >= 84 {
		triangles := binary.LittleEndian.Uint32(data[80:84])
		if uint64(len(data)) == 84+uint64(triangles)*50 {
			return parseBinaryStl(data, int(triangles)), nil
		}
	}
	return parseASCIIStl(data)
}

func parseBinaryStl(data []byte, triangles int) *kernel.Shape {
	box := kernel.EmptyBox()
	for i := range triangles {
		record := data[84+i*50:]
		for v := range 3 {
			offset := 12 + v*12
			box = box.Extend(types.Vec3{
				float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset:]))),
				float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset+4:]))),
				float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset+8:]))),
			})
		}
	}
	solids := 0
	if triangles > 0 {
		solids = 1
	}
	return &kernel.Shape{Format: kernel.FormatStl, Data: data, Solids: solids, Box: box}
}

func parseASCIIStl(data []byte) (*kernel.Shape, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return nil, fmt.Errorf("neither binary nor ascii stl")
	}
	box := kernel.EmptyBox()
	solids := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "solid":
			solids++
		case "vertex":
			point, ok := parseVec(fields[1:])
			if !ok {
				return nil, fmt.Errorf("bad vertex %q", scanner.Text())
			}
			box = box.Extend(point)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &kernel.Shape{Format: kernel.FormatStl, Data: data, Solids: solids, Box: box}, nil
}

// parseBrep counts solid records in the TShapes section of an OCCT text
// BREP file.
func parseBrep(data []byte) *kernel.Shape {
	solids := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "So" {
			solids++
		}
	}
	return &kernel.Shape{Format: kernel.FormatBrep, Data: data, Solids: solids, Box: kernel.EmptyBox()}
}

func read3MF(path string) (*kernel.Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("shape file %s not found", path)).
			WithCause(err)
	}
	reader, err := go3mf.OpenReader(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to open %s", path)).
			WithCause(err)
	}
	defer reader.Close()
	var model go3mf.Model
	if err := reader.Decode(&model); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to decode %s", path)).
			WithCause(err)
	}
	solids := 0
	for _, object := range model.Resources.Objects {
		if object.Mesh != nil {
			solids++
		}
	}
	return &kernel.Shape{Format: kernel.Format3mf, Data: data, Solids: solids, Box: kernel.EmptyBox()}, nil
}
