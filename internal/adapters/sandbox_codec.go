package adapters

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"reflect"

	"github.com/ugorji/go/codec"

	"partcad/internal/types"
)

// The sandbox wire format is msgpack framed as base64 text, so that the
// child's stdout can be treated as a single line.

type shapeRequestWire struct {
	Kernel          string               `codec:"kernel"`
	BuildParameters map[string]any       `codec:"build_parameters"`
	Patch           map[string]string    `codec:"patch"`
	Inputs          []types.ShapePayload `codec:"inputs"`
}

type shapeResponseWire struct {
	Success   bool                 `codec:"success"`
	Shapes    []types.ShapePayload `codec:"shapes"`
	Exception string               `codec:"exception"`
}

type providerRequestWire struct {
	Action     string           `codec:"action"`
	Cart       []types.CartItem `codec:"cart"`
	QoS        string           `codec:"qos"`
	Parameters map[string]any   `codec:"parameters"`
}

type providerResponseWire struct {
	Output    map[string]any `codec:"output"`
	Exception string         `codec:"exception"`
}

type SandboxCodec struct {
	handle *codec.MsgpackHandle
}

func NewSandboxCodec() SandboxCodec {
	handle := &codec.MsgpackHandle{}
	handle.WriteExt = true
	handle.RawToString = true
	handle.MapType = reflect.TypeOf(map[string]any(nil))
	return SandboxCodec{handle: handle}
}

func (c SandboxCodec) Encode(v any) ([]byte, error) {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, c.handle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (c SandboxCodec) Decode(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty response")
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(raw, trimmed)
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	if err := codec.NewDecoderBytes(raw[:n], c.handle).Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

func (c SandboxCodec) EncodeShapeRequest(req types.ShapeScriptRequest) ([]byte, error) {
	params := req.BuildParameters
	if params == nil {
		params = map[string]any{}
	}
	patch := req.Patch
	if patch == nil {
		patch = map[string]string{}
	}
	return c.Encode(shapeRequestWire{
		Kernel:          string(req.Kernel),
		BuildParameters: params,
		Patch:           patch,
		Inputs:          req.Inputs,
	})
}

func (c SandboxCodec) DecodeShapeResponse(data []byte) (types.ShapeScriptResult, error) {
	var wire shapeResponseWire
	if err := c.Decode(data, &wire); err != nil {
		return types.ShapeScriptResult{}, err
	}
	return types.ShapeScriptResult{Success: wire.Success, Shapes: wire.Shapes, Exception: wire.Exception}, nil
}

func (c SandboxCodec) EncodeProviderRequest(req types.ProviderScriptRequest) ([]byte, error) {
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return c.Encode(providerRequestWire{
		Action:     string(req.Action),
		Cart:       req.Cart,
		QoS:        req.QoS,
		Parameters: params,
	})
}

func (c SandboxCodec) DecodeProviderResponse(data []byte) (types.ProviderScriptResult, error) {
	var wire providerResponseWire
	if err := c.Decode(data, &wire); err != nil {
		return types.ProviderScriptResult{}, err
	}
	return types.ProviderScriptResult{Output: wire.Output, Exception: wire.Exception}, nil
}
