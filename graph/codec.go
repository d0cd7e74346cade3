package graph

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts object attributes to and from stored bytes. Attribute
// values follow structpb.NewValue: numbers decode as float64.
type Codec interface {
	Name() string
	Encode(attrs map[string]any) ([]byte, error)
	Decode(data []byte) (map[string]any, error)
}

// ProtoCodec stores attributes as binary google.protobuf.Struct messages.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Encode(attrs map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAttributes, err)
	}
	return proto.Marshal(s)
}

func (ProtoCodec) Decode(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return s.AsMap(), nil
}

// JSONCodec stores attributes as protojson, readable with ordinary tools.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(attrs map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAttributes, err)
	}
	return protojson.Marshal(s)
}

func (JSONCodec) Decode(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return s.AsMap(), nil
}

// CodecByName returns the codec registered under name. An empty name selects
// ProtoCodec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "proto":
		return ProtoCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

func validateAttributes(attrs map[string]any) error {
	if _, err := structpb.NewStruct(attrs); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAttributes, err)
	}
	return nil
}
