package serializer

import (
	"errors"
	"fmt"
)

type SerializerType int

const (
	SERIALIZER_JSON SerializerType = iota
	SERIALIZER_YAML
)

var (
	ErrInvalidSerializer = errors.New("serializer: invalid serializer type")
)

func (st SerializerType) String() string {
	switch st {
	case SERIALIZER_JSON:
		return "json"
	case SERIALIZER_YAML:
		return "yaml"
	}
	return fmt.Sprintf("serializer(%d)", int(st))
}

// Serializer converts entities of type E to and from their byte
// representation.
type Serializer[E any] interface {
	Serialize(entity E) ([]byte, error)
	Deserialize(data []byte, e any) error
	Type() SerializerType
	Name() string
	Extension() string
}

func ParseSerializer(name string) (SerializerType, error) {
	switch name {
	case "", SERIALIZER_JSON.String():
		return SERIALIZER_JSON, nil
	case SERIALIZER_YAML.String():
		return SERIALIZER_YAML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidSerializer, name)
}

func NewSerializer[E any](serializerType SerializerType) (Serializer[E], error) {
	switch serializerType {
	case SERIALIZER_JSON:
		return NewJSONSerializer[E](), nil
	case SERIALIZER_YAML:
		return NewYAMLSerializer[E](), nil
	}
	return nil, ErrInvalidSerializer
}
