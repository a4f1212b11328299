package envelope

import (
	"fmt"
	"reflect"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// Versioned is implemented by message bodies that declare a schema version.
// The version is stamped on outgoing messages and added to subscription filters.
type Versioned interface {
	MessageVersion() int
}

// Named lets a message body override the wire type name, which otherwise
// defaults to the Go type name.
type Named interface {
	MessageTypeName() string
}

// TypeInfo is the routing metadata of a message type.
type TypeInfo struct {
	Name       string
	Version    int
	HasVersion bool
}

// TypeInfoOf inspects T once and returns its routing metadata. Pointer types
// are described by their element type.
func TypeInfoOf[T any]() (TypeInfo, error) {
	typ := reflect.TypeFor[T]()
	sample := newSample(typ)

	info := TypeInfo{Name: typeName(typ)}
	if n, ok := sample.(Named); ok && n.MessageTypeName() != "" {
		info.Name = n.MessageTypeName()
	}
	if info.Name == "" {
		return TypeInfo{}, errspkg.ErrMessageTypeRequired
	}
	if v, ok := sample.(Versioned); ok {
		version := v.MessageVersion()
		if version < 0 {
			return TypeInfo{}, fmt.Errorf("%w: %s declares %d", errspkg.ErrNegativeMessageVersion, info.Name, version)
		}
		info.Version = version
		info.HasVersion = true
	}
	return info, nil
}

// MustTypeInfoOf is TypeInfoOf for package-level declarations; it panics on error.
func MustTypeInfoOf[T any]() TypeInfo {
	info, err := TypeInfoOf[T]()
	if err != nil {
		panic(err)
	}
	return info
}

// TypeName returns the fully qualified Go type name of T, used to describe handlers and processors.
func TypeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func typeName(typ reflect.Type) string {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ.Name()
}

// newSample returns a pointer to a zero value so both value and pointer receiver
// methods are visible to the interface checks.
func newSample(typ reflect.Type) any {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() == reflect.Interface {
		return nil
	}
	return reflect.New(typ).Interface()
}
