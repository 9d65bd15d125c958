package desc

import (
	"encoding"
	"reflect"
	"strings"
	"sync"
)

var (
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
)

// shape is the decode request a Go type makes. The set is closed: the
// format has no other ways of laying out a value.
type shape uint8

const (
	shapeUnsupported shape = iota
	shapeString
	shapeChar
	shapeInt
	shapeUint
	shapeText
	shapeOptional
	shapeSequence
	shapeRecord
)

func (s shape) String() string {
	switch s {
	case shapeString:
		return "string"
	case shapeChar:
		return "character"
	case shapeInt:
		return "integer"
	case shapeUint:
		return "unsigned integer"
	case shapeText:
		return "text"
	case shapeOptional:
		return "optional"
	case shapeSequence:
		return "list"
	case shapeRecord:
		return "record"
	default:
		return "unsupported"
	}
}

// shapeOf classifies t. char is set for rune fields tagged ",char".
func shapeOf(t reflect.Type, char bool) shape {
	if t.Kind() == reflect.Pointer {
		return shapeOptional
	}
	if reflect.PointerTo(t).Implements(textUnmarshalerType) || t.Implements(textMarshalerType) {
		return shapeText
	}

	switch t.Kind() {
	case reflect.String:
		return shapeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if char && t.Kind() == reflect.Int32 {
			return shapeChar
		}
		return shapeInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return shapeUint
	case reflect.Slice:
		// Byte blobs have no line representation.
		if t.Elem().Kind() == reflect.Uint8 {
			return shapeUnsupported
		}
		return shapeSequence
	case reflect.Struct:
		return shapeRecord
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return shapeRecord
		}
	}
	return shapeUnsupported
}

// leafOf strips optional wrappers and classifies what remains.
func leafOf(t reflect.Type, char bool) (reflect.Type, shape) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t, shapeOf(t, char)
}

type fieldInfo struct {
	name      string
	index     int
	char      bool
	omitEmpty bool
	shape     shape
}

type fieldCache struct {
	list   []*fieldInfo // declaration order, for encoding
	byName map[string]*fieldInfo
}

var (
	fieldCacheMu  sync.RWMutex
	fieldCacheMap = make(map[reflect.Type]*fieldCache)
)

func cachedFields(t reflect.Type) *fieldCache {
	fieldCacheMu.RLock()
	fc, ok := fieldCacheMap[t]
	fieldCacheMu.RUnlock()
	if ok {
		return fc
	}

	fc = buildFieldCache(t)
	fieldCacheMu.Lock()
	fieldCacheMap[t] = fc
	fieldCacheMu.Unlock()
	return fc
}

func buildFieldCache(t reflect.Type) *fieldCache {
	fc := &fieldCache{
		byName: make(map[string]*fieldInfo),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("desc")
		if tag == "-" {
			continue
		}

		name := strings.ToUpper(field.Name)
		char, omitEmpty := false, false
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				switch opt {
				case "char":
					char = true
				case "omitempty":
					omitEmpty = true
				}
			}
		}

		// First declaration wins on duplicate names.
		if _, dup := fc.byName[name]; dup {
			continue
		}

		info := &fieldInfo{
			name:      name,
			index:     i,
			char:      char,
			omitEmpty: omitEmpty,
			shape:     shapeOf(field.Type, char),
		}
		fc.list = append(fc.list, info)
		fc.byName[name] = info
	}

	return fc
}
