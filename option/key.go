// Package option holds the configuration a node is constructed with: a raw
// string dictionary passed through to implementations, typed single-valued
// options keyed by a closed Key enum, category options, and numeric arrays.
package option

import "strings"

// Kind is the value type a Key expects.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindDouble
	KindCategory
	KindDataType
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindDouble:
		return "double"
	case KindCategory:
		return "category"
	case KindDataType:
		return "datatype"
	default:
		return "unknown"
	}
}

// Key names a typed option. Each key has a fixed display name and value kind.
type Key int

const (
	KeyUnknown Key = iota

	// category options
	KeyClassCategory
	KeyInputDataType
	KeyOutputDataType

	// typed scalar options
	KeyImplType
	KeyCodecName
	KeyLogtag
	KeyInputURL
	KeyInputFpsEmulate
	KeyReconnectRetries
	KeyRWTimeout
	KeyFilterDesc
	KeyVideoMixLayout
	KeyVideoMixRegeneratePts
	KeyStartAfterAllJoin
	KeyQuitIfNoInputs
	KeyOutputURL
	KeyContainerFmt
	KeyStreamletBufLimit
	KeyStreamletInputMaxNum

	keyCount
)

type keyInfo struct {
	name string
	kind Kind
}

var keyRegistry = [keyCount]keyInfo{
	KeyUnknown:               {"Unknown", KindString},
	KeyClassCategory:         {"ClassCategory", KindCategory},
	KeyInputDataType:         {"InputDataType", KindDataType},
	KeyOutputDataType:        {"OutputDataType", KindDataType},
	KeyImplType:              {"ImplType", KindString},
	KeyCodecName:             {"CodecName", KindString},
	KeyLogtag:                {"Logtag", KindString},
	KeyInputURL:              {"InputUrl", KindString},
	KeyInputFpsEmulate:       {"InputFpsEmulate", KindBool},
	KeyReconnectRetries:      {"ReconnectRetries", KindInt},
	KeyRWTimeout:             {"RWTimeout", KindInt},
	KeyFilterDesc:            {"FilterDesc", KindString},
	KeyVideoMixLayout:        {"VideoMixLayout", KindInt},
	KeyVideoMixRegeneratePts: {"VideoMixRegeneratePts", KindBool},
	KeyStartAfterAllJoin:     {"StartAfterAllJoin", KindBool},
	KeyQuitIfNoInputs:        {"QuitIfNoInputs", KindBool},
	KeyOutputURL:             {"OutputUrl", KindString},
	KeyContainerFmt:          {"ContainerFmt", KindString},
	KeyStreamletBufLimit:     {"StreamletBufLimitNum", KindInt},
	KeyStreamletInputMaxNum:  {"StreamletInputMaxNum", KindInt},
}

// String returns the display name.
func (k Key) String() string {
	if k < 0 || k >= keyCount {
		return "Unknown"
	}
	return keyRegistry[k].name
}

// Kind returns the value kind the key expects.
func (k Key) Kind() Kind {
	if k < 0 || k >= keyCount {
		return KindString
	}
	return keyRegistry[k].kind
}

// IsCategory reports whether the key holds a category-style value.
func (k Key) IsCategory() bool {
	kind := k.Kind()
	return kind == KindCategory || kind == KindDataType
}

// ParseKey looks a key up by display name, case-insensitively.
func ParseKey(name string) (Key, bool) {
	for k := KeyUnknown + 1; k < keyCount; k++ {
		if strings.EqualFold(keyRegistry[k].name, name) {
			return k, true
		}
	}
	return KeyUnknown, false
}

// Keys returns every registered key except KeyUnknown.
func Keys() []Key {
	keys := make([]Key, 0, keyCount-1)
	for k := KeyUnknown + 1; k < keyCount; k++ {
		keys = append(keys, k)
	}
	return keys
}
