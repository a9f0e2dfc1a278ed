package option

import "strings"

// CategoryValue is a value stored under a category-kind key.
type CategoryValue interface {
	Kind() Kind
	String() string
}

// Category is the class of processing a node performs.
type Category int

const (
	NotACategory Category = iota
	DataRelay
	Demux
	Mux
	VideoDecode
	VideoEncode
	AudioDecode
	AudioEncode
	VideoFilter
	AudioFilter
	VideoMix
	AudioMix
	categoryCount
)

var categoryNames = [categoryCount]string{
	NotACategory: "NotACategory",
	DataRelay:    "DataRelay",
	Demux:        "Demux",
	Mux:          "Mux",
	VideoDecode:  "VideoDecode",
	VideoEncode:  "VideoEncode",
	AudioDecode:  "AudioDecode",
	AudioEncode:  "AudioEncode",
	VideoFilter:  "VideoFilter",
	AudioFilter:  "AudioFilter",
	VideoMix:     "VideoMix",
	AudioMix:     "AudioMix",
}

// Kind implements CategoryValue.
func (Category) Kind() Kind { return KindCategory }

func (c Category) String() string {
	if c < 0 || c >= categoryCount {
		return categoryNames[NotACategory]
	}
	return categoryNames[c]
}

// ParseCategory looks a category up by name, case-insensitively.
func ParseCategory(name string) (Category, bool) {
	for c := DataRelay; c < categoryCount; c++ {
		if strings.EqualFold(categoryNames[c], name) {
			return c, true
		}
	}
	return NotACategory, false
}

// DataType describes what a node consumes or produces.
type DataType int

const (
	DataTypeUndefined DataType = iota
	InVideoBitstream
	InAudioBitstream
	InVideoRaw
	InAudioRaw
	OutVideoBitstream
	OutAudioBitstream
	OutVideoRaw
	OutAudioRaw
	dataTypeCount
)

var dataTypeNames = [dataTypeCount]string{
	DataTypeUndefined: "DataTypeUndefined",
	InVideoBitstream:  "InVideoBitstream",
	InAudioBitstream:  "InAudioBitstream",
	InVideoRaw:        "InVideoRaw",
	InAudioRaw:        "InAudioRaw",
	OutVideoBitstream: "OutVideoBitstream",
	OutAudioBitstream: "OutAudioBitstream",
	OutVideoRaw:       "OutVideoRaw",
	OutAudioRaw:       "OutAudioRaw",
}

// Kind implements CategoryValue.
func (DataType) Kind() Kind { return KindDataType }

func (d DataType) String() string {
	if d < 0 || d >= dataTypeCount {
		return dataTypeNames[DataTypeUndefined]
	}
	return dataTypeNames[d]
}

// ParseDataType looks a data type up by name, case-insensitively.
func ParseDataType(name string) (DataType, bool) {
	for d := InVideoBitstream; d < dataTypeCount; d++ {
		if strings.EqualFold(dataTypeNames[d], name) {
			return d, true
		}
	}
	return DataTypeUndefined, false
}

// IsVideo reports whether d carries video.
func (d DataType) IsVideo() bool {
	switch d {
	case InVideoBitstream, InVideoRaw, OutVideoBitstream, OutVideoRaw:
		return true
	}
	return false
}

// IsRaw reports whether d carries decoded data.
func (d DataType) IsRaw() bool {
	switch d {
	case InVideoRaw, InAudioRaw, OutVideoRaw, OutAudioRaw:
		return true
	}
	return false
}
