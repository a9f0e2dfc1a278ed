package option

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/pkg/timestamp"
)

// DefaultImplType selects whichever variant registered itself as "auto".
const DefaultImplType = "auto"

// Options is the configuration of one node. It is built before construction
// and read afterwards; it is not safe for concurrent mutation.
type Options struct {
	raw          map[string]string
	typed        map[Key]string
	categories   map[Key]CategoryValue
	intArrays    map[string][]int
	doubleArrays map[string][]float64
}

// New returns an empty container.
func New() *Options {
	return &Options{
		raw:          make(map[string]string),
		typed:        make(map[Key]string),
		categories:   make(map[Key]CategoryValue),
		intArrays:    make(map[string][]int),
		doubleArrays: make(map[string][]float64),
	}
}

// NewWave returns options carrying the class category and implementation type
// the registry selects a constructor by. An empty implType means "auto".
func NewWave(category Category, implType string) *Options {
	o := New()
	_ = o.SetCategory(KeyClassCategory, category)
	if implType == "" {
		implType = DefaultImplType
	}
	_ = o.Set(KeyImplType, implType)
	return o
}

// Clone returns a deep copy.
func (o *Options) Clone() *Options {
	c := New()
	maps.Copy(c.raw, o.raw)
	maps.Copy(c.typed, o.typed)
	maps.Copy(c.categories, o.categories)
	for k, v := range o.intArrays {
		c.intArrays[k] = slices.Clone(v)
	}
	for k, v := range o.doubleArrays {
		c.doubleArrays[k] = slices.Clone(v)
	}
	return c
}

// Equal reports whether every entry of every map matches.
func (o *Options) Equal(other *Options) bool {
	if o == nil || other == nil {
		return o == other
	}
	return maps.Equal(o.raw, other.raw) &&
		maps.Equal(o.typed, other.typed) &&
		maps.Equal(o.categories, other.categories) &&
		maps.EqualFunc(o.intArrays, other.intArrays, slices.Equal[[]int]) &&
		maps.EqualFunc(o.doubleArrays, other.doubleArrays, slices.Equal[[]float64])
}

// --- raw dictionary ---

// Raw returns the raw value for key, or "".
func (o *Options) Raw(key string) string {
	return o.raw[key]
}

// RawDefault returns the raw value for key, or def if absent.
func (o *Options) RawDefault(key, def string) string {
	if v, ok := o.raw[key]; ok {
		return v
	}
	return def
}

// HasRaw reports whether key is present in the raw dictionary.
func (o *Options) HasRaw(key string) bool {
	_, ok := o.raw[key]
	return ok
}

// RawInt parses the raw value for key and checks it against [minV, maxV].
func (o *Options) RawInt(key string, minV, maxV int) (int, error) {
	v, ok := o.raw[key]
	if !ok {
		return 0, errors.ErrNoSuchKey
	}
	return parseInt(v, minV, maxV)
}

// RawDouble parses the raw value for key and checks it against [minV, maxV].
func (o *Options) RawDouble(key string, minV, maxV float64) (float64, error) {
	v, ok := o.raw[key]
	if !ok {
		return 0, errors.ErrNoSuchKey
	}
	return parseDouble(v, minV, maxV)
}

// RawBool parses "true" or "false".
func (o *Options) RawBool(key string) (bool, error) {
	v, ok := o.raw[key]
	if !ok {
		return false, errors.ErrNoSuchKey
	}
	return parseBool(v)
}

// RawRational parses a "num/den" value.
func (o *Options) RawRational(key string) (timestamp.Rational, error) {
	v, ok := o.raw[key]
	if !ok {
		return timestamp.Rational{}, errors.ErrNoSuchKey
	}
	return timestamp.ParseRational(v)
}

// VideoSize parses the "video_size" entry, formatted "WxH".
func (o *Options) VideoSize() (width, height int, err error) {
	v, ok := o.raw["video_size"]
	if !ok {
		return 0, 0, errors.ErrNoSuchKey
	}
	w, h, found := strings.Cut(v, "x")
	if !found {
		return 0, 0, errors.ErrValueInvalid
	}
	if width, err = parseInt(w, 0, math.MaxInt32); err != nil {
		return 0, 0, err
	}
	if height, err = parseInt(h, 0, math.MaxInt32); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// SetRaw stores val under key unless key is already present.
// It reports whether the value was stored.
func (o *Options) SetRaw(key, val string) bool {
	if _, ok := o.raw[key]; ok {
		return false
	}
	o.raw[key] = val
	return true
}

// OverwriteRaw stores val under key unconditionally.
func (o *Options) OverwriteRaw(key, val string) {
	o.raw[key] = val
}

// SetRawInt stores an int without overwriting.
func (o *Options) SetRawInt(key string, v int) bool {
	return o.SetRaw(key, strconv.Itoa(v))
}

// SetRawDouble stores a float without overwriting.
func (o *Options) SetRawDouble(key string, v float64) bool {
	return o.SetRaw(key, strconv.FormatFloat(v, 'f', -1, 64))
}

// SetRawBool stores a bool without overwriting.
func (o *Options) SetRawBool(key string, v bool) bool {
	return o.SetRaw(key, strconv.FormatBool(v))
}

// SetRawRational stores "num/den" without overwriting.
func (o *Options) SetRawRational(key string, r timestamp.Rational) bool {
	return o.SetRaw(key, r.String())
}

// SetVideoSize stores "video_size" as "WxH" without overwriting.
func (o *Options) SetVideoSize(width, height int) bool {
	return o.SetRaw("video_size", fmt.Sprintf("%dx%d", width, height))
}

// DeleteRaw removes key from the raw dictionary.
func (o *Options) DeleteRaw(key string) {
	delete(o.raw, key)
}

// RawMap returns a copy of the raw dictionary.
func (o *Options) RawMap() map[string]string {
	return maps.Clone(o.raw)
}

// --- typed options ---

// Has reports whether k is set, as a typed or category option.
func (o *Options) Has(k Key) bool {
	if _, ok := o.typed[k]; ok {
		return true
	}
	_, ok := o.categories[k]
	return ok
}

// Get returns the value of k, or "".
func (o *Options) Get(k Key) string {
	return o.typed[k]
}

// GetDefault returns the value of k, or def if absent.
func (o *Options) GetDefault(k Key, def string) string {
	if v, ok := o.typed[k]; ok {
		return v
	}
	return def
}

// GetInt parses an int-kind option.
func (o *Options) GetInt(k Key) (int, error) {
	return o.GetIntRange(k, math.MinInt, math.MaxInt)
}

// GetIntRange parses an int-kind option and checks it against [minV, maxV].
func (o *Options) GetIntRange(k Key, minV, maxV int) (int, error) {
	v, err := o.typedValue(k, KindInt)
	if err != nil {
		return 0, err
	}
	return parseInt(v, minV, maxV)
}

// GetDouble parses a double-kind option.
func (o *Options) GetDouble(k Key) (float64, error) {
	v, err := o.typedValue(k, KindDouble)
	if err != nil {
		return 0, err
	}
	return parseDouble(v, -math.MaxFloat64, math.MaxFloat64)
}

// GetBool parses a bool-kind option.
func (o *Options) GetBool(k Key) (bool, error) {
	v, err := o.typedValue(k, KindBool)
	if err != nil {
		return false, err
	}
	return parseBool(v)
}

// BoolOr returns the bool value of k, or def when absent or malformed.
func (o *Options) BoolOr(k Key, def bool) bool {
	v, err := o.GetBool(k)
	if err != nil {
		return def
	}
	return v
}

// IntOr returns the int value of k, or def when absent or malformed.
func (o *Options) IntOr(k Key, def int) int {
	v, err := o.GetInt(k)
	if err != nil {
		return def
	}
	return v
}

func (o *Options) typedValue(k Key, want Kind) (string, error) {
	if k.Kind() != want {
		return "", errors.ErrTypeMismatch
	}
	v, ok := o.typed[k]
	if !ok {
		return "", errors.ErrNoSuchKey
	}
	return v, nil
}

// Set stores a string-kind option. Typed options are written once.
func (o *Options) Set(k Key, v string) error {
	if k.Kind() != KindString {
		return errors.ErrTypeMismatch
	}
	return o.setTyped(k, v)
}

// SetInt stores an int-kind option.
func (o *Options) SetInt(k Key, v int) error {
	if k.Kind() != KindInt {
		return errors.ErrTypeMismatch
	}
	return o.setTyped(k, strconv.Itoa(v))
}

// SetDouble stores a double-kind option.
func (o *Options) SetDouble(k Key, v float64) error {
	if k.Kind() != KindDouble {
		return errors.ErrTypeMismatch
	}
	return o.setTyped(k, strconv.FormatFloat(v, 'f', -1, 64))
}

// SetBool stores a bool-kind option.
func (o *Options) SetBool(k Key, v bool) error {
	if k.Kind() != KindBool {
		return errors.ErrTypeMismatch
	}
	return o.setTyped(k, strconv.FormatBool(v))
}

// SetString stores any scalar option from its textual form, validating the
// text against the key's kind. Loaders that only have strings use it.
func (o *Options) SetString(k Key, v string) error {
	switch k.Kind() {
	case KindString:
		return o.setTyped(k, v)
	case KindInt:
		if _, err := parseInt(v, math.MinInt, math.MaxInt); err != nil {
			return err
		}
	case KindDouble:
		if _, err := parseDouble(v, -math.MaxFloat64, math.MaxFloat64); err != nil {
			return err
		}
	case KindBool:
		if _, err := parseBool(v); err != nil {
			return err
		}
	case KindCategory:
		c, ok := ParseCategory(v)
		if !ok {
			return errors.ErrValueInvalid
		}
		return o.SetCategory(k, c)
	case KindDataType:
		d, ok := ParseDataType(v)
		if !ok {
			return errors.ErrValueInvalid
		}
		return o.SetCategory(k, d)
	}
	return o.setTyped(k, v)
}

func (o *Options) setTyped(k Key, v string) error {
	if k == KeyUnknown {
		return errors.ErrValueInvalid
	}
	if _, ok := o.typed[k]; ok {
		return errors.ErrKeyExists
	}
	o.typed[k] = v
	return nil
}

// --- category options ---

// SetCategory stores a category value. The key kind must match the value kind.
func (o *Options) SetCategory(k Key, v CategoryValue) error {
	if v == nil || k.Kind() != v.Kind() {
		return errors.ErrTypeMismatch
	}
	if _, ok := o.categories[k]; ok {
		return errors.ErrKeyExists
	}
	o.categories[k] = v
	return nil
}

// GetCategory returns the category value stored under k.
func (o *Options) GetCategory(k Key) (CategoryValue, error) {
	if !k.IsCategory() {
		return nil, errors.ErrTypeMismatch
	}
	v, ok := o.categories[k]
	if !ok {
		return nil, errors.ErrNoSuchKey
	}
	return v, nil
}

// Category returns the class category.
func (o *Options) Category() (Category, error) {
	v, err := o.GetCategory(KeyClassCategory)
	if err != nil {
		return NotACategory, err
	}
	c, ok := v.(Category)
	if !ok {
		return NotACategory, errors.ErrTypeMismatch
	}
	return c, nil
}

// DataType returns the data type stored under an input or output data type key.
func (o *Options) DataType(k Key) (DataType, error) {
	v, err := o.GetCategory(k)
	if err != nil {
		return DataTypeUndefined, err
	}
	d, ok := v.(DataType)
	if !ok {
		return DataTypeUndefined, errors.ErrTypeMismatch
	}
	return d, nil
}

// ImplType returns the implementation variant, defaulting to "auto".
func (o *Options) ImplType() string {
	return o.GetDefault(KeyImplType, DefaultImplType)
}

// Erase removes k from the typed and category maps.
func (o *Options) Erase(k Key) {
	delete(o.typed, k)
	delete(o.categories, k)
}

// --- arrays ---

// SetIntArray stores a copy of a under name.
func (o *Options) SetIntArray(name string, a []int) error {
	if _, ok := o.intArrays[name]; ok {
		return errors.ErrKeyExists
	}
	o.intArrays[name] = slices.Clone(a)
	return nil
}

// IntArray returns a copy of the int array stored under name.
func (o *Options) IntArray(name string) ([]int, error) {
	a, ok := o.intArrays[name]
	if !ok {
		return nil, errors.ErrNoSuchKey
	}
	return slices.Clone(a), nil
}

// SetDoubleArray stores a copy of a under name.
func (o *Options) SetDoubleArray(name string, a []float64) error {
	if _, ok := o.doubleArrays[name]; ok {
		return errors.ErrKeyExists
	}
	o.doubleArrays[name] = slices.Clone(a)
	return nil
}

// DoubleArray returns a copy of the double array stored under name.
func (o *Options) DoubleArray(name string) ([]float64, error) {
	a, ok := o.doubleArrays[name]
	if !ok {
		return nil, errors.ErrNoSuchKey
	}
	return slices.Clone(a), nil
}

// Dump renders the container for logs, with keys sorted.
func (o *Options) Dump() string {
	var b strings.Builder
	b.WriteString("options: {")

	var parts []string
	for k, v := range o.categories {
		parts = append(parts, k.String()+": "+v.String())
	}
	for k, v := range o.typed {
		parts = append(parts, k.String()+": "+v)
	}
	for k, v := range o.raw {
		parts = append(parts, k+"="+v)
	}
	for k, v := range o.intArrays {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	for k, v := range o.doubleArrays {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	slices.Sort(parts)
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString("}")
	return b.String()
}

func parseInt(s string, minV, maxV int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return 0, errors.ErrValueOutOfRange
		}
		return 0, errors.ErrValueInvalid
	}
	if v < minV || v > maxV {
		return 0, errors.ErrValueOutOfRange
	}
	return v, nil
}

func parseDouble(s string, minV, maxV float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return 0, errors.ErrValueOutOfRange
		}
		return 0, errors.ErrValueInvalid
	}
	if v < minV || v > maxV {
		return 0, errors.ErrValueOutOfRange
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, errors.ErrValueInvalid
	}
}
