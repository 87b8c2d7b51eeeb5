// Package bencode implements the self-delimiting data language used by
// metainfo files and tracker HTTP replies: integers i<n>e, byte strings
// <len>:<bytes>, lists l...e, and dictionaries d...e with string keys.
//
// Unlike a struct-tag marshaler, this decoder preserves the raw bytes of
// every string (not just UTF-8 ones) and reports how many bytes of the
// input it consumed, so a caller can keep reading whatever follows (a
// peer message concatenates a bencoded header with a raw payload) and so
// the info-hash can be computed over the exact bytes that produced a
// dictionary rather than over a re-encoding of it.
package bencode

import (
	"fmt"
	"sort"
	"strconv"

	"bitswarm/internal/errs"
)

// Kind tags the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindString
	KindList
	KindDict
)

// Value is a tagged bencode value. Only the field matching Kind is valid.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []Value
	Dict map[string]Value
}

// String returns the string form of a KindString value as raw bytes
// reinterpreted; callers that need text should validate UTF-8 themselves.
func (v Value) String() string { return string(v.Str) }

// Get looks up a key in a KindDict value.
func (v Value) Get(key string) (Value, bool) {
	val, ok := v.Dict[key]
	return val, ok
}

// Decode parses the first complete bencode value at the start of data.
// It returns the value and the number of bytes consumed.
func Decode(data []byte) (Value, int, error) {
	if len(data) == 0 {
		return Value{}, 0, fmt.Errorf("bencode: empty input: %w", errs.ErrUnexpectedByte)
	}
	switch data[0] {
	case 'i':
		return decodeInt(data)
	case 'l':
		return decodeList(data)
	case 'd':
		return decodeDict(data)
	default:
		if data[0] >= '0' && data[0] <= '9' {
			return decodeString(data)
		}
		return Value{}, 0, fmt.Errorf("bencode: byte %q at offset 0: %w", data[0], errs.ErrUnexpectedByte)
	}
}

func decodeInt(data []byte) (Value, int, error) {
	end := indexByte(data, 1, 'e')
	if end < 0 {
		return Value{}, 0, fmt.Errorf("bencode: unterminated integer: %w", errs.ErrMissingTerminator)
	}
	digits := string(data[1:end])
	if digits == "" || digits == "-" {
		return Value{}, 0, fmt.Errorf("bencode: empty integer: %w", errs.ErrMalformedInt)
	}
	if digits != "0" {
		neg := digits[0] == '-'
		unsigned := digits
		if neg {
			unsigned = digits[1:]
		}
		if unsigned == "" || unsigned[0] == '0' {
			return Value{}, 0, fmt.Errorf("bencode: leading zero in %q: %w", digits, errs.ErrMalformedInt)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Value{}, 0, fmt.Errorf("bencode: invalid integer %q: %w", digits, errs.ErrMalformedInt)
	}
	return Value{Kind: KindInt, Int: n}, end + 1, nil
}

func decodeString(data []byte) (Value, int, error) {
	colon := indexByte(data, 0, ':')
	if colon < 0 {
		return Value{}, 0, fmt.Errorf("bencode: no length prefix terminator: %w", errs.ErrBadLengthPrefix)
	}
	length, err := strconv.Atoi(string(data[:colon]))
	if err != nil || length < 0 {
		return Value{}, 0, fmt.Errorf("bencode: bad length prefix %q: %w", data[:colon], errs.ErrBadLengthPrefix)
	}
	start := colon + 1
	end := start + length
	if end > len(data) {
		return Value{}, 0, fmt.Errorf("bencode: string of length %d exceeds input: %w", length, errs.ErrBadLengthPrefix)
	}
	str := make([]byte, length)
	copy(str, data[start:end])
	return Value{Kind: KindString, Str: str}, end, nil
}

func decodeList(data []byte) (Value, int, error) {
	pos := 1
	var items []Value
	for {
		if pos >= len(data) {
			return Value{}, 0, fmt.Errorf("bencode: unterminated list: %w", errs.ErrMissingTerminator)
		}
		if data[pos] == 'e' {
			return Value{Kind: KindList, List: items}, pos + 1, nil
		}
		v, n, err := Decode(data[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		items = append(items, v)
		pos += n
	}
}

func decodeDict(data []byte) (Value, int, error) {
	pos := 1
	dict := map[string]Value{}
	for {
		if pos >= len(data) {
			return Value{}, 0, fmt.Errorf("bencode: unterminated dict: %w", errs.ErrMissingTerminator)
		}
		if data[pos] == 'e' {
			return Value{Kind: KindDict, Dict: dict}, pos + 1, nil
		}
		if data[pos] < '0' || data[pos] > '9' {
			return Value{}, 0, fmt.Errorf("bencode: dict key at offset %d is not a string: %w", pos, errs.ErrNonStringKey)
		}
		keyVal, n, err := decodeString(data[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		pos += n
		if pos >= len(data) {
			return Value{}, 0, fmt.Errorf("bencode: dict missing value: %w", errs.ErrMissingTerminator)
		}
		val, n, err := Decode(data[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		dict[keyVal.String()] = val
		pos += n
	}
}

func indexByte(data []byte, from int, b byte) int {
	for i := from; i < len(data); i++ {
		if data[i] == b {
			return i
		}
	}
	return -1
}

// RawValue returns the exact input bytes spanning the first complete
// value in data, without building a Value tree. A metainfo file's info
// dictionary must be hashed from this, not from Encode(Decode(...)):
// many trackers produce non-canonical dictionaries (unsorted keys,
// stray whitespace between values is not legal bencode, but key order
// varies across encoders) and re-encoding would silently change the
// info-hash a peer computes.
func RawValue(data []byte) ([]byte, int, error) {
	n, err := skipValue(data)
	if err != nil {
		return nil, 0, err
	}
	return data[:n], n, nil
}

func skipValue(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("bencode: empty input: %w", errs.ErrUnexpectedByte)
	}
	switch {
	case data[0] == 'i':
		end := indexByte(data, 1, 'e')
		if end < 0 {
			return 0, fmt.Errorf("bencode: unterminated integer: %w", errs.ErrMissingTerminator)
		}
		return end + 1, nil
	case data[0] == 'l' || data[0] == 'd':
		pos := 1
		for {
			if pos >= len(data) {
				return 0, fmt.Errorf("bencode: unterminated %c: %w", data[0], errs.ErrMissingTerminator)
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			n, err := skipValue(data[pos:])
			if err != nil {
				return 0, err
			}
			pos += n
			if data[0] == 'd' {
				// dict entry: the piece just skipped was the key, a
				// value must follow before the next key or 'e'.
				if pos >= len(data) {
					return 0, fmt.Errorf("bencode: dict missing value: %w", errs.ErrMissingTerminator)
				}
				n, err := skipValue(data[pos:])
				if err != nil {
					return 0, err
				}
				pos += n
			}
		}
	case data[0] >= '0' && data[0] <= '9':
		colon := indexByte(data, 0, ':')
		if colon < 0 {
			return 0, fmt.Errorf("bencode: no length prefix terminator: %w", errs.ErrBadLengthPrefix)
		}
		length, err := strconv.Atoi(string(data[:colon]))
		if err != nil || length < 0 {
			return 0, fmt.Errorf("bencode: bad length prefix %q: %w", data[:colon], errs.ErrBadLengthPrefix)
		}
		end := colon + 1 + length
		if end > len(data) {
			return 0, fmt.Errorf("bencode: string of length %d exceeds input: %w", length, errs.ErrBadLengthPrefix)
		}
		return end, nil
	default:
		return 0, fmt.Errorf("bencode: byte %q at offset 0: %w", data[0], errs.ErrUnexpectedByte)
	}
}

// RawDictEntry scans a bencoded dictionary for key and returns the raw
// bytes of its value (per RawValue's contract).
func RawDictEntry(data []byte, key string) ([]byte, error) {
	if len(data) == 0 || data[0] != 'd' {
		return nil, fmt.Errorf("bencode: not a dictionary: %w", errs.ErrUnexpectedByte)
	}
	pos := 1
	for pos < len(data) && data[pos] != 'e' {
		keyVal, n, err := decodeString(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		raw, n, err := RawValue(data[pos:])
		if err != nil {
			return nil, err
		}
		if keyVal.String() == key {
			return raw, nil
		}
		pos += n
	}
	return nil, fmt.Errorf("bencode: key %q not found: %w", key, errs.ErrUnexpectedByte)
}

// Encode canonicalizes v: dictionary keys ascend in byte order, integers
// carry no leading zero (except "0"), and byte strings carry their exact
// byte length. This is only a faithful re-encoding of v itself — it does
// NOT recover the original input bytes for a value that was decoded from
// non-canonical input. Anything that will be hashed (e.g. an info
// dictionary) must be hashed from RawValue's output, not from Encode's.
func Encode(v Value) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.Int, 10)
		buf = append(buf, 'e')
	case KindString:
		buf = strconv.AppendInt(buf, int64(len(v.Str)), 10)
		buf = append(buf, ':')
		buf = append(buf, v.Str...)
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			buf = appendValue(buf, item)
		}
		buf = append(buf, 'e')
	case KindDict:
		buf = append(buf, 'd')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = strconv.AppendInt(buf, int64(len(k)), 10)
			buf = append(buf, ':')
			buf = append(buf, k...)
			buf = appendValue(buf, v.Dict[k])
		}
		buf = append(buf, 'e')
	}
	return buf
}

// String is a convenience constructor for a KindString value.
func String(s string) Value { return Value{Kind: KindString, Str: []byte(s)} }

// Int is a convenience constructor for a KindInt value.
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }
