package types

import (
	"encoding/binary"
	"fmt"
)

// Size returns the width in bytes of a single element of this dtype, or 0
// if the dtype is not an integer type we can read.
func (dtype DType) Size() int {
	switch dtype {
	case DTypeUint8, DTypeInt8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32:
		return 4
	case DTypeInt64:
		return 8
	default:
		return 0
	}
}

func (dtype DType) String() string {
	switch dtype {
	case DTypeUint8:
		return "uint8"
	case DTypeInt8:
		return "int8"
	case DTypeInt16:
		return "int16"
	case DTypeInt32:
		return "int32"
	case DTypeInt64:
		return "int64"
	case DTypeUint16:
		return "uint16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(dtype))
	}
}

// ToBin serializes tokens little-endian using the element width of dtype.
func (tokens Tokens) ToBin(dtype DType) ([]byte, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	buf := make([]byte, len(tokens)*size)
	for idx, tok := range tokens {
		off := idx * size
		switch dtype {
		case DTypeUint8:
			if tok < 0 || tok > 0xff {
				return nil, fmt.Errorf("integer overflow: tried to write token ID %d as %s", tok, dtype)
			}
			buf[off] = byte(tok)
		case DTypeInt8:
			if tok < -128 || tok > 127 {
				return nil, fmt.Errorf("integer overflow: tried to write token ID %d as %s", tok, dtype)
			}
			buf[off] = byte(int8(tok))
		case DTypeUint16:
			if tok < 0 || tok > 0xffff {
				return nil, fmt.Errorf("integer overflow: tried to write token ID %d as %s", tok, dtype)
			}
			binary.LittleEndian.PutUint16(buf[off:], uint16(tok))
		case DTypeInt16:
			if tok < -32768 || tok > 32767 {
				return nil, fmt.Errorf("integer overflow: tried to write token ID %d as %s", tok, dtype)
			}
			binary.LittleEndian.PutUint16(buf[off:], uint16(int16(tok)))
		case DTypeInt32:
			if tok < -(1<<31) || tok > (1<<31)-1 {
				return nil, fmt.Errorf("integer overflow: tried to write token ID %d as %s", tok, dtype)
			}
			binary.LittleEndian.PutUint32(buf[off:], uint32(int32(tok)))
		case DTypeInt64:
			binary.LittleEndian.PutUint64(buf[off:], uint64(tok))
		}
	}
	return buf, nil
}

// TokensFromBin decodes a little-endian token buffer of the given dtype. The
// buffer length must be a whole number of elements.
func TokensFromBin(bin []byte, dtype DType) (Tokens, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(bin)%size != 0 {
		return nil, fmt.Errorf("buffer of %d bytes is not a multiple of %s",
			len(bin), dtype)
	}
	count := len(bin) / size
	tokens := make(Tokens, count)
	for idx := 0; idx < count; idx++ {
		off := idx * size
		switch dtype {
		case DTypeUint8:
			tokens[idx] = Token(bin[off])
		case DTypeInt8:
			tokens[idx] = Token(int8(bin[off]))
		case DTypeUint16:
			tokens[idx] = Token(binary.LittleEndian.Uint16(bin[off:]))
		case DTypeInt16:
			tokens[idx] = Token(int16(binary.LittleEndian.Uint16(bin[off:])))
		case DTypeInt32:
			tokens[idx] = Token(int32(binary.LittleEndian.Uint32(bin[off:])))
		case DTypeInt64:
			tokens[idx] = Token(int64(binary.LittleEndian.Uint64(bin[off:])))
		}
	}
	return tokens, nil
}
