package types

// Token is a single vocabulary id as stored in a corpus. It is wide enough
// for every integer dtype an indexed dataset may use.
type Token int64
type Tokens []Token

// DType identifies the on-disk element type of a token stream, using the
// numeric codes written into indexed dataset headers.
type DType uint8

const (
	DTypeUint8  DType = 1
	DTypeInt8   DType = 2
	DTypeInt16  DType = 3
	DTypeInt32  DType = 4
	DTypeInt64  DType = 5
	DTypeUint16 DType = 8
)
