package object

import (
	"github.com/ipfs/go-cid"
)

var rawPrefix = cid.Prefix{
	Version:  1,
	Codec:    0x55, // raw -- See the multicodecs table: https://github.com/multiformats/multicodec/
	MhType:   0x12, // sha2-256
	MhLength: 32,
}

var blockPrefix = cid.Prefix{
	Version:  1,
	Codec:    0x71, // dag-cbor
	MhType:   0x12, // sha2-256
	MhLength: 32,
}

// Sum returns the digest of a raw byte sequence.
func Sum(data []byte) (cid.Cid, error) {
	return rawPrefix.Sum(data)
}

// SumBlock returns the digest of an encoded metadata block.
func SumBlock(data []byte) (cid.Cid, error) {
	return blockPrefix.Sum(data)
}
