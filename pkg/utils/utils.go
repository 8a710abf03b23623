package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"runtime/debug"
)

func Fatal(v any) {
	fmt.Fprintf(os.Stderr, "rvrelax:\n\t\033[0;1;31mfatal\033[0m: %v\n", v)
	if os.Getenv("RVRELAX_TRACE") != "" {
		debug.PrintStack()
	}
	os.Exit(1)
}

func MustNo(err error) {
	if err != nil {
		Fatal(err.Error())
	}
}

func Read[T any](data []byte) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &val)

	MustNo(err)

	return val
}

// ReadSlice splits data into consecutive records of size sz.
func ReadSlice[T any](data []byte, sz int) []T {
	nums := len(data) / sz
	res := make([]T, 0, nums)
	for nums > 0 {
		res = append(res, Read[T](data))
		data = data[sz:]
		nums--
	}
	return res
}

func Assert(condition bool) {
	if !condition {
		Fatal("Assert Failed")
	}
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

// PowerOf2Ceil returns the smallest power of two >= val.
func PowerOf2Ceil(val uint64) uint64 {
	if val <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(val-1))
}

// ExtractBits returns val[hi:lo], both ends inclusive.
func ExtractBits(val uint64, hi, lo uint) uint64 {
	return (val & ((1 << (hi + 1)) - 1)) >> lo
}

// SignExtend treats the low size bits of val as a signed quantity.
func SignExtend(val uint64, size uint) int64 {
	return int64(val<<(64-size)) >> (64 - size)
}

func IsInt(val int64, n uint) bool {
	min := int64(-1) << (n - 1)
	max := int64(1)<<(n-1) - 1
	return min <= val && val <= max
}

func IsUInt(val uint64, n uint) bool {
	return n >= 64 || val < uint64(1)<<n
}
