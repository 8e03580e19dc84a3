// Package kfmt provides a minimal, allocation-free Printf implementation
// that can be used from contexts where the Go runtime's allocator and
// itab machinery are not safe to invoke yet: early boot, trap handlers and
// the panic path.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size used when formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf = []byte("012345678901234567890123456789012")

	// singleByte is a shared buffer used to pass individual characters to
	// doWrite without triggering an allocation.
	singleByte = []byte(" ")

	// earlyPrintBuffer captures Printf output before a console sink has
	// been attached via SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends its output. If nil, output is
	// redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any
// data buffered in earlyPrintBuffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently configured output sink, or nil if
// output is still being buffered in the ring buffer.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf implements a minimal Printf that is safe to call before the Go
// runtime has finished initializing: it performs no allocations.
//
// Supported verbs: %s (string or []byte), %d/%o/%x (signed and unsigned
// integer types), %t (bool). A decimal width may precede the verb; strings
// and base-10 integers are left-padded with spaces, base-8/16 integers are
// left-padded with zeroes. There is no %p — supporting it requires the
// reflect package, which triggers runtime.convT2E/newobject calls that would
// crash the kernel before the allocator is up.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			for i := blockStart; i < blockEnd; i++ {
				singleByte[0] = format[i]
				doWrite(w, singleByte)
			}
		}

		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				singleByte[0] = '%'
				doWrite(w, singleByte)
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't':
				if nextArgIndex >= len(args) {
					doWrite(w, errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			}

			doWrite(w, errNoVerb)
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart != blockEnd {
		for i := blockStart; i < blockEnd; i++ {
			singleByte[0] = format[i]
			doWrite(w, singleByte)
		}
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	switch bVal := v.(type) {
	case bool:
		if bVal {
			doWrite(w, trueValue)
		} else {
			doWrite(w, falseValue)
		}
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		for i := 0; i < len(castedVal); i++ {
			singleByte[0] = castedVal[i]
			doWrite(w, singleByte)
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	singleByte[0] = ch
	for i := 0; i < count; i++ {
		doWrite(w, singleByte)
	}
}

// fmtInt prints v in the requested base, applying padLen of left-padding.
// Supports all built-in signed/unsigned integer types and bases 8, 10, 16.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		padCh            byte
		left, right, end int
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	switch base {
	case 8:
		divider = 8
		padCh = '0'
	case 10:
		divider = 10
		padCh = ' '
	case 16:
		divider = 16
		padCh = '0'
	}

	switch tv := v.(type) {
	case uint8:
		uval = uint64(tv)
	case uint16:
		uval = uint64(tv)
	case uint32:
		uval = uint64(tv)
	case uint64:
		uval = tv
	case uintptr:
		uval = uint64(tv)
	case int8:
		sval = int64(tv)
	case int16:
		sval = int64(tv)
	case int32:
		sval = int64(tv)
	case int64:
		sval = tv
	case int:
		sval = int64(tv)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxBufSize {
		remainder = uval % divider
		if remainder < 10 {
			numFmtBuf[right] = byte(remainder) + '0'
		} else {
			numFmtBuf[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	if sval < 0 {
		for end = right - 1; numFmtBuf[end] == ' '; end-- {
		}
		if end == right-1 {
			right++
		}
		numFmtBuf[end+1] = '-'
	}

	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numFmtBuf[left], numFmtBuf[right] = numFmtBuf[right], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[0:end])
}

// doWrite hides p from escape analysis via noEscape so Printf calls made
// before the allocator is ready do not trigger runtime.convT2E.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. Copied from
// runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
