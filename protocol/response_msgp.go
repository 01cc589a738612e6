package protocol

import (
	"github.com/tinylib/msgp/msgp"
)

// MessagePack encoding of Response, as a map {"code": int, "lines": [string]}.

// MarshalMsg implements msgp.Marshaler.
func (r *Response) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, r.Msgsize())
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, "code")
	o = msgp.AppendInt(o, int(r.Code))
	o = msgp.AppendString(o, "lines")
	o = msgp.AppendArrayHeader(o, uint32(len(r.Lines)))
	for _, line := range r.Lines {
		o = msgp.AppendString(o, line)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (r *Response) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}

	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}

		switch msgp.UnsafeString(field) {
		case "code":
			var code int
			code, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "code")
			}
			r.Code = SMTPCode(code)
		case "lines":
			var count uint32
			count, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "lines")
			}
			r.Lines = make([]string, count)
			for i := range r.Lines {
				r.Lines[i], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, msgp.WrapError(err, "lines", i)
				}
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				return bts, msgp.WrapError(err)
			}
		}
	}
	return bts, nil
}

// Msgsize returns an upper bound on the encoded size of r.
func (r *Response) Msgsize() int {
	s := msgp.MapHeaderSize + msgp.StringPrefixSize + 4 + msgp.IntSize +
		msgp.StringPrefixSize + 5 + msgp.ArrayHeaderSize
	for _, line := range r.Lines {
		s += msgp.StringPrefixSize + len(line)
	}
	return s
}
