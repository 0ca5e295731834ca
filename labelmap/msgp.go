package labelmap

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler.  The mapping is written as a
// MessagePack map of uint64 source label to uint64 target label.
func (m *Mapping) MarshalMsg(b []byte) (o []byte, err error) {
	pairs := m.Pairs()
	o = msgp.Require(b, msgp.MapHeaderSize+len(pairs)*2*msgp.Uint64Size)
	o = msgp.AppendMapHeader(o, uint32(len(pairs)))
	for _, p := range pairs {
		o = msgp.AppendUint64(o, p[0])
		o = msgp.AppendUint64(o, p[1])
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler.  Decoded pairs are added to any
// mappings already present.
func (m *Mapping) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	m.Lock()
	defer m.Unlock()
	for i := uint32(0); i < sz; i++ {
		var from, to uint64
		from, bts, err = msgp.ReadUint64Bytes(bts)
		if err != nil {
			return
		}
		to, bts, err = msgp.ReadUint64Bytes(bts)
		if err != nil {
			return
		}
		m.set(from, to)
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied
// by the serialized message.
func (m *Mapping) Msgsize() (s int) {
	s = msgp.MapHeaderSize + m.Len()*2*msgp.Uint64Size
	return
}
