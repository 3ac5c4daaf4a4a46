// Package host is the receiving side of a trace stream: it reassembles
// records, learns names from dictionary records and renders descriptions.
package host

import (
	"io"

	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

type nameKey struct {
	kind  protocol.Kind
	key   uint64
	scope uint64
}

// Decoder reads records from a stream. Field sizes start from the configured
// values and follow any TARGET_INFO seen afterwards.
type Decoder struct {
	r     *frame.Reader
	sizes protocol.Sizes
	names map[nameKey]string

	seq     uint8
	haveSeq bool

	Records int
	Skipped int
	Gaps    int
}

func NewDecoder(r io.Reader, sz protocol.Sizes, limits frame.Limits) *Decoder {
	return &Decoder{
		r:     frame.NewReader(r, limits),
		sizes: sz,
		names: make(map[nameKey]string),
	}
}

func (d *Decoder) Sizes() protocol.Sizes { return d.sizes }

// Next returns the next record rendered with any names learned so far.
// Records whose payload does not decode are counted in Skipped.
func (d *Decoder) Next() (protocol.Description, error) {
	for {
		rec, skipped, err := d.r.ReadRecord(d.sizes)
		d.Skipped += skipped
		if err != nil {
			return protocol.Description{}, err
		}
		d.Records++
		if d.haveSeq && rec.Seq != d.seq+1 {
			d.Gaps++
			log.Debug().Msgf("host.Decoder seq gap want=%d got=%d", d.seq+1, rec.Seq)
		}
		d.seq, d.haveSeq = rec.Seq, true

		desc, err := protocol.Describe(rec, d.sizes)
		if err != nil {
			d.Skipped++
			log.Warn().Msgf("host.Decoder skip seq=%d kind=%s err=%v", rec.Seq, rec.Kind, err)
			continue
		}
		d.learn(rec)
		d.annotate(&desc, rec)
		return desc, nil
	}
}

// Name returns a learned name. kind is the dictionary record kind and scope
// the signal's object or the enum group.
func (d *Decoder) Name(kind protocol.Kind, key, scope uint64) (string, bool) {
	n, ok := d.names[nameKey{kind: kind, key: key, scope: scope}]
	return n, ok
}

func (d *Decoder) learn(rec protocol.Record) {
	r := protocol.NewReader(rec.Payload, d.sizes)
	var k nameKey
	switch rec.Kind {
	case protocol.KindTargetInfo:
		info, err := protocol.ParseTargetInfo(rec.Payload)
		if err != nil || info.Sizes.Validate() != nil {
			return
		}
		if info.Sizes != d.sizes {
			log.Info().Msgf("host.Decoder adopting target sizes %+v", info.Sizes)
		}
		d.sizes = info.Sizes
		return
	case protocol.KindSigDict:
		k = nameKey{kind: rec.Kind, key: uint64(r.Signal()), scope: r.Obj()}
	case protocol.KindObjDict:
		k = nameKey{kind: rec.Kind, key: r.Obj()}
	case protocol.KindFunDict:
		k = nameKey{kind: rec.Kind, key: r.Fun()}
	case protocol.KindUsrDict:
		k = nameKey{kind: rec.Kind, key: uint64(r.U8())}
	case protocol.KindEnumDict:
		v := r.U8()
		k = nameKey{kind: rec.Kind, key: uint64(v), scope: uint64(r.U8())}
	default:
		return
	}
	name := r.Str()
	if r.Err() == nil {
		d.names[k] = name
	}
}

func (d *Decoder) annotate(desc *protocol.Description, rec protocol.Record) {
	if rec.Kind.IsUser() {
		if n, ok := d.Name(protocol.KindUsrDict, uint64(rec.Kind), 0); ok {
			desc.Kind = n
		}
	}
	if len(desc.Fields) == 0 {
		return
	}
	vals, err := protocol.DecodeFields(rec.Payload, d.sizes)
	if err != nil || len(vals) != len(desc.Fields) {
		return
	}
	for i, v := range vals {
		switch v.Type {
		case protocol.TypeObj:
			if n, ok := d.Name(protocol.KindObjDict, v.Addr, 0); ok {
				desc.Fields[i] = n
			}
		case protocol.TypeFun:
			if n, ok := d.Name(protocol.KindFunDict, v.Addr, 0); ok {
				desc.Fields[i] = n
			}
		case protocol.TypeSig:
			n, ok := d.Name(protocol.KindSigDict, v.Uint, v.Addr)
			if !ok {
				n, ok = d.Name(protocol.KindSigDict, v.Uint, 0)
			}
			if ok {
				desc.Fields[i] = n
			}
		case protocol.TypeEnum:
			if n, ok := d.Name(protocol.KindEnumDict, v.Uint, uint64(v.Group)); ok {
				desc.Fields[i] = n
			}
		}
	}
}
