package peer

import "github.com/flowmesh/groupmedia/internal/wire"

// OnMessage demultiplexes one payload received off this peer's media or
// report flow, with any flow-level stage/ack framing already stripped,
// into the matching fragment or control handler. Fragment markers and
// control opcodes occupy disjoint byte ranges, so the leading byte alone
// says which decoder applies.
func (p *PeerMedia) OnMessage(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	switch wire.Marker(buf[0]) {
	case wire.MarkerData, wire.MarkerStart, wire.MarkerNext, wire.MarkerEnd:
		f, err := wire.Decode(buf)
		if err != nil {
			return err
		}
		p.OnFragment(f)
		return nil
	}

	op, rest, err := wire.DecodeOpcode(buf)
	if err != nil {
		return err
	}
	switch op {
	case wire.OpGroupInit, wire.OpGroupBegin:
		return nil
	case wire.OpGroupFragmentsMap:
		return p.OnFragmentsMap(rest)
	case wire.OpGroupPlayPush:
		mask, err := wire.DecodeGroupPlayPush(rest)
		if err != nil {
			return err
		}
		p.OnPlayPush(mask)
		return nil
	case wire.OpGroupPlayPull:
		id, err := wire.DecodeGroupPlayPull(rest)
		if err != nil {
			return err
		}
		p.OnPlayPull(id)
		return nil
	case wire.OpGroupMediaInfos:
		_, err := wire.DecodeGroupMediaInfos(rest)
		return err
	default:
		if p.log != nil {
			p.log.Warn("unknown group opcode", "peer", p.ID, "opcode", op)
		}
		return nil
	}
}
