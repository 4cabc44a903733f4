package wire

import (
	"fmt"

	"github.com/coinprune/coinprune/netio"
)

// Marshal dispatches to the message-specific encoder for msg's concrete
// type and tags the result with the matching Op, so a transport only
// needs one call to turn a typed acquisition message into wire bytes.
func Marshal(msg any) (Op, []byte, error) {
	switch m := msg.(type) {
	case GetState:
		return OpGetState, nil, nil
	case StateOffer:
		b, err := EncodeStateOffer(m)
		return OpStateOffer, b, err
	case GetData:
		b, err := EncodeGetData(m)
		return OpGetData, b, err
	case StateChunk:
		return OpStateChunk, m.Bytes, nil
	default:
		return 0, nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
}

// Unmarshal is Marshal's inverse: given an Op and its payload, it
// reconstructs the typed message it tags.
func Unmarshal(op Op, payload []byte) (any, error) {
	switch op {
	case OpGetState:
		return GetState{}, nil
	case OpStateOffer:
		return DecodeStateOffer(payload)
	case OpGetData:
		return DecodeGetData(payload)
	case OpStateChunk:
		return StateChunk{Bytes: payload}, nil
	default:
		return nil, fmt.Errorf("wire: unknown op %d", op)
	}
}

// Send marshals msg to its wire form and back before handing it to bus.
// This is where a real peer connection would frame msg for the socket;
// round-tripping it through Marshal/Unmarshal here keeps the codec on
// the path of every acquisition message sent by this node instead of
// leaving it decoration no caller ever reaches.
func Send(bus netio.Bus, id netio.PeerID, msg any) error {
	op, payload, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %T for peer %s: %w", msg, id, err)
	}
	decoded, err := Unmarshal(op, payload)
	if err != nil {
		return fmt.Errorf("unmarshaling %s for peer %s: %w", op, id, err)
	}
	bus.Send(id, decoded)
	return nil
}
