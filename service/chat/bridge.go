package chat

import (
	"encoding/json"

	"medishare/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const bridgeSubject = "chat.room.events"

// bridgeEnvelope rides NATS between gateway nodes. Frames are replayed to
// local subscribers only, so nothing loops back to the origin.
type bridgeEnvelope struct {
	NodeID    string `json:"nodeId"`
	ListingID string `json:"listingId"`
	ExceptSID string `json:"exceptSid,omitempty"`
	Frame     *Frame `json:"frame"`
}

// Bridge relays confirmed room events between gateway nodes, so two
// participants attached to different nodes still converge on the same
// per-room order (persistence already happened on the origin node).
type Bridge struct {
	nc     *nats.Conn
	nodeID string
	sub    *nats.Subscription
}

// NewBridge connects to NATS and starts replaying foreign room events into
// the server's local fan-out.
func NewBridge(url, nodeID string, s *Server) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("medishare-chat-"+nodeID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}

	b := &Bridge{nc: nc, nodeID: nodeID}
	b.sub, err = nc.Subscribe(bridgeSubject, func(m *nats.Msg) {
		var env bridgeEnvelope
		if uerr := json.Unmarshal(m.Data, &env); uerr != nil {
			logger.Warnf("[bridge] bad envelope: %v", uerr)
			return
		}
		if env.NodeID == b.nodeID || env.Frame == nil {
			return
		}
		s.DeliverLocal(env.ListingID, env.Frame, "")
	})
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "subscribe nats")
	}
	return b, nil
}

// Publish pushes a room event to the other nodes. Best effort: a broker
// hiccup never fails the local send path.
func (b *Bridge) Publish(listingID string, f *Frame, exceptSID string) {
	env := bridgeEnvelope{
		NodeID:    b.nodeID,
		ListingID: listingID,
		ExceptSID: exceptSID,
		Frame:     f,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if perr := b.nc.Publish(bridgeSubject, data); perr != nil {
		logger.Warnf("[bridge] publish listing=%s err=%v", listingID, perr)
	}
}

func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}
