package node

import (
	"sync"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/message"
)

// linkMu serializes every topology change in the process.
var linkMu sync.Mutex

// Connect feeds output stream streamIndex of from into to's data edge. It is
// safe while both nodes run. Connecting the same pair twice is a no-op.
func Connect(from, to *Node, streamIndex int) error {
	if from == nil || to == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "node", "Connect", "nil node")
	}
	linkMu.Lock()
	defer linkMu.Unlock()

	addr := from.Address().WithStream(streamIndex)
	if err := from.data.AddRecipient(addr, to.data); err != nil {
		return err
	}
	if err := to.data.AddSender(addr, from.data); err != nil {
		from.data.DeleteRecipientLink(addr, to.data)
		return err
	}
	from.info(message.InfoConnect, "from stream %d of %s => %s", streamIndex, from.tag, to.tag)
	return nil
}

// Disconnect undoes Connect. The consumer drops what it still queued from
// that stream.
func Disconnect(from, to *Node, streamIndex int) error {
	if from == nil || to == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "node", "Disconnect", "nil node")
	}
	linkMu.Lock()
	defer linkMu.Unlock()

	addr := from.Address().WithStream(streamIndex)
	from.data.DeleteRecipientLink(addr, to.data)
	to.data.DeleteSender(addr)
	from.info(message.InfoDisconnect, "from stream %d of %s <= disconnect => %s", streamIndex, from.tag, to.tag)
	return nil
}

// Subscribe delivers the peer events from publishes to to.
func Subscribe(from, to *Node) error {
	if from == nil || to == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "node", "Subscribe", "nil node")
	}
	linkMu.Lock()
	defer linkMu.Unlock()

	addr := from.Address()
	if err := from.events.AddRecipient(addr, to.events); err != nil {
		return err
	}
	if err := to.events.AddSender(addr, from.events); err != nil {
		from.events.DeleteRecipientLink(addr, to.events)
		return err
	}
	from.info(message.InfoSubscribe, "%s subscribes events of %s", to.tag, from.tag)
	return nil
}

// Unsubscribe undoes Subscribe.
func Unsubscribe(from, to *Node) error {
	if from == nil || to == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "node", "Unsubscribe", "nil node")
	}
	linkMu.Lock()
	defer linkMu.Unlock()

	addr := from.Address()
	from.events.DeleteRecipientLink(addr, to.events)
	to.events.DeleteSender(addr)
	from.info(message.InfoUnsubscribe, "%s unsubscribes events of %s", to.tag, from.tag)
	return nil
}

// Connected reports whether output stream streamIndex of from feeds to.
func Connected(from, to *Node, streamIndex int) bool {
	return to.data.HasSender(from.Address().WithStream(streamIndex))
}
