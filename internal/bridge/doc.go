// Package bridge composes the mesh engine around a gateway radio link.
//
// Ownership boundary:
// - inbound: radio frame -> trial decrypt -> decoded record -> sink
// - delivery signals: routing acks and naks -> outbound queue
// - outbound: queued text -> MeshPacket -> ToRadio -> link
// - admin session keys observed per node
package bridge
