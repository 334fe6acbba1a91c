// Package outbound owns delivery of application messages onto the mesh.
//
// Ownership boundary:
// - global send pacing and the retry schedule
// - correlation-id keyed ack tracking and the orphan sweep
// - exactly-once terminal callbacks per message
//
// Transmission itself is injected as a TransmitFunc.
package outbound
