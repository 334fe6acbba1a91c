// Package schema owns the mesh wire schema and its codecs.
//
// Ownership boundary:
// - message family descriptors, built once at startup
// - typed decode/encode of location, identity, node summary, envelope, and radio frames
// - port-tagged payload dispatch
// - administrative request construction
//
// Decode failures never cross this boundary as errors: they are logged and
// reported as ok=false.
package schema
