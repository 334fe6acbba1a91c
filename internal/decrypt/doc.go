// Package decrypt owns trial decryption of inbound mesh packets.
//
// Ownership boundary:
// - the AES-CTR nonce layout and cipher selection by key length
// - candidate filtering by channel hash hint and the attempt cap
// - plausibility of a decrypt, judged by a clean envelope decode
//
// It does not own the channel keys; those come from the channel cache.
package decrypt
