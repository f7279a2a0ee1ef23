// Package dmap owns the DMAP-family wire contract.
//
// Ownership boundary:
// - content code dictionary (tag number <-> dotted name + wire type)
// - value tree model
// - tlv encode/decode primitives
//
// Every tlv unit is a 4-byte tag, a 4-byte big-endian length and a payload
// whose layout is chosen by the tag's wire type. A dictionary is required
// for both directions; tags are never guessed.
package dmap
