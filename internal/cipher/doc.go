// Package cipher holds the transform bank: the fixed, ordered set of
// byte-to-text decoders tried against every candidate span.
//
// # Overview
//
// Compiled clients commonly hide strings behind cheap byte-level
// obfuscation. The bank covers the usual suspects with a small, fixed trial
// set rather than a search over every key:
//   - raw        - UTF-8, invalid sequences replaced with U+FFFD
//   - utf16le    - UTF-16 little endian
//   - not        - bitwise complement, then UTF-8
//   - add-7..add7 - additive shift of every byte, then UTF-8
//   - xor_<hex>  - single-byte XOR with one of 19 keys, then UTF-8
//   - rot1..rot13 - Caesar rotation of ASCII letters
//   - base64_try - speculative standard Base64
//
// # Usage
//
// Walk the ordered bank:
//
//	for _, tr := range cipher.DefaultBank() {
//	    if text, ok := tr.Decode(span); ok {
//	        fmt.Printf("%s: %q\n", tr.Name(), text)
//	    }
//	}
//
// Apply a single transform by name:
//
//	text, err := cipher.Apply("xor_20", span)
//
// # Failure Model
//
// Only base64_try reports absence. Every other transform is total over
// bytes: malformed UTF-8 or UTF-16 is replaced, never rejected.
//
// # Thread Safety
//
// Transforms are stateless and safe for concurrent use. The registry uses
// internal locking.
package cipher
