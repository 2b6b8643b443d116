package codec

// registerBuiltins wires every built-in extension handler spec.md §4.1
// requires before a freshly-constructed Codec is handed back to a caller.
// User records (ext 4) need no handler registration here: encodeRecord/
// decodeExt special-case extUserRecord directly against the records map.
func registerBuiltins(c *Codec) {
	registerNDArray(c)
	registerTimestamp(c)
	registerGeometry(c)
}
