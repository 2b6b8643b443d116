package codec

import (
	"encoding/binary"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// registerGeometry wires ext codes 100-108 (spec.md §4.1, "Well-Known-Binary
// for 2D/3D geometry types"). All go-geom geom.T values share a single ext
// code here: WKB's own header already encodes the concrete geometry type
// (point/line/polygon/multi-*) and its dimensionality, so a second,
// codec-level subtype tag would only duplicate that information. The
// 100-108 range is reserved for future non-WKB geometry variants a later
// registration could claim with RegisterHandler.
func registerGeometry(c *Codec) {
	c.RegisterHandler(extGeometryBase,
		func(v interface{}) ([]byte, bool) {
			g, ok := v.(geom.T)
			if !ok {
				return nil, false
			}
			payload, err := wkb.Marshal(g, binary.BigEndian)
			if err != nil {
				return nil, false
			}
			return payload, true
		},
		func(payload []byte) (interface{}, error) {
			return wkb.Unmarshal(payload)
		},
	)
}
