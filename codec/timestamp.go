package codec

import (
	"fmt"
	"strconv"
	"time"
)

// registerTimestamp wires ext code 3: a timestamp is carried as decimal
// seconds-since-epoch, rendered as text rather than msgpack's native
// timestamp extension, per spec.md §4.1 ("decimal-seconds text").
func registerTimestamp(c *Codec) {
	c.RegisterHandler(extTimestamp,
		func(v interface{}) ([]byte, bool) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, false
			}
			seconds := float64(t.UnixNano()) / 1e9
			return []byte(strconv.FormatFloat(seconds, 'f', -1, 64)), true
		},
		func(payload []byte) (interface{}, error) {
			seconds, err := strconv.ParseFloat(string(payload), 64)
			if err != nil {
				return nil, fmt.Errorf("codec: malformed timestamp: %w", err)
			}
			whole := int64(seconds)
			frac := seconds - float64(whole)
			return time.Unix(whole, int64(frac*1e9)).UTC(), nil
		},
	)
}
