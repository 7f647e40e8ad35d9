package codec

import "fmt"

// Limit wraps another codec and refuses payloads above a size limit in both
// directions: Encode keeps oversized responses out of the cache, Decode protects
// against oversized entries coming from a shared store (redis, S3).
// A max <= 0 disables the check on that side.
type Limit[V any] struct {
	// Inner is the underlying codec being wrapped. It must be set.
	Inner Codec[V]
	// MaxEncode is the largest encoded payload that may be stored.
	MaxEncode int
	// MaxDecode is the largest payload Decode accepts before invoking Inner.
	MaxDecode int
}

// ErrTooLarge is returned (wrapped) when a payload exceeds the configured limit.
var ErrTooLarge = fmt.Errorf("payload too large")

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
