package desc

const (
	// Default maximum record size read by a Decoder (16MB)
	defaultMaxSize = 16 * 1024 * 1024
)

// config holds decoder configuration.
type config struct {
	disallowUnknown bool
	maxSize         int
}

func newConfig(opts []Option) config {
	cfg := config{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures decoding.
type Option func(*config)

// DisallowUnknownFields makes a field name with no matching struct field an
// error (ErrUnknownField) instead of skipping its value lines.
//
// Map targets accept every name, so the option has no effect on them.
func DisallowUnknownFields() Option {
	return func(c *config) {
		c.disallowUnknown = true
	}
}

// MaxSize sets the maximum number of bytes a Decoder reads for one record.
// Larger inputs fail with ErrTooLarge.
//
// This bounds memory when records come from untrusted archives.
// Unmarshal is given its input directly and ignores this option.
//
// Default: 16MB. Values below 1 keep the default.
func MaxSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSize = n
		}
	}
}
