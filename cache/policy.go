package cache

// WritePolicy decides when written bytes reach the device.
type WritePolicy int

// The zero value is not a valid policy.
const (
	// WriteThrough pushes written bytes to the device before the write
	// returns.
	WriteThrough WritePolicy = iota + 1

	// WriteBack keeps written bytes in the cache until the line is flushed,
	// cleaned, evicted, or the cache is closed.
	WriteBack
)

// Valid reports whether p is one of the known policies.
func (p WritePolicy) Valid() bool {
	return p == WriteThrough || p == WriteBack
}

func (p WritePolicy) String() string {
	switch p {
	case WriteThrough:
		return "write_through"
	case WriteBack:
		return "write_back"
	default:
		return "invalid"
	}
}

// ParseWritePolicy converts the names used in configuration files to a
// WritePolicy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "write_through", "writeThrough", "wt":
		return WriteThrough, nil
	case "write_back", "writeBack", "wb":
		return WriteBack, nil
	default:
		return 0, ErrInvalidPolicy
	}
}
