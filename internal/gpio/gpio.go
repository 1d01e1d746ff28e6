// Package gpio reads hardware trigger lines wired directly from the timer's
// channel outputs and exposes them as channel_state attributes.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the logical level of a fixed set of input lines.
type Reader interface {
	// Read returns one value per configured line, true = active.
	Read() ([]bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip used when none is configured.
const DefaultChip = "gpiochip0"
