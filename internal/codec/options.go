package codec

// Options controls codec behaviour shared across CSV, JSON, and Arrow
// IPC. Lenient replaces the source's dev-mode global toggle for CSV date
// parsing with a per-call configuration value (the REDESIGN FLAG
// resolution recorded in DESIGN.md).
type Options struct {
	// BatchSize bounds the row count of each decoded Batch. Zero selects
	// the default of 1024.
	BatchSize int

	// Lenient relaxes CSV date/datetime parsing to accept a wider set of
	// input formats. It has no effect on JSON or Arrow IPC.
	Lenient bool
}

// DefaultOptions returns the zero-value Options with BatchSize resolved
// to its default.
func DefaultOptions() Options {
	return Options{BatchSize: 1024}
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return 1024
	}
	return o.BatchSize
}
