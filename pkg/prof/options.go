package prof

// Options selects the profiles of a session. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Block string
	Mutex string

	// BlockRate and MutexRate are passed to runtime.SetBlockProfileRate and
	// runtime.SetMutexProfileFraction for the session when positive.
	BlockRate int
	MutexRate int
}

// Any reports whether at least one profile is requested.
func (o Options) Any() bool {
	return o.CPU != "" || o.Heap != "" || o.Block != "" || o.Mutex != ""
}
