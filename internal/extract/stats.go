package extract

// ProcessStats contains statistics from an extraction run.
type ProcessStats struct {
	// Files is the number of file entries committed to the sink.
	Files int

	// Directories is the number of directory entries materialized.
	Directories int

	// Skipped is the number of entries skipped (ShouldProcess returned false).
	Skipped int

	// TotalBytes is the sum of uncompressed sizes of committed files.
	TotalBytes uint64
}

// Add accumulates stats from another ProcessStats into this one.
func (s *ProcessStats) Add(other ProcessStats) {
	s.Files += other.Files
	s.Directories += other.Directories
	s.Skipped += other.Skipped
	s.TotalBytes += other.TotalBytes
}
