package ziptype

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageWriting indicates entry data is being compressed and written.
	StageWriting ProgressStage = iota

	// StageCopying indicates raw entry bytes are being copied from a source archive.
	StageCopying

	// StageExtracting indicates entry data is being extracted.
	StageExtracting
)

func (s ProgressStage) String() string {
	switch s {
	case StageWriting:
		return "writing"
	case StageCopying:
		return "copying"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressEvent represents a progress update for one entry.
type ProgressEvent struct {
	Stage ProgressStage

	// Name is the entry being processed.
	Name string

	// BytesDone is the number of uncompressed bytes processed so far.
	BytesDone uint64

	// BytesTotal is the expected total, or zero when unknown.
	BytesTotal uint64
}

// ProgressFunc receives progress updates. It is called once per buffer chunk;
// callers that want to stop the operation cancel the context they passed in.
type ProgressFunc func(event ProgressEvent)
