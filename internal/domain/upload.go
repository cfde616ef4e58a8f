package domain

import "time"

type UploadStatus string

const (
	UploadStatusReceived         UploadStatus = "received"
	UploadStatusAwaitingSiblings UploadStatus = "awaiting_siblings"
	UploadStatusComplete         UploadStatus = "complete"
	UploadStatusFailed           UploadStatus = "failed"
)

// UploadUnit is one logical piece of an upload. A single-file upload is a
// one-chunk batch whose BatchID is derived from the content digest, so the
// coordinator never special-cases it.
type UploadUnit struct {
	BatchID       string
	ChunkIndex    int
	TotalChunks   int
	TestRunCount  int
	ContentDigest string
	Status        UploadStatus
	ReceivedAt    time.Time
}

type AdmissionOutcome string

const (
	AdmissionAccepted  AdmissionOutcome = "accepted"
	AdmissionQueued    AdmissionOutcome = "queued"
	AdmissionDuplicate AdmissionOutcome = "duplicate"
)

// Admission reports what happened to an admitted unit. Inserted and
// Conflicts are only meaningful when the batch completed (Accepted).
type Admission struct {
	Outcome   AdmissionOutcome
	BatchID   string
	Inserted  int
	Conflicts int
	// ChunksPending is how many declared chunks are still missing when the
	// outcome is Queued.
	ChunksPending int
}

// QueueStatus is the per-factory view of outstanding upload work.
type QueueStatus struct {
	FactoryName string
	Pending     int
	Failed      int
}
