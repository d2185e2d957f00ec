package market

import "trustwork/internal/chainvalue"

// JobStatus is the marketplace job state as coded by the contract.
type JobStatus uint8

const (
	JobOpen          JobStatus = 1
	JobInProgress    JobStatus = 2
	JobWorkSubmitted JobStatus = 3
	JobCompleted     JobStatus = 4
	JobDisputed      JobStatus = 5
	JobCancelled     JobStatus = 6
)

// Append-only: codes are never reused.
var jobStatusLabels = map[JobStatus]string{
	JobOpen:          "Open",
	JobInProgress:    "In Progress",
	JobWorkSubmitted: "Work Submitted",
	JobCompleted:     "Completed",
	JobDisputed:      "Disputed",
	JobCancelled:     "Cancelled",
}

func (s JobStatus) Label() string {
	if l, ok := jobStatusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

func (s JobStatus) String() string { return s.Label() }

// ParseJobStatus fails closed on codes outside the table.
func ParseJobStatus(code uint64) (JobStatus, error) {
	s := JobStatus(code)
	if _, ok := jobStatusLabels[s]; !ok || code > 255 {
		return 0, chainvalue.Errorf(chainvalue.UnknownStatus, "status", "job status %d", code)
	}
	return s, nil
}

// BidStatus is the state of one freelancer's bid on a job.
type BidStatus uint8

const (
	BidPending   BidStatus = 1
	BidAccepted  BidStatus = 2
	BidRejected  BidStatus = 3
	BidWithdrawn BidStatus = 4
)

var bidStatusLabels = map[BidStatus]string{
	BidPending:   "Pending",
	BidAccepted:  "Accepted",
	BidRejected:  "Rejected",
	BidWithdrawn: "Withdrawn",
}

func (s BidStatus) Label() string {
	if l, ok := bidStatusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

func (s BidStatus) String() string { return s.Label() }

func ParseBidStatus(code uint64) (BidStatus, error) {
	s := BidStatus(code)
	if _, ok := bidStatusLabels[s]; !ok || code > 255 {
		return 0, chainvalue.Errorf(chainvalue.UnknownStatus, "status", "bid status %d", code)
	}
	return s, nil
}
