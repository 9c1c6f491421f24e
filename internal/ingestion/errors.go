package ingestion

import "errors"

var (
	// ErrDuplicateActiveUpload indicates the slot already has a non-terminal record.
	ErrDuplicateActiveUpload = errors.New("upload already in progress for this slot")

	// ErrProviderUnavailable indicates the transcoding provider could not issue a ticket.
	ErrProviderUnavailable = errors.New("transcoding provider unavailable")

	// ErrTransport indicates the direct upload of bytes failed. The record stays PENDING
	// until the caller abandons it.
	ErrTransport = errors.New("upload transport failed")

	// ErrPollingExhausted is reported when the attempt budget ran out without a terminal status.
	ErrPollingExhausted = errors.New("status polling exhausted")

	// ErrPollAbandoned is returned when the poll loop's context ends before a terminal state.
	ErrPollAbandoned = errors.New("status polling abandoned")

	// ErrPollInProgress is returned when another loop holds the record's lease.
	ErrPollInProgress = errors.New("status polling already in progress")

	// ErrTransportIncomplete is returned when polling is requested for a PENDING record.
	ErrTransportIncomplete = errors.New("upload transport has not completed")

	ErrRecordNotFound    = errors.New("ingestion record not found")
	ErrIllegalTransition = errors.New("illegal ingestion state transition")
	ErrStateConflict     = errors.New("ingestion record changed concurrently")
	ErrNotOwner          = errors.New("ingestion record belongs to another profile")
)
