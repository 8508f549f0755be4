package ipc

import (
	"voicelog/internal/daemon"
	"voicelog/internal/ledger"
)

// ServiceName is the RPC service the daemon registers.
const ServiceName = "Voicelog"

// StatusRequest requests daemon status.
type StatusRequest struct{}

// StatusResponse carries the aggregated daemon status.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// PauseRequest stops new cycles.
type PauseRequest struct{}

// PauseResponse acknowledges a pause.
type PauseResponse struct {
	Paused bool `json:"paused"`
}

// ResumeRequest re-enables cycles.
type ResumeRequest struct{}

// ResumeResponse acknowledges a resume.
type ResumeResponse struct {
	Paused bool `json:"paused"`
}

// RunOnceRequest asks for an immediate cycle.
type RunOnceRequest struct{}

// RunOnceResponse reports whether the cycle started or was dropped.
type RunOnceResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the daemon to exit.
type StopRequest struct{}

// StopResponse acknowledges the stop request.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// LedgerListRequest filters the ledger listing.
type LedgerListRequest struct {
	FailedOnly     bool `json:"failed_only"`
	AwaitingDelete bool `json:"awaiting_delete"`
	Limit          int  `json:"limit"`
}

// LedgerListResponse returns matching entries.
type LedgerListResponse struct {
	Entries []*ledger.Entry `json:"entries"`
}

// LedgerShowRequest names one entry.
type LedgerShowRequest struct {
	Identity string `json:"identity"`
}

// LedgerShowResponse returns one entry.
type LedgerShowResponse struct {
	Entry *ledger.Entry `json:"entry"`
}

// LedgerRetryRequest resets Stage of Identity, or every failed stage when
// Stage is empty.
type LedgerRetryRequest struct {
	Identity string `json:"identity"`
	Stage    string `json:"stage,omitempty"`
}

// LedgerRetryResponse lists the stages that were reset.
type LedgerRetryResponse struct {
	Reset []string `json:"reset"`
}
