package transfer

// Status is the terminal state of a transfer request.
type Status int

const (
	// StatusSuccess means the file was published and verified.
	StatusSuccess Status = iota
	// StatusFailed means every attempt failed.
	StatusFailed
	// StatusCancelled means the request's context was cancelled.
	StatusCancelled
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a transfer request. It is never
// mutated after the worker completes the request.
type Result struct {
	Status Status

	// Path is the published destination path on success.
	Path string

	// Hash is the hex MD5 of the streamed content on success.
	Hash string

	// ErrorMessage describes the last failure when Status is not success.
	ErrorMessage string
}

// Successful reports whether the transfer completed and verified.
func (r Result) Successful() bool {
	return r.Status == StatusSuccess
}
