package terminal

// Status is the lifecycle state of a terminal entry.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
	StatusDisposed      Status = "disposed"
)

func (s Status) String() string { return string(s) }
