package models

// SSHShutdownConfig holds settings for powering off the storage host.
type SSHShutdownConfig struct {
	Host          string `validate:"required"`
	Port          int    `validate:"min=1,max=65535"`
	Username      string `validate:"required"`
	PrivateKey    []byte // loaded from KeyPath when nil
	KeyPath       string `validate:"required"`
	KnownHosts    string // known_hosts file; host keys are not checked when empty
	ShutdownDelay int    // minutes
	OS            string `validate:"oneof=linux windows"`
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
