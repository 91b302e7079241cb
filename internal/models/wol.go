package models

import "time"

// WOLConfig holds Wake-on-LAN settings for the storage host.
type WOLConfig struct {
	MACAddress    string `validate:"required,mac"`
	BroadcastIP   string `validate:"omitempty,ip"`
	PollURL       string // defaults to the WebDAV URL
	Timeout       time.Duration
	PollInterval  time.Duration
	StabilizeWait time.Duration
}

// WOLResult holds the result of waking the storage host.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	Polls        int
	WaitDuration time.Duration
	Error        error
}
