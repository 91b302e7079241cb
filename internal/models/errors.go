package models

import "fmt"

// ConnectivityError reports a failed probe against the database or the
// remote storage. It aborts the stage that issued the probe.
type ConnectivityError struct {
	Target   string
	ExitCode int
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot reach %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("cannot reach %s: probe exited with code %d", e.Target, e.ExitCode)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// CommandError reports a non-zero exit, or a failure to start, of an
// external command. It only affects the item the command was issued for.
type CommandError struct {
	Intent   string
	Name     string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed: %v", e.Intent, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s exited with code %d", e.Intent, e.Name, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }
