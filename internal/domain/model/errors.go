package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by adapters and services.
var (
	// ErrExec reports that a process could not be started at all.
	ErrExec = errors.New("exec failed")
	// ErrOrderingInvariant is matched by OrderingInvariantViolation.
	ErrOrderingInvariant = errors.New("deployments were not returned newest first")
	// ErrDeploymentFinalized reports an attempt to add a status after a terminal one.
	ErrDeploymentFinalized = errors.New("deployment status is already final")
	// ErrCommandNotRecognized is returned for command-like input that names no known command.
	ErrCommandNotRecognized = errors.New("command not recognized")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// ShellCommandError is returned when a script exits with a non-zero status.
// Output holds everything the script printed before exiting.
type ShellCommandError struct {
	ExitCode int
	Output   string
}

func (e *ShellCommandError) Error() string {
	return fmt.Sprintf("exited with status code %d", e.ExitCode)
}

// SyncConflictError is returned when a branch could be neither rebased onto
// nor merged with its base. It requires manual conflict resolution.
type SyncConflictError struct {
	Head string
	Base string
	Err  error
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("could not rebase or merge %s onto %s: %v", e.Head, e.Base, e.Err)
}

func (e *SyncConflictError) Unwrap() error { return e.Err }

// OrderingInvariantViolation is returned when records the GitHub API is
// expected to return newest first arrive out of order.
type OrderingInvariantViolation struct {
	Kind       string // "deployment" or "deployment status"
	LatestID   int64
	PreviousID int64
}

func (e *OrderingInvariantViolation) Error() string {
	return fmt.Sprintf("%s records out of order: latest id %d is older than previous id %d",
		e.Kind, e.LatestID, e.PreviousID)
}

func (e *OrderingInvariantViolation) Is(target error) bool {
	return target == ErrOrderingInvariant
}

// EnvironmentOccupiedError is returned when another open pull request holds
// the requested environment.
type EnvironmentOccupiedError struct {
	Environment string
	PR          int
}

func (e *EnvironmentOccupiedError) Error() string {
	return fmt.Sprintf("environment %s is occupied by #%d", e.Environment, e.PR)
}
