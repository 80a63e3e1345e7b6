package main

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindDirectorySource
	KindRemoteSource
	KindRemoteMutation
)

func (k ErrorKind) String() string {
	switch k {
	case KindDirectorySource:
		return "directory-source"
	case KindRemoteSource:
		return "remote-source"
	case KindRemoteMutation:
		return "remote-mutation"
	default:
		return "unexpected"
	}
}

// DirectorySourceError reports a failed connect, bind or search against the
// directory server.
type DirectorySourceError struct {
	Server string
	Group  string
	Err    error
}

func (e *DirectorySourceError) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("directory %s: %v", e.Server, e.Err)
	}

	return fmt.Sprintf("directory %s: group %q: %v", e.Server, e.Group, e.Err)
}

func (e *DirectorySourceError) Unwrap() error { return e.Err }

// RemoteSourceError reports a failed read from the remote service. Status is 0
// when no response was received.
type RemoteSourceError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteSourceError) Error() string {
	return remoteErrorString(e.Op, e.Status, e.Body, e.Err)
}

func (e *RemoteSourceError) Unwrap() error { return e.Err }

type RemoteMutationError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteMutationError) Error() string {
	return remoteErrorString(e.Op, e.Status, e.Body, e.Err)
}

func (e *RemoteMutationError) Unwrap() error { return e.Err }

type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

func remoteErrorString(op string, status int, body string, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s: no response: %v", op, err)
	case body != "":
		return fmt.Sprintf("%s: HTTP status code %d: %s", op, status, body)
	default:
		return fmt.Sprintf("%s: HTTP status code %d", op, status)
	}
}

func KindOf(err error) ErrorKind {
	var (
		dirErr *DirectorySourceError
		srcErr *RemoteSourceError
		mutErr *RemoteMutationError
	)

	switch {
	case errors.As(err, &dirErr):
		return KindDirectorySource
	case errors.As(err, &srcErr):
		return KindRemoteSource
	case errors.As(err, &mutErr):
		return KindRemoteMutation
	default:
		return KindUnexpected
	}
}

type Phase int

const (
	PhaseAuth Phase = iota
	PhaseFetch
	PhaseCreate
	PhaseDelete
	PhaseReport
)

func (p Phase) String() string {
	switch p {
	case PhaseAuth:
		return "auth"
	case PhaseFetch:
		return "fetch"
	case PhaseCreate:
		return "create"
	case PhaseDelete:
		return "delete"
	case PhaseReport:
		return "report"
	default:
		return "unknown"
	}
}

type Policy int

const (
	// PolicyLocalize records the error and moves on to the next group or account.
	PolicyLocalize Policy = iota
	// PolicyEscalate notifies and terminates the run.
	PolicyEscalate
)

// Only authentication escalates: without a token no later call can succeed.
var phasePolicy = map[Phase]map[ErrorKind]Policy{
	PhaseAuth: {
		KindDirectorySource: PolicyEscalate,
		KindRemoteSource:    PolicyEscalate,
		KindRemoteMutation:  PolicyEscalate,
		KindUnexpected:      PolicyEscalate,
	},
}

func PolicyFor(phase Phase, err error) Policy {
	if byKind, ok := phasePolicy[phase]; ok {
		if policy, ok := byKind[KindOf(err)]; ok {
			return policy
		}
	}

	return PolicyLocalize
}

// exitError carries a process exit status out of run().
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

const (
	exitFatal      = 1
	exitWithErrors = 2
)
