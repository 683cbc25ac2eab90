package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/cloudcost/internal/retry"
)

const (
	ErrorClassConfiguration   = "configuration"
	ErrorClassTransientRemote = "transient_remote"
	ErrorClassPermanentRemote = "permanent_remote"
	ErrorClassPartialWrite    = "partial_write"
	ErrorClassMalformed       = "malformed_record"
	ErrorClassCanceled        = "canceled"
	ErrorClassUnknown         = "unknown"
)

// ErrMalformedRecord marks a fetched record that cannot be keyed or shaped.
var ErrMalformedRecord = errors.New("malformed record")

// ConfigurationError is fatal at job start, before any remote I/O.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Setting == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration: %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func NewConfigurationError(setting, format string, args ...any) error {
	return &ConfigurationError{Setting: setting, Err: fmt.Errorf(format, args...)}
}

// TransientRemoteError is a remote failure that survived every retry.
type TransientRemoteError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientRemoteError) Error() string {
	return fmt.Sprintf("%s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }

// PermanentRemoteError is never retried.
type PermanentRemoteError struct {
	Op  string
	Err error
}

func (e *PermanentRemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentRemoteError) Unwrap() error { return e.Err }

// PartialWriteFailure is a batch that could not be committed.
type PartialWriteFailure struct {
	Collection  string
	DocumentIDs []string
	Attempts    int
	Err         error
}

func (e *PartialWriteFailure) Error() string {
	return fmt.Sprintf("commit of %d documents to %s failed after %d attempts: %v",
		len(e.DocumentIDs), e.Collection, e.Attempts, e.Err)
}

func (e *PartialWriteFailure) Unwrap() error { return e.Err }

// RemoteError wraps err from a remote call into the pipeline taxonomy.
func RemoteError(op string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	var (
		transient *TransientRemoteError
		permanent *PermanentRemoteError
	)
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return &TransientRemoteError{Op: op, Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	if retry.IsTransient(err) {
		return &TransientRemoteError{Op: op, Attempts: attempts, Err: err}
	}
	return &PermanentRemoteError{Op: op, Err: err}
}

// ErrorClass names the taxonomy bucket of err for logs and metrics.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	var (
		cfgErr    *ConfigurationError
		transient *TransientRemoteError
		permanent *PermanentRemoteError
		partial   *PartialWriteFailure
	)
	switch {
	case errors.As(err, &cfgErr):
		return ErrorClassConfiguration
	case errors.As(err, &partial):
		return ErrorClassPartialWrite
	case errors.As(err, &transient):
		return ErrorClassTransientRemote
	case errors.As(err, &permanent):
		return ErrorClassPermanentRemote
	case errors.Is(err, ErrMalformedRecord):
		return ErrorClassMalformed
	case errors.Is(err, context.Canceled):
		return ErrorClassCanceled
	}
	switch retry.Class(err) {
	case retry.ClassTransient:
		return ErrorClassTransientRemote
	case retry.ClassPermanent:
		return ErrorClassPermanentRemote
	}
	return ErrorClassUnknown
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, strings.TrimSpace(fmt.Sprintf(format, args...)))
}
