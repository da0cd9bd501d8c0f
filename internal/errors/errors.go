// Package errors defines the closed set of error kinds that can cross a
// component boundary in the data plane, and maps each to the gRPC status
// code the service returns to clients. It replaces the source's use of
// exceptions as control flow with an explicit result-or-error value:
// every fallible operation in this repository returns (T, error), and
// any error that should be visible to a gRPC caller is (or wraps) one of
// the Kind values below.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind enumerates the error categories from the specification's error
// handling design, grouped by where they originate.
type Kind int

const (
	// Input errors: the caller supplied a bad request.
	EInputValidation Kind = iota
	EUnknownTenant
	ESchemaIncompatible

	// State errors: detected by the metadata store.
	EMissingItem
	EDuplicateItem
	EWrongItemType

	// Data errors: codec or storage content problems.
	EDataCorruption
	EDataConstraint
	EDataSize

	// Resource errors.
	EStorageIO
	ELockTimeout

	// Internal errors.
	EUnexpected
	ETracInternal

	// Boundary errors (gateway layer only; defined here for completeness
	// of the enum, never raised by this core).
	ENetworkHttp

	// Cancellation, raised on either side aborting a stream.
	ECancelled
)

var names = map[Kind]string{
	EInputValidation:    "EInputValidation",
	EUnknownTenant:      "EUnknownTenant",
	ESchemaIncompatible: "ESchemaIncompatible",
	EMissingItem:        "EMissingItem",
	EDuplicateItem:      "EDuplicateItem",
	EWrongItemType:      "EWrongItemType",
	EDataCorruption:     "EDataCorruption",
	EDataConstraint:     "EDataConstraint",
	EDataSize:           "EDataSize",
	EStorageIO:          "EStorageIO",
	ELockTimeout:        "ELockTimeout",
	EUnexpected:         "EUnexpected",
	ETracInternal:       "ETracInternal",
	ENetworkHttp:        "ENetworkHttp",
	ECancelled:          "ECancelled",
}

// grpcCode implements the §6 error-code mapping table.
var grpcCode = map[Kind]codes.Code{
	EInputValidation:    codes.InvalidArgument,
	EUnknownTenant:      codes.InvalidArgument,
	ESchemaIncompatible: codes.InvalidArgument,
	EMissingItem:        codes.NotFound,
	EDuplicateItem:      codes.AlreadyExists,
	EWrongItemType:      codes.FailedPrecondition,
	EDataCorruption:     codes.DataLoss,
	EDataConstraint:     codes.DataLoss,
	EDataSize:           codes.ResourceExhausted,
	EStorageIO:          codes.Internal,
	ELockTimeout:        codes.Internal,
	EUnexpected:         codes.Internal,
	ETracInternal:       codes.Internal,
	ENetworkHttp:        codes.Internal,
	ECancelled:          codes.Canceled,
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the sum-type error value that crosses component boundaries.
// It carries a Kind, a message, and (via pkg/errors) a captured stack at
// the point it was raised.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

// New creates an Error of the given kind with a formatted message,
// capturing a stack trace at this call site.
func New(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, msg: msg, cause: pkgerrors.New(msg)}
}

// Wrap annotates an existing error with a Kind and message, preserving
// the original error as the cause (and its stack trace, if it has one).
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, msg: msg, cause: pkgerrors.Wrap(cause, msg)}
}

func (e *Error) Error() string {
	return e.msg
}

// Unwrap allows errors.Is/errors.As to see through to the original cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// GRPCStatus implements the interface grpc-go looks for (via
// status.FromError) when translating a returned error into a wire
// status, so handlers can simply `return nil, err`.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(grpcCode[e.Kind], e.msg)
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errors.New(EMissingItem, "")) style checks via
// KindOf instead (see KindOf), since comparing messages would be wrong.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// KindOf extracts the Kind from err if it is, or wraps, an *Error;
// otherwise it returns EUnexpected, since an error that reached a gRPC
// boundary without being classified is itself a design-level bug (an
// invariant violation), not a recoverable condition.
func KindOf(err error) Kind {
	var e *Error
	if pkgerrors.As(err, &e) {
		return e.Kind
	}
	return EUnexpected
}
