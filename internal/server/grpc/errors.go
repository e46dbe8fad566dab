package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/leaseflow/internal/errs"
)

const errorDomain = "leaseflow"

var grpcCodes = map[string]codes.Code{
	errs.CodeInvalidTransition:      codes.FailedPrecondition,
	errs.CodeNoLandlord:             codes.FailedPrecondition,
	errs.CodeVerificationFailed:     codes.FailedPrecondition,
	errs.CodeAlreadyApproved:        codes.AlreadyExists,
	errs.CodeAlreadyRejected:        codes.AlreadyExists,
	errs.CodeAlreadyPendingApproval: codes.AlreadyExists,
	errs.CodeAlreadySigned:          codes.AlreadyExists,
	errs.CodeNoPendingApproval:      codes.NotFound,
	errs.CodeNotFound:               codes.NotFound,
	errs.CodeRateLimitExceeded:      codes.ResourceExhausted,
	errs.CodeSendingFailure:         codes.Unavailable,
	errs.CodeLinkInvalid:            codes.PermissionDenied,
	errs.CodeConflict:               codes.Aborted,
	errs.CodeInvalidArgument:        codes.InvalidArgument,
}

// toStatus maps a service error to a gRPC status carrying the stable code as ErrorInfo.Reason.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	code := errs.Code(err)
	c, ok := grpcCodes[code]
	if !ok {
		c = codes.Internal
	}
	msg := errs.Message(err)
	if code == errs.CodeInvalidArgument {
		msg = err.Error()
	}
	st := status.New(c, msg)
	if ds, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: code, Domain: errorDomain}); derr == nil {
		st = ds
	}
	return st.Err()
}

// ReasonOf returns the stable error code carried by a status error, or "".
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason()
		}
	}
	return ""
}
