package lootboxgrpc

import (
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/lootbox"
)

// Domain is the ErrorInfo domain of lootbox errors.
const Domain = "lootbox"

// grpcCode maps an error kind to a gRPC status code.
func grpcCode(c lootbox.Code) codes.Code {
	switch c {
	case lootbox.CodeUnauthorized:
		return codes.PermissionDenied
	case lootbox.CodeSupplyExhausted:
		return codes.ResourceExhausted
	case lootbox.CodeZeroAmount, lootbox.CodeInvalidConfig:
		return codes.InvalidArgument
	case lootbox.CodeInvalidOption, lootbox.CodeInvalidCategory:
		return codes.NotFound
	case lootbox.CodeInsufficientBoxBalance, lootbox.CodeAllocatorExhausted:
		return codes.FailedPrecondition
	case lootbox.CodeReentrant:
		return codes.Aborted
	case lootbox.CodeNotReady:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts an engine error into a gRPC status error carrying
// an ErrorInfo with the error code as reason.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	e, ok := lootbox.AsError(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	st := status.New(grpcCode(e.Code), e.Message)
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

// fromStatus turns a status error back into a *lootbox.Error when it
// carries lootbox ErrorInfo, so errors.Is works across the wire.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != Domain {
			continue
		}
		return &lootbox.Error{
			Code:     lootbox.Code(info.GetReason()),
			Message:  st.Message(),
			Metadata: info.GetMetadata(),
		}
	}
	if st.Code() == codes.Unavailable {
		return lootbox.Wrap(lootbox.CodeNotReady, st.Message(), err)
	}
	return err
}
