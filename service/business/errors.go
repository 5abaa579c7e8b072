package business

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrorInitializationFail = status.Error(codes.Internal, "Internal configuration is invalid")

	ErrorCheckoutDoesNotExist = status.Error(codes.NotFound, "Specified checkout does not exist")

	ErrorTicketDoesNotExist = status.Error(codes.NotFound, "Specified ticket does not exist")

	ErrorCheckoutClosed = status.Error(codes.FailedPrecondition, "Specified checkout has already been closed")
)
