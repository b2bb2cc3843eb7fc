package util

import (
	"context"
	"errors"

	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	ErrorKindBusiness  = "business"
	ErrorKindTransport = "transport"
	ErrorKindCanceled  = "canceled"
	ErrorKindUnknown   = "unknown"
)

func ContinueOrFatal(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

// ErrorKind classifies err so business failures and infrastructure failures are logged apart.
func ErrorKind(err error) string {
	var transportErr *entity.TransportError
	switch {
	case err == nil:
		return ""
	case entity.IsBusinessFailure(err):
		return ErrorKindBusiness
	case errors.As(err, &transportErr), errors.Is(err, entity.ErrOrderLocked):
		return ErrorKindTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindUnknown
	}
}
