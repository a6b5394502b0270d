package errors

// Error codes for the bus and aggregator contracts. Keep stable; used
// across adapters, consumers, and the gateway.
const (
	ErrCodeBrokerUnavailable     = "parcelbus.broker_unavailable"
	ErrCodePublishFailed         = "parcelbus.publish_failed"
	ErrCodeSubscribeFailed       = "parcelbus.subscribe_failed"
	ErrCodeSerializationFailed   = "parcelbus.serialization_failed"
	ErrCodeMalformedEvent        = "parcelbus.malformed_event"
	ErrCodeUnknownEvent          = "parcelbus.unknown_event"
	ErrCodeHandlerFailure        = "parcelbus.handler_failure"
	ErrCodeNotFound              = "parcelbus.not_found"
	ErrCodeDependencyUnavailable = "parcelbus.dependency_unavailable"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrBrokerUnavailable     = Code(ErrCodeBrokerUnavailable)
	ErrPublishFailed         = Code(ErrCodePublishFailed)
	ErrSubscribeFailed       = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed   = Code(ErrCodeSerializationFailed)
	ErrMalformedEvent        = Code(ErrCodeMalformedEvent)
	ErrUnknownEvent          = Code(ErrCodeUnknownEvent)
	ErrHandlerFailure        = Code(ErrCodeHandlerFailure)
	ErrNotFound              = Code(ErrCodeNotFound)
	ErrDependencyUnavailable = Code(ErrCodeDependencyUnavailable)
)
