package sip

// StatusCode is a SIP response status code, 1xx through 6xx.
type StatusCode uint16

// Status codes referenced directly by the transaction FSMs and the UAS
// validation pipeline.
const (
	StatusTrying                    StatusCode = 100
	StatusRinging                   StatusCode = 180
	StatusOK                        StatusCode = 200
	StatusMultipleChoices           StatusCode = 300
	StatusBadRequest                StatusCode = 400
	StatusMethodNotAllowed          StatusCode = 405
	StatusRequestTerminated         StatusCode = 487
	StatusBadExtension              StatusCode = 420
	StatusLoopDetected              StatusCode = 482
	StatusCallTransactionDoesNotExist StatusCode = 481
	StatusServerInternalError       StatusCode = 500
	StatusServiceUnavailable        StatusCode = 503
)

// IsProvisional reports whether code is a 1xx response.
func (code StatusCode) IsProvisional() bool { return code >= 100 && code < 200 }

// IsSuccess reports whether code is a 2xx response.
func (code StatusCode) IsSuccess() bool { return code >= 200 && code < 300 }

// IsFinal reports whether code is a final response (>= 200).
func (code StatusCode) IsFinal() bool { return code >= 200 }

// ReasonPhrase returns a default reason phrase for well-known codes, or a
// generic placeholder otherwise. Callers may always supply their own.
func ReasonPhrase(code StatusCode) string {
	switch code {
	case StatusTrying:
		return "Trying"
	case StatusRinging:
		return "Ringing"
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusRequestTerminated:
		return "Request Terminated"
	case StatusBadExtension:
		return "Bad Extension"
	case StatusLoopDetected:
		return "Loop Detected"
	case StatusCallTransactionDoesNotExist:
		return "Call/Transaction Does Not Exist"
	case StatusServerInternalError:
		return "Server Internal Error"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
