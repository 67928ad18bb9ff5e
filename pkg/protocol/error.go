package protocol

// ErrorCode classifies a failed call on the wire.
type ErrorCode uint16

const (
	ErrUnknown           ErrorCode = 0x0000 // Unknown error
	ErrInvalidFrame      ErrorCode = 0x0001 // Malformed frame
	ErrInvalidCall       ErrorCode = 0x0002 // Malformed call or arguments
	ErrNotRegistered     ErrorCode = 0x0003 // No handler registered for the view yet
	ErrNotImplemented    ErrorCode = 0x0004 // Method not supported by this engine
	ErrHandlerPanic      ErrorCode = 0x0005 // Handler panicked
	ErrEngineFailure     ErrorCode = 0x0100 // Engine runtime reported a failure
	ErrTransferIntegrity ErrorCode = 0x0101 // Chunk reassembly failed
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrUnknown:
		return "Unknown"
	case ErrInvalidFrame:
		return "InvalidFrame"
	case ErrInvalidCall:
		return "InvalidCall"
	case ErrNotRegistered:
		return "NotRegistered"
	case ErrNotImplemented:
		return "NotImplemented"
	case ErrHandlerPanic:
		return "HandlerPanic"
	case ErrEngineFailure:
		return "EngineFailure"
	case ErrTransferIntegrity:
		return "TransferIntegrity"
	default:
		return "Unknown"
	}
}
