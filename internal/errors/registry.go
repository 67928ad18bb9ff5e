package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Kind       Kind
	Message    string
	Suggestion string
}

// Registry codes used across the module.
const (
	CodeNotReady           = "EB001"
	CodeDisposed           = "EB002"
	CodeCreateTimeout      = "EB003"
	CodeEventSetupTimeout  = "EB004"
	CodeCommunication      = "EB010"
	CodeUnexpectedReply    = "EB011"
	CodeMissingChunk       = "EB020"
	CodeIncompleteTransfer = "EB021"
	CodeChecksumMismatch   = "EB022"
	CodeInvalidChunk       = "EB023"
	CodeInvalidEnvelope    = "EB024"
	CodeUnsupported        = "EB030"
	CodeInvalidConfig      = "EB040"
)

var registry = map[string]ErrorTemplate{
	// ============================================
	// Lifecycle (EB001-EB009)
	// ============================================

	CodeNotReady: {
		Kind:       KindNotReady,
		Message:    "Engine not ready",
		Suggestion: "Wait for Create to succeed, or use QueueMessage to buffer until ready.",
	},
	CodeDisposed: {
		Kind:    KindDisposed,
		Message: "Engine controller disposed",
	},
	CodeCreateTimeout: {
		Kind:       KindTimeout,
		Message:    "Platform view creation timeout",
		Suggestion: "The native handler for this view never registered. Check that the view was embedded, then retry.",
	},
	CodeEventSetupTimeout: {
		Kind:       KindTimeout,
		Message:    "Event stream setup timeout",
		Suggestion: "The native event emitter for this view never became available. Retry after the view is visible.",
	},

	// ============================================
	// Communication (EB010-EB019)
	// ============================================

	CodeCommunication: {
		Kind:    KindCommunication,
		Message: "Engine communication failure",
	},
	CodeUnexpectedReply: {
		Kind:    KindCommunication,
		Message: "Unexpected reply from native side",
	},

	// ============================================
	// Binary transfer (EB020-EB029)
	// ============================================

	CodeMissingChunk: {
		Kind:       KindMissingChunk,
		Message:    "Missing chunk",
		Suggestion: "Chunks may still be in flight; wait for the remaining data chunks.",
	},
	CodeIncompleteTransfer: {
		Kind:       KindIncompleteTransfer,
		Message:    "Incomplete transfer",
		Suggestion: "Not every data chunk arrived before the footer. Wait longer or resend the transfer.",
	},
	CodeChecksumMismatch: {
		Kind:       KindChecksumMismatch,
		Message:    "Checksum mismatch",
		Suggestion: "The payload was corrupted in transit. Request the whole transfer again.",
	},
	CodeInvalidChunk: {
		Kind:    KindInvalidChunk,
		Message: "Invalid chunk",
	},
	CodeInvalidEnvelope: {
		Kind:    KindInvalidEnvelope,
		Message: "Invalid binary envelope",
	},

	// ============================================
	// Capability and configuration (EB030-EB049)
	// ============================================

	CodeUnsupported: {
		Kind:    KindUnsupported,
		Message: "Operation not supported by engine",
	},
	CodeInvalidConfig: {
		Kind:    KindConfig,
		Message: "Invalid configuration",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
