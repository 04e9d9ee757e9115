package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "AI request exceeded time limit",
		SuggestedAction: "Raise ai.timeout in ~/.meeting-digest/config.yaml",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "Primary and fallback models are rate limited",
		SuggestedAction: "Wait and rerun: digest process <meeting-id>",
	},
	ErrModelUnavailable: {
		Code:            ErrModelUnavailable,
		Retryable:       true,
		Description:     "AI provider unreachable",
		SuggestedAction: "Check ai.base_url and network access to the provider",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Run was cancelled (client disconnected or shutdown)",
		SuggestedAction: "Rerun the meeting if the cancellation was unintended",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       false,
		Description:     "Model output was not valid JSON or failed validation",
		SuggestedAction: "Inspect the run log: digest runs show <meeting-id>",
	},
	ErrEmptyContent: {
		Code:            ErrEmptyContent,
		Retryable:       false,
		Description:     "Transcript is empty",
		SuggestedAction: "Upload a non-empty text transcript",
	},
	ErrNotConfigured: {
		Code:            ErrNotConfigured,
		Retryable:       false,
		Description:     "No AI provider key configured",
		SuggestedAction: "Set OPENROUTER_API_KEY or run: digest auth set-key",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check service logs for the meeting id",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check service logs for the meeting id"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
