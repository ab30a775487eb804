package constants

const (
	DefaultHealthCheckEndpoint = "/internal/health"
	DefaultOllaProxyPathPrefix = "/olla/"
	DefaultPathPrefix          = "/"

	// OpenAI-compatible API paths
	PathV1ChatCompletions = "/v1/chat/completions"
	PathV1Completions     = "/v1/completions"
)
