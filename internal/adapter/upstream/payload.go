// Package upstream builds impersonated HTTP requests against the
// upstream's private chat endpoints, streams raw SSE/NDJSON lines back,
// and implements the share/clone conversation contract (§4.C), ported
// from original_source/app/services/reverse/app_chat.py (SPEC_FULL.md §11).
package upstream

// ChatPayload is the upstream's app-chat request body. Field set and
// names are ported from AppChatReverse.build_payload verbatim.
type ChatPayload struct {
	DeviceEnvInfo       DeviceEnvInfo          `json:"deviceEnvInfo"`
	DisableMemory       bool                   `json:"disableMemory"`
	DisableSearch       bool                   `json:"disableSearch"`
	DisableSelfHarm     bool                   `json:"disableSelfHarmShortCircuit"`
	DisableTextFollow   bool                   `json:"disableTextFollowUps"`
	EnableImageGen      bool                   `json:"enableImageGeneration"`
	EnableImageStream   bool                   `json:"enableImageStreaming"`
	EnableSideBySide    bool                   `json:"enableSideBySide"`
	FileAttachments     []string               `json:"fileAttachments"`
	ForceConcise        bool                   `json:"forceConcise"`
	ForceSideBySide     bool                   `json:"forceSideBySide"`
	ImageAttachments    []string               `json:"imageAttachments"`
	ImageGenerationCnt  int                    `json:"imageGenerationCount"`
	IsAsyncChat         bool                   `json:"isAsyncChat"`
	IsReasoning         bool                   `json:"isReasoning"`
	Message             string                 `json:"message"`
	ModelMode           string                 `json:"modelMode,omitempty"`
	ModelName           string                 `json:"modelName"`
	ResponseMetadata    ResponseMetadata       `json:"responseMetadata"`
	ReturnImageBytes    bool                   `json:"returnImageBytes"`
	ReturnRawGrok       bool                   `json:"returnRawGrokInXaiRequest"`
	SendFinalMetadata   bool                   `json:"sendFinalMetadata"`
	Temporary           bool                   `json:"temporary"`
	ToolOverrides       map[string]interface{} `json:"toolOverrides"`
	ParentResponseID    string                 `json:"parentResponseId,omitempty"`
}

type DeviceEnvInfo struct {
	DarkModeEnabled   bool `json:"darkModeEnabled"`
	DevicePixelRatio  int  `json:"devicePixelRatio"`
	ScreenWidth       int  `json:"screenWidth"`
	ScreenHeight      int  `json:"screenHeight"`
	ViewportWidth     int  `json:"viewportWidth"`
	ViewportHeight    int  `json:"viewportHeight"`
}

type ResponseMetadata struct {
	RequestModelDetails RequestModelDetails    `json:"requestModelDetails"`
	ModelConfigOverride map[string]interface{} `json:"modelConfigOverride,omitempty"`
}

type RequestModelDetails struct {
	ModelID string `json:"modelId"`
}

func defaultDeviceEnvInfo() DeviceEnvInfo {
	return DeviceEnvInfo{
		DarkModeEnabled:  false,
		DevicePixelRatio: 2,
		ScreenWidth:      2056,
		ScreenHeight:     1329,
		ViewportWidth:    2056,
		ViewportHeight:   1083,
	}
}

// BuildRequest mirrors AppChatReverse.build_payload /
// build_continue_payload: parentResponseID non-empty marks a
// continuation on an existing conversation.
type BuildRequest struct {
	Message             string
	Model               string
	Mode                string
	ParentResponseID    string
	FileAttachments     []string
	ToolOverrides       map[string]interface{}
	ModelConfigOverride map[string]interface{}
	DisableMemory       bool
	Temporary           bool
}

func BuildPayload(req BuildRequest) ChatPayload {
	attachments := req.FileAttachments
	if attachments == nil {
		attachments = []string{}
	}
	overrides := req.ToolOverrides
	if overrides == nil {
		overrides = map[string]interface{}{}
	}

	payload := ChatPayload{
		DeviceEnvInfo:      defaultDeviceEnvInfo(),
		DisableMemory:      req.DisableMemory,
		EnableImageGen:     true,
		EnableImageStream:  true,
		EnableSideBySide:   true,
		FileAttachments:    attachments,
		ImageAttachments:   []string{},
		ImageGenerationCnt: 2,
		Message:            req.Message,
		ModelMode:          req.Mode,
		ModelName:          req.Model,
		ResponseMetadata: ResponseMetadata{
			RequestModelDetails: RequestModelDetails{ModelID: req.Model},
		},
		SendFinalMetadata: true,
		Temporary:         req.Temporary,
		ToolOverrides:     overrides,
		ParentResponseID:  req.ParentResponseID,
	}

	if req.ModelConfigOverride != nil {
		payload.ResponseMetadata.ModelConfigOverride = req.ModelConfigOverride
	}
	return payload
}
