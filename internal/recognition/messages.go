package recognition

// Actions exchanged with the recognition socket.
const (
	ActionImageRecognition = "qwenvl_image_recognition"
	ActionError            = "error"
)

// recognitionRequest is the outbound frame for an image recognition call. The
// request_id is attached client-side so responses can be correlated; servers
// that do not echo it are matched by action instead.
type recognitionRequest struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Image     string `json:"image"`
}

// inboundMessage covers both the result frame {action, result} and the error
// frame {action:"error", message}.
type inboundMessage struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Result    string `json:"result,omitempty"`
	Message   string `json:"message,omitempty"`
}
