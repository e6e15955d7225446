package lifecycle

// MessageType identifies a control message.
type MessageType string

const (
	// SkipWaitingMessage activates the waiting generation right away.
	SkipWaitingMessage MessageType = "SKIP_WAITING"
	// ClearCacheMessage deletes the current generation.
	ClearCacheMessage MessageType = "CLEAR_CACHE"
)

// Message is a control message sent by the page.
type Message struct {
	Type MessageType `json:"type"`
	// Reply receives the answer to messages that have one.
	// It should be buffered, the sender blocks until it is read.
	Reply chan<- Reply `json:"-"`
}

// Reply answers a CLEAR_CACHE message.
type Reply struct {
	Success bool `json:"success"`
}
