package event

import "github.com/Sinio-Manoka/AIPex-sub000/pkg/types"

// MessagesUpdatedData is the data for messages_updated events. Messages are
// snapshots; subscribers may keep them.
type MessagesUpdatedData struct {
	Messages []*types.Message `json:"messages"`
}

// StatusChangedData is the data for status_changed events.
type StatusChangedData struct {
	Status types.Status `json:"status"`
}

// QueueChangedData is the data for queue_changed events.
type QueueChangedData struct {
	Queue []*types.Message `json:"queue"`
}

// ConversationData is the data for conversation.created and
// conversation.deleted events.
type ConversationData struct {
	ID string `json:"id"`
}

// ClientToolRequestData is the data for clienttool.request events.
type ClientToolRequestData struct {
	ClientID string `json:"clientID"`
	Request  any    `json:"request"`
}

// ClientToolRegisteredData is the data for clienttool.registered events.
type ClientToolRegisteredData struct {
	ClientID string   `json:"clientID"`
	ToolIDs  []string `json:"toolIDs"`
}

// ClientToolUnregisteredData is the data for clienttool.unregistered events.
type ClientToolUnregisteredData struct {
	ClientID string   `json:"clientID"`
	ToolIDs  []string `json:"toolIDs"`
}

// ClientToolStatusData is the data for clienttool.completed and
// clienttool.failed events.
type ClientToolStatusData struct {
	ClientID  string `json:"clientID"`
	RequestID string `json:"requestID"`
	MessageID string `json:"messageID,omitempty"`
	Tool      string `json:"tool"`
	Error     string `json:"error,omitempty"`
}
