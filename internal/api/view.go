package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	chatsync "github.com/matheus3301/carechat/internal/sync"
	"github.com/matheus3301/carechat/internal/wire"
)

// ViewDoc is the JSON shape of the UI view carried in a structpb.Struct.
type ViewDoc struct {
	Version             uint64              `json:"version"`
	Conversations       []wire.Conversation `json:"conversations"`
	CurrentConversation *wire.Conversation  `json:"currentConversation,omitempty"`
	Messages            []wire.Message      `json:"messages"`
	UnreadCount         int                 `json:"unreadCount"`
	IsLoading           bool                `json:"isLoading"`
	Error               string              `json:"error,omitempty"`
	IsConnected         bool                `json:"isConnected"`
	State               string              `json:"state"`
	Typing              map[string]string   `json:"typing,omitempty"`
}

// StatusDoc describes the daemon.
type StatusDoc struct {
	Profile    string `json:"profile"`
	UserID     string `json:"userId,omitempty"`
	Connection string `json:"connection"`
	State      string `json:"state"`
	PID        int    `json:"pid"`
}

func newViewDoc(v chatsync.View) ViewDoc {
	doc := ViewDoc{
		Version:       v.Version,
		Conversations: make([]wire.Conversation, 0, len(v.Conversations)),
		Messages:      make([]wire.Message, 0, len(v.Messages)),
		UnreadCount:   v.UnreadCount,
		IsLoading:     v.IsLoading,
		Error:         v.Error,
		IsConnected:   v.IsConnected,
		State:         string(v.State),
		Typing:        v.Typing,
	}
	for _, c := range v.Conversations {
		doc.Conversations = append(doc.Conversations, wire.FromConversation(c))
	}
	if v.Current != nil {
		c := wire.FromConversation(*v.Current)
		doc.CurrentConversation = &c
	}
	for _, m := range v.Messages {
		doc.Messages = append(doc.Messages, wire.FromMessage(m))
	}
	return doc
}

// toStruct converts any JSON-encodable value to a structpb.Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return out, nil
}

// fromStruct decodes a structpb.Struct into v.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
