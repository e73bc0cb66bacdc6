package models

import "errors"

// ErrModelNotFound is returned when a model id is not present in the catalog
var ErrModelNotFound = errors.New("model not found")

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation history sent to the model
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ToolCallType string

const (
	ToolCallNative ToolCallType = "native"
	ToolCallManual ToolCallType = "manual"
)

// Model describes a selectable language model
type Model struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Provider      string       `json:"provider"`
	ProviderID    string       `json:"providerId"`
	Enabled       bool         `json:"enabled"`
	ToolCallType  ToolCallType `json:"toolCallType"`
	ToolCallModel string       `json:"toolCallModel,omitempty"`
}

// QualifiedID returns the "<providerId>:<id>" key used to route requests.
func (m Model) QualifiedID() string {
	return m.ProviderID + ":" + m.ID
}

// FindModel looks up a model by id or qualified id.
func FindModel(list []Model, id string) (Model, error) {
	for _, m := range list {
		if m.ID == id || m.QualifiedID() == id {
			return m, nil
		}
	}
	return Model{}, ErrModelNotFound
}
