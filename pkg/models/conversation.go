package models

import "github.com/brahmalabs/baman-engine/pkg/jsonutil"

// Role is the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry of a conversation transcript.
type Message struct {
	Sender  Role   `json:"sender"`
	Content string `json:"content"`
}

// Reference pairs an artifact with the digest the backend used as evidence.
type Reference struct {
	Content ContentArtifact `json:"content"`
	Digest  Digest          `json:"digest"`
}

// ReferenceSet is the evidence returned for the most recent exchange.
// The backend names the supporting corpus "supported".
type ReferenceSet struct {
	Own       []Reference `json:"own"`
	Supported []Reference `json:"supported"`
}

// For returns the references drawn from the given corpus.
func (r ReferenceSet) For(tag CorpusTag) []Reference {
	if tag == CorpusSupporting {
		return r.Supported
	}
	return r.Own
}

// Len is the total number of references.
func (r ReferenceSet) Len() int {
	return len(r.Own) + len(r.Supported)
}

// ConversationSummary is an entry of the conversation picker.
type ConversationSummary struct {
	ID    jsonutil.FlexibleString `json:"id"`
	Title string                  `json:"title"`
}

// Conversation is the full history of one (assistant, student) conversation.
type Conversation struct {
	ID         string       `json:"id"`
	Title      string       `json:"title,omitempty"`
	Messages   []Message    `json:"messages"`
	References ReferenceSet `json:"references"`
}
