// Package platform defines the chat-platform contract the core consumes.
// Implementations live in subpackages; the core never imports a platform
// client library directly.
package platform

import "context"

// File is an outgoing attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is outgoing content. Implementations always send with an
// empty-parse mention policy so model output cannot ping anyone.
type Message struct {
	Content string
	Files   []File
}

// SentMessage identifies a delivered message.
type SentMessage struct {
	ID        string
	ChannelID string
}

// ChannelRef is a resolved, sendable channel.
type ChannelRef interface {
	ID() string
	Name() string
	Send(ctx context.Context, msg Message) (*SentMessage, error)
	EditMessage(ctx context.Context, messageID, content string) error
	PinMessage(ctx context.Context, messageID string) error
}

// BulkDeleter is an optional channel capability: remove up to count recent
// messages in one call, returning the number actually deleted.
type BulkDeleter interface {
	BulkDelete(ctx context.Context, count int) (int, error)
}

// Resolver resolves channels within a guild. The ID path is tried first,
// then a case-insensitive name lookup against the cache with a fetch
// fallback. A nil ChannelRef with nil error means not found.
type Resolver interface {
	ResolveChannel(ctx context.Context, guildID, nameOrID string) (ChannelRef, error)
}

// Thread is one forum thread.
type Thread interface {
	ChannelRef
	ParentID() string
	Archived() bool
	AppliedTags() []string

	EditAppliedTags(ctx context.Context, tagIDs []string) error
	SetName(ctx context.Context, name string) error
	SetArchived(ctx context.Context, archived bool) error

	FetchStarterMessage(ctx context.Context) (*SentMessage, error)
	FetchPinned(ctx context.Context) ([]SentMessage, error)
	FetchMessage(ctx context.Context, messageID string) (*SentMessage, error)
}

// Forum is a forum-style channel holding threads.
type Forum interface {
	ID() string
	// Threads returns active plus archived threads keyed by thread ID.
	Threads(ctx context.Context) (map[string]Thread, error)
	CreateThread(ctx context.Context, name, content string, tagIDs []string) (Thread, error)
	AvailableTags(ctx context.Context) (map[string]string, error) // name -> id
}

// Client is the platform surface used by the sync engine and executor.
type Client interface {
	Resolver
	Forum(ctx context.Context, channelID string) (Forum, error)
}
