package bus

// InboundMessage is a normalized inbound chat message handed to the pipeline
// by a channel. Non-text payloads never reach the bus; channels drop them.
type InboundMessage struct {
	Channel   string            // originating channel name ("telegram", "discord", "cli")
	SenderID  string            // stable user key
	ChatID    string            // stable conversation key
	Content   string            // message text
	MessageID string            // channel-native message id, used for reply threading
	Metadata  map[string]string // sender metadata: name, handle, locale
}

// OpKind discriminates outbound send operations.
type OpKind string

const (
	OpText   OpKind = "text"
	OpPhoto  OpKind = "photo"
	OpAlbum  OpKind = "album"
	OpTyping OpKind = "typing"
)

// AlbumItem is one entry of an album send; Caption is set on the first item only.
type AlbumItem struct {
	URL     string
	Caption string
}

// OutboundMessage is one channel-send operation. The pipeline emits an
// ordered sequence of these per inbound message; channels execute them.
type OutboundMessage struct {
	Kind    OpKind
	Channel string
	ChatID  string
	ReplyTo string // message id to thread under, optional

	Text    string      // OpText body
	URL     string      // OpPhoto url
	Caption string      // OpPhoto caption
	Items   []AlbumItem // OpAlbum entries, at most 10
}
