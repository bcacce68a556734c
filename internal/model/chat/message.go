package chat

// AnonymousAuthor labels messages from clients that never supplied a name.
const AnonymousAuthor = "anonymous"

// MessageRecord is the durable unit of the relay. The log store assigns ID
// at commit time; a committed record never changes. The id travels as a
// decimal string on the wire so large values survive JSON number precision.
type MessageRecord struct {
	ID      int64             `json:"id,string"`
	Content string            `json:"content"`
	Author  string            `json:"author"`
	Meta    map[string]string `json:"meta,omitempty"`
}
