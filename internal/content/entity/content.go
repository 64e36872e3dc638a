package entity

// Kind identifies a content type that can be cascaded on account deletion.
type Kind string

const (
	KindNode    Kind = "node"
	KindComment Kind = "comment"
)

// Kinds lists every supported kind in cascade order. Comments go first so
// nodes are never removed while replies still reference them.
var Kinds = []Kind{KindComment, KindNode}

// Table returns the backing table of k and false for unknown kinds.
func (k Kind) Table() (string, bool) {
	switch k {
	case KindNode:
		return "nodes", true
	case KindComment:
		return "comments", true
	}
	return "", false
}

func (k Kind) Valid() bool {
	_, ok := k.Table()
	return ok
}

// Item is one authored piece of content.
type Item struct {
	ID        string `db:"id"`
	AuthorID  string `db:"author_id"`
	Title     string `db:"title"`
	Body      string `db:"body"`
	CreatedAt int64  `db:"created_at"`
}
