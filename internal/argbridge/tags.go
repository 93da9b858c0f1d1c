package argbridge

// Tags is the shared push/pop stack used to carry a tagged-union IPLD
// map's sole key across the boundary into a Wasm union value and back.
// It lives only for the duration of one conversion; nothing here is
// persisted.
type Tags struct {
	stack []string
}

// NewTags returns an empty tag stack.
func NewTags() *Tags { return &Tags{} }

// Push records a tag entering a tagged-union conversion.
func (t *Tags) Push(tag string) { t.stack = append(t.stack, tag) }

// Pop retrieves the most recently pushed tag, for use when reconstructing
// the IPLD map on the way back out of a union value.
func (t *Tags) Pop() (string, error) {
	if len(t.stack) == 0 {
		return "", ErrTagsEmpty
	}
	n := len(t.stack) - 1
	tag := t.stack[n]
	t.stack = t.stack[:n]
	return tag, nil
}

// Len reports how many tags are currently on the stack.
func (t *Tags) Len() int { return len(t.stack) }
