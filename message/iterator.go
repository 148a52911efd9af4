package message

// Iterator provides an API for iterating a finite list of messages. Each call
// to a cache's MessagesFor method returns a fresh Iterator instance so that
// iteration can be restarted by obtaining a new iterator.
type Iterator interface {
	// Next advances the iterator so that the next message can be retrieved
	// via a call to Message(). If no more messages are available, Next()
	// returns false.
	Next() bool

	// Message returns the message currently pointed to by the iterator.
	Message() interface{}

	// Error returns the last error that the iterator encountered.
	Error() error
}

// sliceIterator iterates a buffer of accumulated raw message values.
type sliceIterator struct {
	msgs       []interface{}
	latchedMsg interface{}
}

func newSliceIterator(msgs []interface{}) *sliceIterator {
	return &sliceIterator{msgs: msgs}
}

// Next implements Iterator.
func (it *sliceIterator) Next() bool {
	if len(it.msgs) == 0 {
		return false
	}
	it.latchedMsg = it.msgs[0]
	it.msgs = it.msgs[1:]
	return true
}

// Message implements Iterator.
func (it *sliceIterator) Message() interface{} { return it.latchedMsg }

// Error implements Iterator.
func (*sliceIterator) Error() error { return nil }

// singleIterator yields exactly one combined message value.
type singleIterator struct {
	msg     interface{}
	visited bool
}

func newSingleIterator(msg interface{}) *singleIterator {
	return &singleIterator{msg: msg}
}

// Next implements Iterator.
func (it *singleIterator) Next() bool {
	if it.visited {
		return false
	}
	it.visited = true
	return true
}

// Message implements Iterator.
func (it *singleIterator) Message() interface{} { return it.msg }

// Error implements Iterator.
func (*singleIterator) Error() error { return nil }

// emptyIterator is returned for vertices without any pending messages.
type emptyIterator struct{}

// Next implements Iterator.
func (emptyIterator) Next() bool { return false }

// Message implements Iterator.
func (emptyIterator) Message() interface{} { return nil }

// Error implements Iterator.
func (emptyIterator) Error() error { return nil }
