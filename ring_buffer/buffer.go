package ring_buffer

// Buffer keeps the most recent items up to a fixed capacity. It is not safe
// for concurrent use.
type Buffer[T any] struct {
	buffer []T
	head   int
	filled int
}

func New[T any](size int) *Buffer[T] {
	if size < 1 {
		size = 1
	}

	return &Buffer[T]{
		buffer: make([]T, size),
	}
}

func (r *Buffer[T]) Add(items ...T) {
	for _, item := range items {
		r.buffer[r.head] = item
		r.head = (r.head + 1) % len(r.buffer)

		if r.filled < len(r.buffer) {
			r.filled++
		}
	}
}

// Read returns the held items oldest first. The slice is a copy.
func (r *Buffer[T]) Read() []T {
	items := make([]T, r.filled)
	start := (r.head - r.filled + len(r.buffer)) % len(r.buffer)

	for i := 0; i < r.filled; i++ {
		items[i] = r.buffer[(start+i)%len(r.buffer)]
	}

	return items
}

func (r *Buffer[T]) Len() int {
	return r.filled
}

func (r *Buffer[T]) Cap() int {
	return len(r.buffer)
}

func (r *Buffer[T]) Clear() {
	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}

	r.head = 0
	r.filled = 0
}
