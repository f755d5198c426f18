package audio

// MemChunk is a fixed-capacity region filled front to back.
type MemChunk struct {
	data []byte
	fill int
}

func NewMemChunk(size int) *MemChunk {
	return &MemChunk{data: make([]byte, size)}
}

// Declare reserves n bytes and returns them for writing, or false if
// fewer than n bytes are left.
func (m *MemChunk) Declare(n int) ([]byte, bool) {
	if m.fill+n > len(m.data) {
		return nil, false
	}
	b := m.data[m.fill : m.fill+n]
	m.fill += n
	return b, true
}

// Bytes returns the filled part.
func (m *MemChunk) Bytes() []byte { return m.data[:m.fill] }

func (m *MemChunk) Len() int { return m.fill }

func (m *MemChunk) Cap() int { return len(m.data) }
