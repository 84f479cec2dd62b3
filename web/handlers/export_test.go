package handlers

// MockClient is a hub subscriber backed by a plain channel.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) sendChannel() chan []byte { return m.SendChan }

func (m *MockClient) close() {}
