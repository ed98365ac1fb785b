package bitcoin

// ClientFactory builds a new node client.
type ClientFactory func() (NodeClient, error)

// ClientHolder lazily creates a node client and drops it on Reset so that the next
// call dials a fresh one. A holder belongs to a single worker slot and is not safe
// for concurrent use.
type ClientHolder struct {
	factory ClientFactory
	client  NodeClient
}

// NewClientHolder returns a holder that builds clients with factory.
func NewClientHolder(factory ClientFactory) *ClientHolder {
	return &ClientHolder{factory: factory}
}

// Client returns the cached client, creating it on first use.
func (h *ClientHolder) Client() (NodeClient, error) {
	if h.client != nil {
		return h.client, nil
	}
	client, err := h.factory()
	if err != nil {
		return nil, err
	}
	h.client = client
	return client, nil
}

// Reset discards the cached client.
func (h *ClientHolder) Reset() {
	if h.client == nil {
		return
	}
	if s, ok := h.client.(interface{ Shutdown() }); ok {
		s.Shutdown()
	}
	h.client = nil
}
