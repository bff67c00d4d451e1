package registry

// TestingInsertConnected inserts a connection in StateConnected directly into
// the registry, bypassing Connect's dial. Other packages' tests use this to
// exercise collaborators (tunnel, ptysession) that need a connected
// connection id without standing up a real SSH transport.
func (r *Registry) TestingInsertConnected(id, host string, port int, username string) *Connection {
	conn := &Connection{ID: id, Config: Config{Host: host, Port: port, Username: username}, state: StateConnected}
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
	return conn
}
