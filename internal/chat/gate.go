package chat

// Gate admits peers whose announced protocol version is exactly ours.
// There are no version ranges: anything else is rejected.
type Gate struct {
	version string
}

// NewGate returns a gate for the local protocol version
func NewGate(version string) *Gate {
	return &Gate{version: version}
}

// Version returns the string peers must announce
func (g *Gate) Version() string {
	return g.version
}

// Admit reports whether a peer announcing the given version may join the mesh
func (g *Gate) Admit(announced string) bool {
	return g.version != "" && announced == g.version
}
