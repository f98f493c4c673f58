package protocol

// VIEW (client -> server). An empty viewer id asks the server to assign one.
type ViewMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ViewerID        string `json:"viewer_id,omitempty"`
	World           string `json:"world"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ViewerID        string      `json:"viewer_id"`
	World           string      `json:"world"`
	PaletteDigest   string      `json:"palette_digest"`
	Portals         []PortalRef `json:"portals"`
}

type PortalRef struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	World     string     `json:"world"`
	Center    [3]float64 `json:"center"`
	Direction string     `json:"direction"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
}

// MOVE (client -> server). Refresh asks for a full resend, e.g. after a
// teleport.
type MoveMsg struct {
	Type    string     `json:"type"`
	Pos     [3]float64 `json:"pos"`
	Refresh bool       `json:"refresh,omitempty"`
}

// BLOCK_BATCH (server -> client). One message per 16^3 section.
type BlockBatchMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Section         [3]int       `json:"section"`
	Blocks          []BlockEntry `json:"blocks"`
}

type BlockEntry struct {
	Pos   [3]int            `json:"pos"`
	Block string            `json:"block"`
	Props map[string]string `json:"props,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
