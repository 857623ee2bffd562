package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	World           WorldParams  `json:"world"`
	Limits          SessionLimit `json:"limits"`
}

type WorldParams struct {
	Seed      string `json:"seed"`
	ChunkSize int    `json:"chunk_size"`
	// ExpirationMS is how long chunks stay loaded after their last hold ends.
	ExpirationMS int64 `json:"expiration_ms"`
}

type SessionLimit struct {
	MaxHolds       int     `json:"max_holds"`
	MaxRadius      int     `json:"max_radius"`
	HoldsPerSecond float64 `json:"holds_per_second"`
}

// HOLD (client -> server). Reusing a hold_id replaces the previous hold.
type HoldMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	HoldID          string   `json:"hold_id"`
	Coordinate      [3]int64 `json:"coordinate"`
	Level           string   `json:"level"`
	Radius          int      `json:"radius,omitempty"`
}

// HELD (server -> client): the ticket was submitted.
type HeldMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HoldID          string `json:"hold_id"`
	Ticket          string `json:"ticket"`
	Chunks          int    `json:"chunks"`
}

// REALIZED (server -> client): the loader processed the ticket.
type RealizedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HoldID          string `json:"hold_id"`
	Outcome         string `json:"outcome"`
	Loaded          int    `json:"loaded"`
	Reused          int    `json:"reused"`
	Failed          int    `json:"failed"`
	Error           string `json:"error,omitempty"`
}

// RELEASE (client -> server)
type ReleaseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HoldID          string `json:"hold_id"`
}

// RELEASED (server -> client)
type ReleasedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HoldID          string `json:"hold_id"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HoldID          string `json:"hold_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(holdID, code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		HoldID:          holdID,
		Code:            code,
		Message:         message,
	}
}
