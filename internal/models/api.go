package models

// WebSocket message types pushed to dashboard clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type RoomSnapshotEvent struct {
	Records     []PresenceRecord `json:"records"`
	TotalOnline int              `json:"total_online"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type AdminLoginRequest struct {
	Password string `json:"password"`
}

type AdminToken struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}
