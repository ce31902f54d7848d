package logging

const (
	// request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// chat
	FieldRoom      = "room"
	FieldClientID  = "client_id"
	FieldMessageID = "message_id"
	FieldErrorKind = "error_kind"
	FieldMembers   = "members"

	FieldService = "service"
)
