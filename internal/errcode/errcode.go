package errcode

// Error codes carried in board WebSocket frames and worker notifications:
// - 0: no error
// - 4xxx: operator-recoverable (bad input, missing card, save dropped)
// - 5xxx: system errors
const (
	OK           = 0
	BadRequest   = 4000
	Unauthorized = 4001
	NotFound     = 4004
	SaveInFlight = 4009
	SystemError  = 5000
)
