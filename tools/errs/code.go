package errs

// Error codes for the chat core. 11xx auth, 12xx room access,
// 13xx validation, 15xx server side.
const (
	TokenInvalidCode   = 1101
	TokenExpiredCode   = 1102
	AccessDeniedCode   = 1201
	RoomNotFoundCode   = 1202
	ValidationCode     = 1301
	InternalServerCode = 1501
	StorageFailureCode = 1502
	NotConnectedCode   = 1601
	RoomNotJoinedCode  = 1602
	ConnectionLostCode = 1603
	SendTimeoutCode    = 1604
)

var (
	ErrTokenInvalid   = NewCodeError(TokenInvalidCode, "invalid token")
	ErrTokenExpired   = NewCodeError(TokenExpiredCode, "token expired")
	ErrAccessDenied   = NewCodeError(AccessDeniedCode, "Access denied to this chat")
	ErrRoomNotFound   = NewCodeError(RoomNotFoundCode, "Chat room not found")
	ErrValidation     = NewCodeError(ValidationCode, "validation failed")
	ErrInternalServer = NewCodeError(InternalServerCode, "internal server error")
	ErrStorageFailure = NewCodeError(StorageFailureCode, "storage failure")

	// Client-side conditions, kept in the same taxonomy so the SDK and the
	// gateway speak one error vocabulary.
	ErrNotConnected   = NewCodeError(NotConnectedCode, "not connected")
	ErrRoomNotJoined  = NewCodeError(RoomNotJoinedCode, "room not joined")
	ErrConnectionLost = NewCodeError(ConnectionLostCode, "connection lost, please refresh")
	ErrSendTimeout    = NewCodeError(SendTimeoutCode, "send timed out")
)
