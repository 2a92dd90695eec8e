package httpserver

const (
	ErrInvalidJSON   = "invalid json"
	ErrInvalidMode   = "invalid mode"
	ErrNotFound      = "not found"
	ErrDependency    = "dependency error"
	ErrRunInProgress = "run already in progress"
	ErrNotConfigured = "not configured"
)
