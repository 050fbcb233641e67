package service

import "errors"

var (
	// ErrInvalidUser is returned when userID is missing or blank.
	ErrInvalidUser = errors.New("user_id is required")
	// ErrInvalidAgent is returned when agentID is missing or blank.
	ErrInvalidAgent = errors.New("agent_id is required")
	// ErrEmptyContent is returned when a store call carries no content.
	ErrEmptyContent = errors.New("content is required")
	// ErrEmptyQuery is returned when a recall query string is blank.
	ErrEmptyQuery = errors.New("query is required")
	// ErrInvalidType is returned for a memory type outside the four
	// supported kinds.
	ErrInvalidType = errors.New("unsupported memory type")
	// ErrSessionRequired is returned when a working or episodic memory is
	// stored without a session id.
	ErrSessionRequired = errors.New("session_id is required for this memory type")
	// ErrRuleMisconfigured is returned when a connection rule lacks its
	// semantic description. There is no silent regex fallback.
	ErrRuleMisconfigured = errors.New("connection rule requires a semantic description")
	// ErrBudgetExceeded marks an LLM ladder level skipped on budget grounds.
	ErrBudgetExceeded = errors.New("monthly llm budget exceeded")
)
