package domain

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

type MemoryType string

const (
	MemoryTypeWorking    MemoryType = "working"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
)

func ValidMemoryType(t string) bool {
	switch MemoryType(t) {
	case MemoryTypeWorking, MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural:
		return true
	}
	return false
}

// AllMemoryTypes returns the four memory types in recall fan-out order.
func AllMemoryTypes() []MemoryType {
	return []MemoryType{MemoryTypeWorking, MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural}
}

// IDPrefix returns the id prefix that encodes the memory type.
func (t MemoryType) IDPrefix() string {
	switch t {
	case MemoryTypeWorking:
		return "wm"
	case MemoryTypeEpisodic:
		return "ep"
	case MemoryTypeSemantic:
		return "sm"
	case MemoryTypeProcedural:
		return "pm"
	default:
		return "mm"
	}
}

// InitialImportance returns the write-time importance default for the type.
func (t MemoryType) InitialImportance() float64 {
	switch t {
	case MemoryTypeWorking:
		return 0.8
	case MemoryTypeEpisodic:
		return 0.5
	case MemoryTypeSemantic:
		return 0.7
	case MemoryTypeProcedural:
		return 0.8
	default:
		return 0.5
	}
}

// Decays reports whether resonance decays for this memory type.
// Semantic and procedural knowledge is stable; working and episodic fade.
func (t MemoryType) Decays() bool {
	return t == MemoryTypeEpisodic || t == MemoryTypeWorking
}

const idRandLen = 9

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewMemoryID builds an id of the form {prefix}_{unixMilli}_{9 random base36 chars}.
// The prefix encodes the type so the type of any id is recoverable without a lookup.
func NewMemoryID(t MemoryType) string {
	var sb strings.Builder
	sb.WriteString(t.IDPrefix())
	sb.WriteByte('_')
	sb.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	sb.WriteByte('_')
	for i := 0; i < idRandLen; i++ {
		sb.WriteByte(base36[rand.Intn(len(base36))])
	}
	return sb.String()
}

// MemoryTypeOfID recovers the memory type from an id prefix, or "" if unknown.
func MemoryTypeOfID(id string) MemoryType {
	switch {
	case strings.HasPrefix(id, "wm_"):
		return MemoryTypeWorking
	case strings.HasPrefix(id, "ep_"):
		return MemoryTypeEpisodic
	case strings.HasPrefix(id, "sm_"):
		return MemoryTypeSemantic
	case strings.HasPrefix(id, "pm_"):
		return MemoryTypeProcedural
	default:
		return ""
	}
}

// Memory is a typed text record owned by a (user, agent) pair.
// All timestamps are millisecond epoch to match the wire format.
type Memory struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	AgentID        string         `json:"agent_id"`
	Type           MemoryType     `json:"type"`
	Content        string         `json:"content"`
	Importance     float64        `json:"importance"`
	Resonance      float64        `json:"resonance"`
	AccessCount    int            `json:"access_count"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	LastAccessedAt int64          `json:"last_accessed_at"`
	SessionID      string         `json:"session_id,omitempty"`
	TokenCount     int            `json:"token_count"`
	Keywords       []string       `json:"keywords,omitempty"`
	EmbeddingID    string         `json:"embedding_id,omitempty"`
	Embedding      []float32      `json:"-"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MemoryWithScore pairs a memory with a storage-side relevance score.
type MemoryWithScore struct {
	Memory
	Score float64 `json:"score"`
}

// TruncateID shortens a user or agent id for log lines so full ids never
// reach the log stream.
func TruncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// EstimateTokens is the rough 4-chars-per-token heuristic used when no
// tokenizer is available at write time.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
