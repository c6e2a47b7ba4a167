package ports

import (
	"context"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
)

// TdlibParameters is the fixed client configuration submitted while the backend
// waits for parameters. Only the directories and the application credentials vary
// per session.
type TdlibParameters struct {
	UseTestDC          bool   `json:"use_test_dc"`
	DatabaseDirectory  string `json:"database_directory"`
	FilesDirectory     string `json:"files_directory"`
	UseFileDatabase    bool   `json:"use_file_database"`
	UseChatInfoDB      bool   `json:"use_chat_info_database"`
	UseMessageDatabase bool   `json:"use_message_database"`
	UseSecretChats     bool   `json:"use_secret_chats"`
	APIID              int    `json:"api_id"`
	APIHash            string `json:"api_hash"`
	SystemLanguageCode string `json:"system_language_code"`
	DeviceModel        string `json:"device_model"`
	SystemVersion      string `json:"system_version"`
	ApplicationVersion string `json:"application_version"`
}

// ClientConfig carries everything a backend needs to open one session's client.
// OnStateChange is the state-change subscription; implementations call it from their
// own goroutine for every authorization state update and must not block on it.
type ClientConfig struct {
	SessionID     string
	StorageDir    string
	Parameters    TdlibParameters
	OnStateChange func(domain.AuthState)
}

// BackendClient is one live connection to the messaging backend.
// Submissions are acknowledged by the backend but their effect is observed through
// state notifications or AuthorizationState, never through the return value.
type BackendClient interface {
	SetParameters(ctx context.Context, params TdlibParameters) error
	SetEncryptionKey(ctx context.Context, key string) error
	SetPhoneNumber(ctx context.Context, phone string) error
	CheckCode(ctx context.Context, code string) error
	CheckPassword(ctx context.Context, password string) error
	// AuthorizationState probes the backend for its current state, bounded by ctx.
	AuthorizationState(ctx context.Context) (domain.AuthState, error)
	// Close releases the client. It is called exactly once per client.
	Close() error
}

// BackendFactory creates backend clients.
type BackendFactory interface {
	NewClient(ctx context.Context, cfg ClientConfig) (BackendClient, error)
}
