package config

const (
	DefaultServerPort            = 7878
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "30s"
	DefaultServerWriteTimeout    = "10m"
	DefaultServerIdleTimeout     = "2m"
	DefaultServerShutdownTimeout = "10s"
	DefaultServerRequestWindow   = "10m"

	DefaultAgentTarget          = "gpt-4o-mini@chatgpt"
	DefaultAgentActorID         = "main"
	DefaultAgentMaxIterations   = 12
	DefaultAgentIncludeTaskTool = true
	DefaultAgentMaxTaskDepth    = 2

	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultVeniceBaseURL = "https://api.venice.ai/api/v1"
	DefaultOllamaBaseURL = "http://localhost:11434/v1"
	DefaultKeylessAPIKey = "ollama"

	DefaultBackendMaxTokens = 4096

	DefaultPermissionMode            = "default"
	DefaultPolicyWatch               = false
	DefaultPolicyWatchDebounce       = "500ms"
	DefaultPolicyBuiltinRestrictions = true
	DefaultPolicyAuditEnabled        = true

	DefaultBashTimeout        = "2m"
	DefaultBashMaxOutputBytes = 30000
	DefaultBashShell          = "/bin/sh"

	DefaultTurnsBackend       = "file"
	DefaultTurnsTTL           = "30m"
	DefaultTurnsPruneSchedule = "@every 5m"

	DefaultStoreLockTimeout              = "5s"
	DefaultStoreLockRetry                = "50ms"
	DefaultStoreLockMaxRetry             = 100
	DefaultStoreInboxSize                = 128
	DefaultStoreTranscriptRotateMaxBytes = int64(10 * 1024 * 1024)

	DefaultEventsBufferSize = 256

	DefaultDaemonShutdownTimeout     = "15s"
	DefaultDaemonHealthCheckInterval = "30s"
	DefaultDaemonStaleLockTTL        = "1h"
	DefaultDaemonWorkspacePath       = "~/.brainpro/workspaces"
	DefaultDaemonWorkspaceID         = "default"
)
