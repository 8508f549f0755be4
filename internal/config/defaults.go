package config

import "os"

// Pipeline stage names shared by the ledger, pipeline, and status packages.
const (
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
)

// Supported summarization providers.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderCloudflare = "cloudflare"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

const (
	defaultConfigPath            = "~/.config/voicelog/config.toml"
	defaultPollIntervalSeconds   = 10
	defaultLogLevel              = "info"
	defaultLogFormat             = "console"
	defaultLogDir                = "~/.local/share/voicelog/logs"
	defaultLogRetentionDays      = 30
	defaultBaseDir               = "~/VoiceLog"
	defaultRawDirName            = "raw"
	defaultTranscriptDirName     = "transcripts"
	defaultSummaryDirName        = "summaries"
	defaultStagingDirName        = ".staging"
	defaultDiagnosticsDirName    = "diagnostics"
	defaultLedgerFileName        = "ledger.db"
	defaultWhisperLanguage       = "ja"
	defaultWhisperTimeoutSeconds = 3600
	defaultSummarizerTimeout     = 180
	defaultSummarizerMaxTokens   = 1200
	defaultSummarizerRetries     = 3
	defaultSummarizerRPM         = 20
	defaultSystemPrompt          = "次の会話ログを要約してください。要点、重要決定、TODO、リスクを箇条書きで出力してください。"
	defaultRecorderBackoff       = 2
	defaultRecorderMaxBackoff    = 60
	defaultRecorderStableAfter   = 30
	defaultRecorderStopGrace     = 10
	defaultNtfyTimeoutSeconds    = 10

	defaultOpenAIEndpoint     = "https://api.openai.com/v1/chat/completions"
	defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	defaultAnthropicEndpoint  = "https://api.anthropic.com/v1/messages"
)

var defaultAudioExtensions = []string{".wav", ".mp3", ".m4a", ".aac", ".flac", ".ogg", ".wma", ".mp4", ".mov", ".mkv"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		App: App{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			LogLevel:            defaultLogLevel,
			LogFormat:           defaultLogFormat,
			LogDir:              defaultLogDir,
			LogRetentionDays:    defaultLogRetentionDays,
		},
		Volume: Volume{
			AudioExtensions: append([]string(nil), defaultAudioExtensions...),
		},
		Storage: Storage{
			BaseDir:            defaultBaseDir,
			RawDirName:         defaultRawDirName,
			TranscriptDirName:  defaultTranscriptDirName,
			SummaryDirName:     defaultSummaryDirName,
			StagingDirName:     defaultStagingDirName,
			DiagnosticsDirName: defaultDiagnosticsDirName,
			LedgerFileName:     defaultLedgerFileName,
			VerifyDigest:       true,
		},
		Whisper: Whisper{
			Language:       defaultWhisperLanguage,
			TimeoutSeconds: defaultWhisperTimeoutSeconds,
		},
		Summarizer: Summarizer{
			SystemPrompt:      defaultSystemPrompt,
			MaxTokens:         defaultSummarizerMaxTokens,
			TimeoutSeconds:    defaultSummarizerTimeout,
			RetryAttempts:     defaultSummarizerRetries,
			RequestsPerMinute: defaultSummarizerRPM,
		},
		Recorder: Recorder{
			RestartBackoffSeconds: defaultRecorderBackoff,
			MaxBackoffSeconds:     defaultRecorderMaxBackoff,
			StableAfterSeconds:    defaultRecorderStableAfter,
			StopGraceSeconds:      defaultRecorderStopGrace,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			NotifyRecorder:        true,
		},
	}
}

// DefaultMountRoots lists the directories searched for removable volumes.
func DefaultMountRoots() []string {
	roots := []string{"/Volumes"}
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("LOGNAME")
	}
	if user != "" {
		roots = append(roots, "/media/"+user, "/run/media/"+user)
	}
	return append(roots, "/mnt", "/media")
}

func defaultEndpoint(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return defaultOpenAIEndpoint
	case ProviderOpenRouter:
		return defaultOpenRouterEndpoint
	case ProviderAnthropic:
		return defaultAnthropicEndpoint
	default:
		return ""
	}
}
