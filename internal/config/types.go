package config

// Config is the root of the bot configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted or zero values fall back to the defaults documented per section.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Files    FilesConfig    `json:"files"`
	Intake   IntakeConfig   `json:"intake"`
	Guard    GuardConfig    `json:"guard"`
	Dispatch DispatchConfig `json:"dispatch"`
	Backup   BackupConfig   `json:"backup"`
	Router   RouterConfig   `json:"router"`
	Notifier NotifierConfig `json:"notifier"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the admin chat that receives new-submission notices and
	// WARN+ log lines. Accepts "-100123" or "-100123:42" (chat:thread).
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite (default) | memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// FilesConfig selects where submission attachments are relocated to.
type FilesConfig struct {
	Driver    string   `json:"driver"` // local (default) | s3
	Dir       string   `json:"dir"`
	S3        S3Config `json:"s3"`
	MaxFileMB int      `json:"max_file_mb"` // default 20
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	Region    string `json:"region,omitempty"`
}

// IntakeConfig bounds a submission.
//
// Defaults: min_files 3, max_files 5, max_voice_duration "60s", workers 4.
type IntakeConfig struct {
	MinFiles         int    `json:"min_files"`
	MaxFiles         int    `json:"max_files"`
	MaxVoiceDuration string `json:"max_voice_duration"`
	// Workers bounds concurrent attachment relocation when a submission finishes.
	Workers int `json:"workers"`
}

// GuardConfig holds the abuse and volume thresholds.
//
// Defaults: message_interval "500ms", callback_interval "300ms",
// spam_threshold 5, block_duration "60s", cleanup_interval "5m",
// files_per_minute 10, mb_per_hour 100.
type GuardConfig struct {
	Backend          string      `json:"backend"` // memory (default) | redis
	Redis            RedisConfig `json:"redis"`
	MessageInterval  string      `json:"message_interval"`
	CallbackInterval string      `json:"callback_interval"`
	SpamThreshold    int         `json:"spam_threshold"`
	BlockDuration    string      `json:"block_duration"`
	CleanupInterval  string      `json:"cleanup_interval"`
	FilesPerMinute   int         `json:"files_per_minute"`
	MBPerHour        int         `json:"mb_per_hour"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// DispatchConfig paces mass notices.
//
// Defaults: delay "50ms", batch_size 50, queue_size 16.
type DispatchConfig struct {
	Delay     string `json:"delay"`
	BatchSize int    `json:"batch_size"`
	QueueSize int    `json:"queue_size"`
}

// BackupConfig controls scheduled database snapshots.
//
// Defaults: dir "./backups", max_backups 10, schedule "@daily".
type BackupConfig struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir"`
	MaxBackups int    `json:"max_backups"`
	Schedule   string `json:"schedule"`
	Timezone   string `json:"timezone,omitempty"`
}

// RouterConfig sizes the per-user worker pool.
//
// Defaults: workers 8, queue_size 64, timeout "2m".
type RouterConfig struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Timeout   string `json:"timeout"`
}

// NotifierConfig controls admin-chat notices (new submissions, finished
// dispatches, backups). Notices go to telegram.group_log.
//
// Defaults: rate_per_sec 1, retry_max 3, dedup_window "10m".
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	RatePerSec  int    `json:"rate_per_sec"`
	RetryMax    int    `json:"retry_max"`
	DedupWindow string `json:"dedup_window"`
}
