package config

const (
	defaultConfigPath           = "~/.config/boothrec/config.toml"
	defaultStateDir             = "~/.local/share/boothrec"
	defaultLogDir               = "~/.local/share/boothrec/logs"
	defaultCountdownSeconds     = 3
	defaultDurationSeconds      = 15
	defaultWatchdogGraceMillis  = 500
	defaultFinalizeGraceMillis  = 1500
	defaultTickIntervalMillis   = 100
	defaultFlushIntervalSeconds = 2
	defaultTimesliceMillis      = 1000
	defaultCategory             = "classic"
	defaultFFmpegBinary         = "ffmpeg"
	defaultDeviceFormat         = "v4l2"
	defaultDeviceInput          = "/dev/video0"
	defaultDisplayFormat        = "x11grab"
	defaultFramerate            = 30
	defaultVideoBitrate         = "3M"
	defaultStopTimeoutSeconds   = 5
	defaultStorageDatabase      = "boothrec"
	defaultStorageBucket        = "videos"
	defaultStorageOrigin        = "booth"
	defaultFilenamePrefix       = "photobooth_video"
	defaultStorageTimeout       = 30
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// SupportedEncodings lists the encoding names accepted in recording.encodings.
var SupportedEncodings = []string{"mp4", "webm"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Recording: Recording{
			CountdownSeconds:     defaultCountdownSeconds,
			DurationSeconds:      defaultDurationSeconds,
			WatchdogGraceMillis:  defaultWatchdogGraceMillis,
			FinalizeGraceMillis:  defaultFinalizeGraceMillis,
			TickIntervalMillis:   defaultTickIntervalMillis,
			FlushIntervalSeconds: defaultFlushIntervalSeconds,
			TimesliceMillis:      defaultTimesliceMillis,
			DefaultCategory:      defaultCategory,
			Encodings:            append([]string(nil), SupportedEncodings...),
		},
		Capture: Capture{
			FFmpegBinary:       defaultFFmpegBinary,
			DeviceFormat:       defaultDeviceFormat,
			DeviceInput:        defaultDeviceInput,
			DisplayFormat:      defaultDisplayFormat,
			Framerate:          defaultFramerate,
			VideoBitrate:       defaultVideoBitrate,
			StopTimeoutSeconds: defaultStopTimeoutSeconds,
			WatchDevices:       true,
		},
		Storage: Storage{
			Database:       defaultStorageDatabase,
			Bucket:         defaultStorageBucket,
			Origin:         defaultStorageOrigin,
			FilenamePrefix: defaultFilenamePrefix,
			TimeoutSeconds: defaultStorageTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Recording:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
