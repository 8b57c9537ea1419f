package config

const (
	defaultConfigPath         = "~/.config/whisperflow/config.toml"
	defaultWorkDir            = "~/.local/share/whisperflow/work"
	defaultLogDir             = "~/.local/share/whisperflow/logs"
	defaultSecretsFile        = "~/.config/whisperflow/secrets.toml"
	defaultLockFile           = "~/.local/share/whisperflow/pipeline.lock"
	defaultBackend            = BackendWhisperX
	defaultModel              = "large-v3"
	defaultDevice             = DeviceCUDA
	defaultCUDAIndexURL       = "https://download.pytorch.org/whl/cu128"
	defaultPypiIndexURL       = "https://pypi.org/simple"
	defaultUVXBinary          = "uvx"
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFprobeBinary      = "ffprobe"
	defaultLoadTimeoutSeconds = 900
	defaultBatchSize          = 16
	defaultComputeType        = "int8"
	defaultAlignmentFallback  = FallbackContinue
	defaultBind               = "127.0.0.1:8501"
	defaultMaxUploadMB        = 200
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Accepted enumerated values.
const (
	BackendWhisperX   = "whisperx"
	BackendWhisperCpp = "whispercpp"
	DeviceCUDA        = "cuda"
	DeviceCPU         = "cpu"
	FallbackContinue  = "continue"
	FallbackFail      = "fail"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:     defaultWorkDir,
			LogDir:      defaultLogDir,
			SecretsFile: defaultSecretsFile,
			LockFile:    defaultLockFile,
		},
		WhisperX: WhisperX{
			Backend:            defaultBackend,
			Model:              defaultModel,
			Device:             defaultDevice,
			CUDAIndexURL:       defaultCUDAIndexURL,
			PypiIndexURL:       defaultPypiIndexURL,
			UVXBinary:          defaultUVXBinary,
			FFmpegBinary:       defaultFFmpegBinary,
			FFprobeBinary:      defaultFFprobeBinary,
			LoadTimeoutSeconds: defaultLoadTimeoutSeconds,
		},
		Processing: Processing{
			BatchSize:   defaultBatchSize,
			ComputeType: defaultComputeType,
		},
		Pipeline: Pipeline{
			AlignmentFallback: defaultAlignmentFallback,
		},
		Server: Server{
			Bind:        defaultBind,
			MaxUploadMB: defaultMaxUploadMB,
			Metrics:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
