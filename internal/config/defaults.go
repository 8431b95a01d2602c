package config

const (
	DefaultBind      = "127.0.0.1"
	DefaultPort      = 5000
	DefaultWorkers   = 2
	DefaultQueueSize = 16
	DefaultLogLevel  = "info"

	DefaultTranscriptionModel = "whisper-1"
	DefaultAnalysisModel      = "gpt-4o"
)

// DefaultSystemPrompt instructs the analysis model how to group segments.
const DefaultSystemPrompt = `You analyse videos of second-hand products and group the numbered transcript segments into meaningful snippets.

A snippet is a group of segments that belong together thematically and describes:
1. A specific product or product group that is shown
2. The condition and characteristics of the product
3. Any details about use or installation

For every snippet:
1. Give it a clear title naming the product
2. Write a detailed description covering what the product is, its condition and relevant context from the video
3. List the segment numbers (from the input) that belong to the snippet

Focus on details that matter to someone looking for second-hand products.`

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Server: Server{
			Bind:      DefaultBind,
			Port:      DefaultPort,
			Workers:   DefaultWorkers,
			QueueSize: DefaultQueueSize,
		},
		Paths: Paths{
			LibraryDir: "library",
			UploadsDir: "uploads",
			DataDir:    ".snuttify",
		},
		Media: Media{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Cut: Cut{
			Width:            1080,
			Height:           1920,
			ForceAspectRatio: true,
			VideoCodec:       "libx264",
			Preset:           "medium",
			CRF:              23,
			AudioCodec:       "aac",
			AudioBitrate:     "128k",
		},
		OpenAI: OpenAI{
			TranscriptionModel: DefaultTranscriptionModel,
			AnalysisModel:      DefaultAnalysisModel,
			SystemPrompt:       DefaultSystemPrompt,
		},
		Logging: Logging{
			Level: DefaultLogLevel,
		},
	}
}
