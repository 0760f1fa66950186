package models

// TranscodePreset is a named bundle of transcode parameters baked into the
// upstream HLS URL.
type TranscodePreset struct {
	Name         string `json:"name"`
	MaxHeight    int    `json:"max_height"`
	VideoBitrate int    `json:"video_bitrate"`
	AudioBitrate int    `json:"audio_bitrate"`
	VideoCodec   string `json:"video_codec"`
	AudioCodec   string `json:"audio_codec"`
}

// Built-in presets, ordered from highest to lowest quality.
var builtinPresets = []TranscodePreset{
	{Name: "1080p-high", MaxHeight: 1080, VideoBitrate: 12_000_000, AudioBitrate: 256_000, VideoCodec: "h264", AudioCodec: "aac"},
	{Name: "1080p", MaxHeight: 1080, VideoBitrate: 8_000_000, AudioBitrate: 192_000, VideoCodec: "h264", AudioCodec: "aac"},
	{Name: "720p", MaxHeight: 720, VideoBitrate: 4_000_000, AudioBitrate: 128_000, VideoCodec: "h264", AudioCodec: "aac"},
	{Name: "480p", MaxHeight: 480, VideoBitrate: 1_500_000, AudioBitrate: 128_000, VideoCodec: "h264", AudioCodec: "aac"},
	{Name: "360p", MaxHeight: 360, VideoBitrate: 800_000, AudioBitrate: 96_000, VideoCodec: "h264", AudioCodec: "aac"},
}

// Presets returns the built-in preset table.
func Presets() []TranscodePreset {
	out := make([]TranscodePreset, len(builtinPresets))
	copy(out, builtinPresets)
	return out
}

// PresetByName looks up a preset. Returns ErrUnknownPreset for unknown names.
func PresetByName(name string) (TranscodePreset, error) {
	for _, p := range builtinPresets {
		if p.Name == name {
			return p, nil
		}
	}
	return TranscodePreset{}, ErrUnknownPreset
}

// EstimatedSizeBytes estimates the final file size for a media item of the
// given duration transcoded with this preset.
func (p TranscodePreset) EstimatedSizeBytes(durationSeconds float64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return int64(durationSeconds * float64(p.VideoBitrate+p.AudioBitrate) / 8)
}
