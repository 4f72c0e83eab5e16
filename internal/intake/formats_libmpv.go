//go:build libmpv

package intake

// libmpv detects the container from content, so sniffed audio is admitted as well.
var audioExtensions = map[string]string{
	".aac":  "audio/aac",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".weba": "audio/webm",
	".wma":  "audio/x-ms-wma",
}

const admitSniffed = true
