//go:build !libmpv

package intake

// audioExtensions lists what the speaker backend can decode. It picks a
// decoder by extension, so content sniffing cannot widen the set.
var audioExtensions = map[string]string{
	".flac": "audio/flac",
	".mp3":  "audio/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
}

const admitSniffed = false
