package intake

import (
	"path/filepath"

	"cadence/internal/logging"
	"cadence/internal/playlist"

	"go.senan.xyz/taglib"
)

// Describe builds a playlist source for a file. Duration comes from the
// file's audio properties when taglib can read them and stays 0 otherwise.
func Describe(path string) playlist.Source {
	source := playlist.Source{
		FileName: filepath.Base(path),
		Path:     path,
	}

	properties, err := taglib.ReadProperties(path)
	if err != nil {
		logging.Debug("intake: audio properties unavailable", logging.String("path", path), logging.ErrorField(err))
		return source
	}
	if properties.Length > 0 {
		source.Duration = properties.Length.Seconds()
	}

	return source
}
