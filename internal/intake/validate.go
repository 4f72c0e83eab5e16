package intake

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultMaxBytes int64 = 50 << 20

var (
	ErrTooLarge = errors.New("file exceeds the upload size limit")
	ErrNotAudio = errors.New("file is not an audio file")
	ErrFormat   = errors.New("audio format is not playable")
)

// Validate reports why a file may not be admitted, or nil. maxBytes <= 0
// selects DefaultMaxBytes.
func Validate(path string, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrNotAudio)
	}
	if info.Size() > maxBytes {
		return fmt.Errorf("%s (%d bytes): %w", filepath.Base(path), info.Size(), ErrTooLarge)
	}

	mediaType, err := MediaType(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(mediaType, "audio/") {
		return fmt.Errorf("%s (%s): %w", filepath.Base(path), mediaType, ErrNotAudio)
	}
	if !admitSniffed && !IsAudioPath(path) {
		return fmt.Errorf("%s (%s): %w", filepath.Base(path), mediaType, ErrFormat)
	}

	return nil
}

// MediaType resolves a file's media type from its extension, falling back
// to content sniffing.
func MediaType(path string) (string, error) {
	extension := strings.ToLower(filepath.Ext(path))
	if mediaType, ok := audioExtensions[extension]; ok {
		return mediaType, nil
	}
	if mediaType := mime.TypeByExtension(extension); strings.HasPrefix(mediaType, "audio/") {
		return stripParams(mediaType), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return stripParams(http.DetectContentType(head[:n])), nil
}

// IsAudioPath reports whether the extension alone marks the file as playable.
func IsAudioPath(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Expand replaces directories with the audio files found beneath them.
// Plain file arguments are kept as given.
func Expand(paths []string) ([]string, error) {
	expanded := make([]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			expanded = append(expanded, path)
			continue
		}

		var found []string
		walkErr := filepath.WalkDir(path, func(current string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() || !IsAudioPath(current) {
				return nil
			}
			found = append(found, current)
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("walk %s: %w", path, walkErr)
		}

		sort.Strings(found)
		expanded = append(expanded, found...)
	}

	return expanded, nil
}

func stripParams(mediaType string) string {
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	return mediaType
}
