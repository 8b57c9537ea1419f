package media

import (
	"path/filepath"
	"slices"
	"strings"

	"whisperflow/internal/services"
)

// Kind distinguishes inputs that need demuxing from directly decodable audio.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

var uploadKinds = map[string]Kind{
	".mp3": KindAudio,
	".wav": KindAudio,
	".m4a": KindAudio,
	".mp4": KindVideo,
}

// SupportedExtensions lists accepted upload extensions in display order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(uploadKinds))
	for ext := range uploadKinds {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// CheckUpload classifies a file name by extension. Unknown extensions are
// rejected with services.ErrUnsupportedFileType.
func CheckUpload(name string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	kind, ok := uploadKinds[ext]
	if !ok {
		return 0, services.Wrap(services.ErrUnsupportedFileType, "ingest", "check upload",
			"unsupported extension "+quoteExt(ext)+"; accepted: "+strings.Join(SupportedExtensions(), ", "), nil)
	}
	return kind, nil
}

func quoteExt(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return "\"" + ext + "\""
}
