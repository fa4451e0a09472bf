package fetch

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/jonathan/ux-auditor/internal/types"
)

// ScreenshotsFromUpload builds screenshots from client-supplied base64 images and
// returns them with the detected MIME type of the first image.
func ScreenshotsFromUpload(files []string) ([]types.Screenshot, string, error) {
	if len(files) == 0 {
		return nil, "", fmt.Errorf("upload input has no files")
	}
	shots := make([]types.Screenshot, 0, len(files))
	mime := ""
	for i, f := range files {
		raw, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return nil, "", fmt.Errorf("file %d is not valid base64: %w", i, err)
		}
		if mime == "" {
			mime = http.DetectContentType(raw)
		}
		shots = append(shots, types.Screenshot{Data: f, Source: "upload"})
	}
	return shots, mime, nil
}
