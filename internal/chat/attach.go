package chat

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// previewLimitBytes caps the inlined image preview.
const previewLimitBytes = 4 << 20

// NewAttachment builds an Attachment for a workspace file. Media type
// comes from the extension; image files under the preview limit get an
// inline data URL for multimodal prompts.
func NewAttachment(absolutePath, workspaceRoot string) (Attachment, error) {
	absolutePath = strings.TrimSpace(absolutePath)
	if absolutePath == "" {
		return Attachment{}, fmt.Errorf("attachment path is empty")
	}
	abs, err := filepath.Abs(absolutePath)
	if err != nil {
		return Attachment{}, fmt.Errorf("resolve attachment path: %w", err)
	}

	rel := abs
	if workspaceRoot != "" {
		if r, err := filepath.Rel(workspaceRoot, abs); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}

	mediaType := MediaTypeForPath(abs)
	att := Attachment{
		AbsolutePath: abs,
		RelativePath: rel,
		MediaType:    mediaType,
		IsImage:      strings.HasPrefix(mediaType, "image/"),
	}

	if att.IsImage {
		if data, err := os.ReadFile(abs); err == nil && len(data) <= previewLimitBytes {
			att.PreviewDataURL = fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
		}
	}
	return att, nil
}

// MediaTypeForPath maps a file extension to a media type, defaulting to
// application/octet-stream.
func MediaTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}
