package orchestrator

import (
	"net/http"
	"path/filepath"
	"strings"

	"agentmux/internal/types"
)

// =============================================================================
// FILE INTAKE
// =============================================================================

// Attachment is a file handed in alongside a query. Data takes precedence
// over Path when both are set.
type Attachment struct {
	Name string
	Path string
	Data []byte
}

// IsImage sniffs the content when bytes are available, falling back to the
// file extension.
func (a *Attachment) IsImage() bool {
	if a == nil {
		return false
	}
	if len(a.Data) > 0 {
		return strings.HasPrefix(http.DetectContentType(a.Data), "image/")
	}
	name := a.Path
	if name == "" {
		name = a.Name
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// FilePreclassifier inspects the query and attachment before any routing or
// planning. When it returns ok=true the orchestrator runs the single tool for
// the returned task type and answers directly.
type FilePreclassifier func(query string, file *Attachment) (types.TaskType, bool)

// ocrIntentTerms mark queries that want the text pulled out of an image
// rather than a description of it.
var ocrIntentTerms = []string{
	"extract", "transcribe", "ocr", "read the text", "what does it say",
	"识别", "提取", "文字", "读出",
}

// DefaultPreclassifier short-circuits image attachments: OCR when the query
// asks for the text, VISION otherwise. Non-image files never short-circuit;
// they ride along into the planned tasks' inputs instead.
func DefaultPreclassifier(query string, file *Attachment) (types.TaskType, bool) {
	if !file.IsImage() {
		return "", false
	}
	q := strings.ToLower(query)
	for _, term := range ocrIntentTerms {
		if strings.Contains(q, term) {
			return types.TaskOCR, true
		}
	}
	return types.TaskVision, true
}

// applyAttachment exposes the file to an executor through task inputs, under
// the keys the vision executors read for images.
func applyAttachment(t *types.Task, file *Attachment) {
	if file == nil {
		return
	}
	if file.Name != "" {
		t.Inputs["file_name"] = file.Name
	}
	switch {
	case len(file.Data) > 0 && file.IsImage():
		t.Inputs["image"] = file.Data
	case file.Path != "" && file.IsImage():
		t.Inputs["image_path"] = file.Path
	case len(file.Data) > 0:
		t.Inputs["file_data"] = file.Data
	case file.Path != "":
		t.Inputs["file_path"] = file.Path
	}
}
