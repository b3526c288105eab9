package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// OCR + VISION EXECUTORS
// =============================================================================
//
// Both executors forward image bytes to a vision-capable LLM client. The
// image arrives through the task context: raw bytes under "image" or a path
// under "image_path".

// imageFromContext loads the task's image and sniffs its MIME type.
func imageFromContext(taskCtx map[string]any) ([]byte, string, error) {
	var data []byte
	switch {
	case taskCtx["image"] != nil:
		raw, ok := taskCtx["image"].([]byte)
		if !ok {
			return nil, "", fmt.Errorf("task input \"image\" must be []byte, got %T", taskCtx["image"])
		}
		data = raw
	case taskCtx["image_path"] != nil:
		path, ok := taskCtx["image_path"].(string)
		if !ok {
			return nil, "", fmt.Errorf("task input \"image_path\" must be a string, got %T", taskCtx["image_path"])
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read image %s: %w", path, err)
		}
		data = raw
	default:
		return nil, "", fmt.Errorf("no image provided (expected task input \"image\" or \"image_path\")")
	}

	if len(data) == 0 {
		return nil, "", fmt.Errorf("image is empty")
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("unsupported content type %s, expected an image", mime)
	}
	return data, mime, nil
}

// visionClient asserts image support on an LLM client.
func visionClient(client types.LLMClient) (types.VisionClient, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: no client configured", types.ErrLLMUnavailable)
	}
	vc, ok := client.(types.VisionClient)
	if !ok {
		return nil, ErrNoVisionSupport
	}
	return vc, nil
}

// OCRExecutor extracts text from images.
type OCRExecutor struct {
	client types.LLMClient
}

// NewOCRExecutor creates an OCR executor.
func NewOCRExecutor(client types.LLMClient) *OCRExecutor {
	return &OCRExecutor{client: client}
}

func (e *OCRExecutor) Name() string { return "ocr" }

func (e *OCRExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	vc, err := visionClient(e.client)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	img, mime, err := imageFromContext(taskCtx)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	prompt := "Extract ALL text visible in this image. Preserve reading order and line breaks. Output only the extracted text."
	if q := strings.TrimSpace(query); q != "" {
		prompt += "\n\nAdditional instruction: " + q
	}

	text, err := vc.CompleteWithImage(ctx, prompt, img, mime)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w: %v", types.ErrLLMUnavailable, err)
	}
	logging.Executor("OCR extracted %d chars from %s image", len(text), mime)
	return strings.TrimSpace(text), nil
}

// VisionExecutor answers free-form questions about images.
type VisionExecutor struct {
	client types.LLMClient
}

// NewVisionExecutor creates a vision executor.
func NewVisionExecutor(client types.LLMClient) *VisionExecutor {
	return &VisionExecutor{client: client}
}

func (e *VisionExecutor) Name() string { return "vision" }

func (e *VisionExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	vc, err := visionClient(e.client)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	img, mime, err := imageFromContext(taskCtx)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}

	prompt := strings.TrimSpace(query)
	if prompt == "" {
		prompt = "Describe this image in detail."
	}

	answer, err := vc.CompleteWithImage(ctx, prompt, img, mime)
	if err != nil {
		return nil, fmt.Errorf("vision: %w: %v", types.ErrLLMUnavailable, err)
	}
	logging.Executor("Vision answered %q for %s image", truncateRunes(prompt, 80), mime)
	return strings.TrimSpace(answer), nil
}
