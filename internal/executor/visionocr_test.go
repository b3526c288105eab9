package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentmux/internal/types"
)

// mockVisionLLM adds scripted image completions on top of mockLLM.
type mockVisionLLM struct {
	mockLLM
	imageFunc func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	gotPrompt string
	gotImage  []byte
	gotMime   string
}

func (m *mockVisionLLM) CompleteWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	m.gotPrompt = prompt
	m.gotImage = image
	m.gotMime = mimeType
	if m.imageFunc != nil {
		return m.imageFunc(ctx, prompt, image, mimeType)
	}
	return "", errors.New("mockVisionLLM: no completion scripted")
}

// pngHeader carries the PNG signature so MIME sniffing sees a real image.
var pngHeader = append([]byte("\x89PNG\r\n\x1a\n"), []byte("fakepixeldata")...)

func TestImageFromContext(t *testing.T) {
	t.Run("raw bytes", func(t *testing.T) {
		data, mime, err := imageFromContext(map[string]any{"image": pngHeader})
		if err != nil {
			t.Fatalf("imageFromContext: %v", err)
		}
		if mime != "image/png" {
			t.Errorf("mime = %q, want image/png", mime)
		}
		if len(data) != len(pngHeader) {
			t.Errorf("data length = %d, want %d", len(data), len(pngHeader))
		}
	})

	t.Run("path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "shot.png")
		if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
			t.Fatal(err)
		}
		_, mime, err := imageFromContext(map[string]any{"image_path": path})
		if err != nil {
			t.Fatalf("imageFromContext: %v", err)
		}
		if mime != "image/png" {
			t.Errorf("mime = %q, want image/png", mime)
		}
	})

	t.Run("bytes take precedence over path", func(t *testing.T) {
		data, _, err := imageFromContext(map[string]any{
			"image":      pngHeader,
			"image_path": "/does/not/exist.png",
		})
		if err != nil {
			t.Fatalf("imageFromContext: %v", err)
		}
		if len(data) == 0 {
			t.Error("expected inline bytes")
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		if _, _, err := imageFromContext(map[string]any{"image": "not bytes"}); err == nil {
			t.Error("string under image should be rejected")
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, _, err := imageFromContext(nil); err == nil {
			t.Error("missing image should be rejected")
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, _, err := imageFromContext(map[string]any{"image": []byte{}}); err == nil {
			t.Error("empty image should be rejected")
		}
	})

	t.Run("not an image", func(t *testing.T) {
		_, _, err := imageFromContext(map[string]any{"image": []byte("plain text, definitely no pixels")})
		if err == nil || !strings.Contains(err.Error(), "unsupported content type") {
			t.Errorf("err = %v, want unsupported content type", err)
		}
	})

	t.Run("unreadable path", func(t *testing.T) {
		if _, _, err := imageFromContext(map[string]any{"image_path": "/no/such/file.png"}); err == nil {
			t.Error("unreadable path should be rejected")
		}
	})
}

func TestOCRExecutor_ExtractsText(t *testing.T) {
	mock := &mockVisionLLM{
		imageFunc: func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
			return "  TOTAL: $42.17\nThank you!  \n", nil
		},
	}
	exec := NewOCRExecutor(mock)

	out, err := exec.Execute(context.Background(), "", map[string]any{"image": pngHeader})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "TOTAL: $42.17\nThank you!" {
		t.Errorf("out = %q, want trimmed extraction", out)
	}
	if !strings.Contains(mock.gotPrompt, "Extract ALL text") {
		t.Errorf("prompt = %q, want extraction instruction", mock.gotPrompt)
	}
	if mock.gotMime != "image/png" {
		t.Errorf("mime = %q", mock.gotMime)
	}
}

func TestOCRExecutor_QueryRefinesPrompt(t *testing.T) {
	mock := &mockVisionLLM{
		imageFunc: func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
			return "42.17", nil
		},
	}
	exec := NewOCRExecutor(mock)

	if _, err := exec.Execute(context.Background(), "only the total amount", map[string]any{"image": pngHeader}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(mock.gotPrompt, "Additional instruction: only the total amount") {
		t.Errorf("prompt = %q, want appended instruction", mock.gotPrompt)
	}
}

func TestOCRExecutor_NoVisionSupport(t *testing.T) {
	exec := NewOCRExecutor(&mockLLM{})
	_, err := exec.Execute(context.Background(), "", map[string]any{"image": pngHeader})
	if !errors.Is(err, ErrNoVisionSupport) {
		t.Fatalf("err = %v, want ErrNoVisionSupport", err)
	}
}

func TestOCRExecutor_NilClient(t *testing.T) {
	exec := NewOCRExecutor(nil)
	_, err := exec.Execute(context.Background(), "", map[string]any{"image": pngHeader})
	if !errors.Is(err, types.ErrLLMUnavailable) {
		t.Fatalf("err = %v, want ErrLLMUnavailable", err)
	}
}

func TestOCRExecutor_WrapsProviderFailure(t *testing.T) {
	mock := &mockVisionLLM{
		imageFunc: func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
			return "", errors.New("model overloaded")
		},
	}
	exec := NewOCRExecutor(mock)
	_, err := exec.Execute(context.Background(), "", map[string]any{"image": pngHeader})
	if !errors.Is(err, types.ErrLLMUnavailable) {
		t.Fatalf("err = %v, want ErrLLMUnavailable", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err %q should carry the cause", err)
	}
}

func TestVisionExecutor_AnswersQuestion(t *testing.T) {
	mock := &mockVisionLLM{
		imageFunc: func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
			return " A tabby cat on a windowsill. ", nil
		},
	}
	exec := NewVisionExecutor(mock)

	out, err := exec.Execute(context.Background(), "What animal is this?", map[string]any{"image": pngHeader})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "A tabby cat on a windowsill." {
		t.Errorf("out = %q", out)
	}
	if mock.gotPrompt != "What animal is this?" {
		t.Errorf("prompt = %q, want the user question verbatim", mock.gotPrompt)
	}
}

func TestVisionExecutor_DefaultPrompt(t *testing.T) {
	mock := &mockVisionLLM{
		imageFunc: func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
			return "description", nil
		},
	}
	exec := NewVisionExecutor(mock)

	if _, err := exec.Execute(context.Background(), "   ", map[string]any{"image": pngHeader}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(mock.gotPrompt, "Describe this image") {
		t.Errorf("prompt = %q, want default description prompt", mock.gotPrompt)
	}
}

func TestVisionExecutor_MissingImage(t *testing.T) {
	exec := NewVisionExecutor(&mockVisionLLM{})
	_, err := exec.Execute(context.Background(), "what is this?", nil)
	if err == nil || !strings.Contains(err.Error(), "no image provided") {
		t.Fatalf("err = %v, want no image provided", err)
	}
}
