package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/types"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// =============================================================================
// CODE EXECUTOR
// =============================================================================
//
// CODE tasks are answered by the LLM as a fenced code block. Go snippets that
// declare `func RunTool(input string) (string, error)` are additionally run
// in a yaegi sandbox (interpreted, stdlib allowlist, deadline) so arithmetic
// and transformation queries come back with a concrete result, not just code.

// CodeResult is the structured output of a CODE task.
type CodeResult struct {
	Language string
	Code     string
	Output   string // sandbox output, empty when the snippet was not run
	Notes    string // syntax check / sandbox annotations
}

// String renders the result as markdown for downstream template injection.
func (r *CodeResult) String() string {
	var sb strings.Builder
	lang := r.Language
	if lang == "" {
		lang = "go"
	}
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", lang, strings.TrimRight(r.Code, "\n"))
	if r.Output != "" {
		fmt.Fprintf(&sb, "\nExecution output:\n%s\n", r.Output)
	}
	if r.Notes != "" {
		fmt.Fprintf(&sb, "\n(%s)\n", r.Notes)
	}
	return strings.TrimSpace(sb.String())
}

// CodeConfig configures code generation and sandboxed evaluation.
type CodeConfig struct {
	Temperature   float64
	MaxTokens     int
	RunTimeout    time.Duration // sandbox budget per snippet
	EnableSandbox bool
}

// DefaultCodeConfig returns code generation defaults with the sandbox on.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{
		Temperature:   0.2,
		MaxTokens:     2000,
		RunTimeout:    10 * time.Second,
		EnableSandbox: true,
	}
}

// CodeExecutor answers CODE tasks.
type CodeExecutor struct {
	client  types.LLMClient
	config  CodeConfig
	sandbox *Sandbox
}

// NewCodeExecutor creates a code executor, filling config defaults.
func NewCodeExecutor(client types.LLMClient, config CodeConfig) *CodeExecutor {
	def := DefaultCodeConfig()
	if config.Temperature <= 0 {
		config.Temperature = def.Temperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = def.RunTimeout
	}
	return &CodeExecutor{
		client:  client,
		config:  config,
		sandbox: NewSandbox(config.RunTimeout),
	}
}

func (e *CodeExecutor) Name() string { return "code_executor" }

func (e *CodeExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	if e.client == nil {
		return nil, fmt.Errorf("code_executor: %w: no client configured", types.ErrLLMUnavailable)
	}

	messages := []types.Message{
		{Role: "system", Content: codeSystemPrompt},
	}
	if contextBlock := renderUpstreamContext(taskCtx); contextBlock != "" {
		messages = append(messages, types.Message{Role: "system", Content: contextBlock})
	}
	messages = append(messages, types.Message{Role: "user", Content: query})

	response, err := e.client.CompleteWithOptions(ctx, messages, e.config.Temperature, e.config.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("code generation: %w: %v", types.ErrLLMUnavailable, err)
	}

	lang, code, ok := extractFencedCode(response)
	if !ok {
		// Prose answer; nothing to check or run.
		return strings.TrimSpace(response), nil
	}

	result := &CodeResult{Language: lang, Code: code}
	if err := checkSyntax(ctx, lang, code); err != nil {
		result.Notes = "syntax check: " + err.Error()
		logging.ExecutorWarn("Generated %s snippet failed syntax check: %v", langLabel(lang), err)
		return result, nil
	}
	result.Notes = "syntax check: ok"

	if e.config.EnableSandbox && isRunnableGo(lang, code) {
		input, _ := taskCtx["input"].(string)
		output, err := e.sandbox.Run(ctx, code, input)
		if err != nil {
			result.Notes += "; sandbox: " + err.Error()
			logging.ExecutorWarn("Sandbox run failed: %v", err)
		} else {
			result.Output = output
			logging.ExecutorDebug("Sandbox run produced %d chars", len(output))
		}
	}
	return result, nil
}

const codeSystemPrompt = `You are a precise coding assistant.
- For computational questions (arithmetic, conversions, string/data transformations), reply with ONE fenced Go code block declaring exactly:
      func RunTool(input string) (string, error)
  RunTool must compute the answer and return it as a string. Use only these standard library packages: strings, strconv, fmt, math, regexp, encoding/json, encoding/base64, time, sort, bytes, unicode.
- For code-writing requests, reply with ONE fenced code block tagged with the target language.
- You may add one short sentence after the code block. Nothing else.`

// langLabel names a fence language for logs.
func langLabel(lang string) string {
	if lang == "" {
		return "untagged"
	}
	return lang
}

// isRunnableGo reports whether a snippet is eligible for the sandbox.
func isRunnableGo(lang, code string) bool {
	switch strings.ToLower(lang) {
	case "go", "golang", "":
	default:
		return false
	}
	return strings.Contains(code, "func RunTool(")
}

var fencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_-]*)[ \t]*\n(.*?)```")

// extractFencedCode returns the first fenced block and its language tag.
func extractFencedCode(s string) (lang, code string, ok bool) {
	m := fencePattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(m[1])), strings.TrimSpace(m[2]), true
}

// =============================================================================
// TREE-SITTER SYNTAX CHECK
// =============================================================================

// checkSyntax parses the snippet with the grammar for its language and
// reports ERROR nodes. Unknown languages pass unchecked.
func checkSyntax(ctx context.Context, lang, code string) error {
	var language *sitter.Language
	isGo := false
	switch strings.ToLower(lang) {
	case "go", "golang", "":
		language = golang.GetLanguage()
		isGo = true
	case "python", "py":
		language = python.GetLanguage()
	case "javascript", "js":
		language = javascript.GetLanguage()
	default:
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)

	// Go snippets often arrive without a package clause; complete them so
	// the grammar sees a whole file.
	src := code
	if isGo && !strings.Contains(src, "package ") {
		src = "package main\n\n" + src
	}

	tree, err := parser.ParseCtx(ctx, nil, []byte(src))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	if tree.RootNode().HasError() {
		return fmt.Errorf("snippet contains syntax errors")
	}
	return nil
}

// =============================================================================
// YAEGI SANDBOX
// =============================================================================

// Sandbox interprets Go snippets with yaegi instead of compiling them:
// no toolchain dependency, no binary artifacts, and the import allowlist
// keeps filesystem, network, and exec access out of generated code.
type Sandbox struct {
	allowed map[string]bool
	timeout time.Duration
}

// NewSandbox creates a sandbox with the safe-stdlib allowlist.
func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sandbox{
		timeout: timeout,
		allowed: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"unicode":         true,
			// os, os/exec, net, net/http, syscall, unsafe stay blocked.
		},
	}
}

// Run evaluates a snippet declaring RunTool and invokes it with input.
func (s *Sandbox) Run(ctx context.Context, code, input string) (string, error) {
	if err := s.validateImports(code); err != nil {
		return "", err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("load stdlib symbols: %w", err)
	}

	if !strings.Contains(code, "package ") {
		code = "package main\n\n" + code
	}
	if _, err := i.Eval(code); err != nil {
		return "", fmt.Errorf("evaluate snippet: %w", err)
	}

	v, err := i.Eval("main.RunTool")
	if err != nil {
		return "", fmt.Errorf("RunTool not found: %w", err)
	}
	runTool, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return "", fmt.Errorf("RunTool must have signature func(string) (string, error)")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := runTool(input)
		ch <- outcome{r, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return "", fmt.Errorf("RunTool: %w", o.err)
		}
		return o.result, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: snippet exceeded %v", types.ErrExecutorTimeout, s.timeout)
	}
}

// validateImports rejects snippets importing outside the allowlist.
func (s *Sandbox) validateImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			if pkg := importPath(trimmed); pkg != "" && !s.allowed[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			if pkg := importPath(strings.TrimPrefix(trimmed, "import ")); pkg != "" && !s.allowed[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %s", strings.Join(forbidden, ", "))
	}
	return nil
}

// importPath extracts the quoted path from one import spec, tolerating
// aliases and underscores.
func importPath(spec string) string {
	start := strings.Index(spec, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(spec[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return spec[start+1 : start+1+end]
}
