package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/candorhq/candor/pkg/logger"
)

const (
	defaultGenAIModel   = "gemini-2.5-flash"
	defaultGenAITimeout = 30 * time.Second
	defaultRPM          = 60
)

// generateFunc performs one model call. It is swapped out in tests.
type generateFunc func(ctx context.Context, model, instruction, content string, jsonOutput bool) (string, error)

// GenAIAnalyzer analyses feedback with Google's Gemini models.
type GenAIAnalyzer struct {
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter
	generate generateFunc
	log      *zap.Logger
}

// NewGenAIAnalyzer creates a Gemini backed analyzer.
func NewGenAIAnalyzer(ctx context.Context, cfg Config) (*GenAIAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("ai: GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("ai: create GenAI client: %w", err)
	}

	return newGenAIAnalyzer(cfg, clientGenerate(client)), nil
}

func newGenAIAnalyzer(cfg Config, generate generateFunc) *GenAIAnalyzer {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenAITimeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRPM
	}

	return &GenAIAnalyzer{
		model:    model,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		generate: generate,
		log:      logger.WithModule("ai.genai"),
	}
}

func clientGenerate(client *genai.Client) generateFunc {
	return func(ctx context.Context, model, instruction, content string, jsonOutput bool) (string, error) {
		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.2),
		}
		if jsonOutput {
			config.ResponseMIMEType = "application/json"
		}

		resp, err := client.Models.GenerateContent(ctx, model,
			[]*genai.Content{genai.NewContentFromText(content, genai.RoleUser)},
			config,
		)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
}

// Name identifies the analyzer in processing logs.
func (a *GenAIAnalyzer) Name() string {
	return "genai:" + a.model
}

// Analyze requests a structured analysis. Transport errors are returned as
// is so the caller can retry; malformed output yields ErrUnparseable.
func (a *GenAIAnalyzer) Analyze(ctx context.Context, content string) (Analysis, error) {
	text, err := a.call(ctx, analysisInstruction, content, true)
	if err != nil {
		return Analysis{}, err
	}
	return ParseAnalysis(text)
}

// Anonymize asks the model to rewrite content without identifying details.
func (a *GenAIAnalyzer) Anonymize(ctx context.Context, content string, opts AnonymizeOptions) (string, error) {
	text, err := a.call(ctx, anonymizeInstruction(opts), content, false)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(stripFences(text))
	if text == "" {
		return "", errors.New("ai: empty anonymization response")
	}
	return text, nil
}

func (a *GenAIAnalyzer) call(ctx context.Context, instruction, content string, jsonOutput bool) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ai: rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	text, err := a.generate(callCtx, a.model, instruction, content, jsonOutput)
	if err != nil {
		a.log.Warn("model call failed",
			zap.String("model", a.model),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return "", fmt.Errorf("ai: generate content: %w", err)
	}

	a.log.Debug("model call completed",
		zap.String("model", a.model),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("response_bytes", len(text)))
	return text, nil
}
