package gemini

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// Retry policy: 1 initial attempt + DefaultMaxRetries retries
const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = 2 * time.Second
	maxJitter           = 1000 // milliseconds
)

// Operation - a single upstream call the retry loop can re-invoke
type Operation func(ctx context.Context) (*Result, error)

// DispatchWithRetry - invoke op; retry transient failures with exponential
// backoff plus jitter. Terminal errors propagate unchanged after one attempt.
func DispatchWithRetry(ctx context.Context, op Operation, maxRetries int, initialDelay time.Duration) (*Result, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Printf("✅ [Gemini Retry] Succeeded on attempt %d/%d", attempt+1, maxRetries+1)
			}
			return result, nil
		}

		lastErr = err

		if !IsRetryable(err) {
			log.Printf("❌ [Gemini Retry] Terminal error, not retrying: %v", err)
			return nil, err
		}

		if attempt == maxRetries {
			break
		}

		// initialDelay * 2^attempt + random jitter (0..1000ms)
		delay := initialDelay*time.Duration(1<<uint(attempt)) + time.Duration(rand.Intn(maxJitter))*time.Millisecond
		log.Printf("⚠️  [Gemini Retry] Transient error on attempt %d/%d, waiting %v: %v",
			attempt+1, maxRetries+1, delay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	log.Printf("❌ [Gemini Retry] All %d attempts exhausted", maxRetries+1)
	return nil, lastErr
}

// retryablePhrases - known transient-failure markers in upstream error text
var retryablePhrases = []string{
	"Deadline expired",
	"UNAVAILABLE",
	"Overloaded",
	"RESOURCE_EXHAUSTED",
	"upstream connect error",
	"429",
	"503",
}

// IsRetryable - true only for rate-limit (429) and overload (503) class errors.
// Checks the structured status first, then a nested API error, then known
// message substrings.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code == 503
	}

	var aerr genai.APIError
	if errors.As(err, &aerr) {
		return aerr.Code == 429 || aerr.Code == 503
	}

	msg := err.Error()
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}

	return false
}

// UserMessage - map a raw upstream error to one human-readable category
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "API_KEY_INVALID") || strings.Contains(lower, "api key not valid") ||
		strings.Contains(msg, "PERMISSION_DENIED"):
		return "The API key is missing or invalid. Check your credentials and try again."
	case strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429") ||
		strings.Contains(lower, "quota"):
		return "The request quota has been exceeded. Please wait a moment and try again."
	case strings.Contains(msg, "SAFETY") || strings.Contains(lower, "blocked"):
		return "The request was blocked by the safety filter. Adjust the prompt or the input image."
	case strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "503") ||
		strings.Contains(lower, "overloaded"):
		return "The generation service is overloaded right now. Please try again shortly."
	case strings.Contains(msg, "NOT_FOUND") || strings.Contains(lower, "not found"):
		return "The requested model is not available."
	case errors.Is(err, ErrNoContent):
		return "The model did not produce an image. Try rephrasing the instruction."
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return "The request was rejected as invalid. Check the input images and settings."
	default:
		return msg
	}
}
