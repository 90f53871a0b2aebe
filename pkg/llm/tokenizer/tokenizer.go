// Package tokenizer counts tokens for prompt budgeting.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoder     *tiktoken.Tiktoken
	encoderOnce sync.Once
	encoderErr  error
)

// Encoding is the BPE encoding used for counting.
const Encoding = "cl100k_base"

func initEncoder() error {
	encoderOnce.Do(func() {
		encoder, encoderErr = tiktoken.GetEncoding(Encoding)
	})
	return encoderErr
}

// Count returns the number of tokens in text. When the encoding cannot be
// loaded it falls back to an estimate of four characters per token.
func Count(text string) int {
	if text == "" {
		return 0
	}
	if err := initEncoder(); err != nil {
		return Estimate(text)
	}
	return len(encoder.Encode(text, nil, nil))
}

// Estimate approximates a token count without an encoder.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

// Available reports whether exact counting is possible.
func Available() bool {
	return initEncoder() == nil
}
