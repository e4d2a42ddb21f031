package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAntiBot represents an unsolved anti-bot challenge
	ErrorTypeAntiBot ErrorType = "antibot"
	// ErrorTypeParsing represents HTML parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeRender represents browser rendering errors
	ErrorTypeRender ErrorType = "render"
	// ErrorTypeConflict represents expected persistence conflicts (duplicate code or URL)
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// CrawlError represents a crawl-specific error
type CrawlError struct {
	Type   ErrorType
	Source string
	Msg    string
	Err    error
	Time   time.Time
}

// Error implements the error interface
func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Msg)
}

// Unwrap returns the underlying error
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error should abort the whole crawl.
// Only missing configuration does; everything else skips the affected item.
func (e *CrawlError) IsFatal() bool {
	return e.Type == ErrorTypeConfiguration
}

// New creates a new CrawlError
func New(errType ErrorType, source, msg string, err error) *CrawlError {
	return &CrawlError{
		Type:   errType,
		Source: source,
		Msg:    msg,
		Err:    err,
		Time:   time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(source, msg string, err error) *CrawlError {
	return New(ErrorTypeNetwork, source, msg, err)
}

// NewAntiBot creates a new anti-bot challenge error
func NewAntiBot(source, msg string, err error) *CrawlError {
	return New(ErrorTypeAntiBot, source, msg, err)
}

// NewParsing creates a new parsing error
func NewParsing(source, msg string, err error) *CrawlError {
	return New(ErrorTypeParsing, source, msg, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *CrawlError {
	msg := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, msg, nil)
}

// NewRender creates a new browser rendering error
func NewRender(source, msg string, err error) *CrawlError {
	return New(ErrorTypeRender, source, msg, err)
}

// NewConflict creates a new persistence conflict error
func NewConflict(source, msg string) *CrawlError {
	return New(ErrorTypeConflict, source, msg, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(msg string, err error) *CrawlError {
	return New(ErrorTypeConfiguration, "", msg, err)
}
