package llm

import (
	"fmt"
	"net/url"
	"time"
)

// Parameter ranges shared by every provider.
const (
	MinTemperature = 0.0
	// MaxTemperature follows the widest provider range (OpenAI, Gemini).
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 10 * time.Minute
)

// IsValidTemperature checks if the temperature is within [0.0, 2.0].
func IsValidTemperature(val float64) bool {
	return val >= MinTemperature && val <= MaxTemperature
}

// IsValidTopP checks if the top_p value is within [0.0, 1.0].
func IsValidTopP(val float64) bool { return val >= MinTopP && val <= MaxTopP }

// IsPositiveInt checks if the integer value is positive.
func IsPositiveInt(val int) bool { return val > 0 }

// IsNonEmptyString checks if the string is non-empty.
func IsNonEmptyString(val string) bool { return val != "" }

// ValidateBaseURL checks that baseURL is an absolute http(s) URL and returns
// its normalized form. The empty string is accepted and selects the
// provider default.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	case u.Host == "":
		return "", fmt.Errorf("URL must include a host")
	}
	return u.String(), nil
}

// ValidateTimeout clamps timeout into [MinTimeout, MaxTimeout]. Zero or
// negative means no explicit timeout.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return time.Duration(ClampFloat64(float64(timeout), float64(MinTimeout), float64(MaxTimeout)))
}

// ClampFloat64 clamps val into [lo, hi].
func ClampFloat64(val, lo, hi float64) float64 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
