// Package platformerr maps provider-specific error responses onto one
// taxonomy so callers can decide uniformly whether to retry, back off or
// ask the user to reconnect.
//
// Classify is a pure function of its inputs. Each platform has a decision
// table keyed on HTTP status and the provider's own error code; anything a
// table does not recognize falls through to a status-based default.
package platformerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
)

// Kind is the platform-independent error category.
type Kind string

const (
	KindRateLimit        Kind = "PLATFORM_RATE_LIMIT"
	KindTokenExpired     Kind = "PLATFORM_TOKEN_EXPIRED"
	KindPermissionDenied Kind = "PLATFORM_PERMISSION_DENIED"
	KindServerError      Kind = "PLATFORM_SERVER_ERROR"
	KindUnknown          Kind = "UNKNOWN_PLATFORM_ERROR"
)

// RawError is everything known about a failed provider call. Err is set
// for transport failures that produced no response. ObservedAt, when set,
// lets header-based reset timestamps be turned into a RetryAfter.
type RawError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Err        error
	ObservedAt time.Time
}

// Error implements error so a RawError can travel up a call chain.
func (e *RawError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("provider responded %d: %s", e.StatusCode, body)
}

// Unwrap returns the transport error, if any.
func (e *RawError) Unwrap() error {
	return e.Err
}

// FromResponse builds a RawError from a non-2xx response and its body.
func FromResponse(resp *http.Response, body []byte) *RawError {
	return &RawError{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		ObservedAt: time.Now(),
	}
}

// Classification is the uniform verdict for one error.
type Classification struct {
	Code        string
	Kind        Kind
	Message     string
	IsRetryable bool
	// RetryAfter is the suggested wait. Zero means use exponential backoff.
	RetryAfter time.Duration
}

// Error lets a Classification be returned as an error.
func (c Classification) Error() string {
	return c.Code + ": " + c.Message
}

// Classify maps a provider failure onto the taxonomy.
func Classify(platform models.Platform, raw RawError) Classification {
	if raw.StatusCode == 0 && raw.Err != nil {
		return classifyTransport(raw.Err)
	}

	switch platform {
	case models.PlatformFacebook:
		return classifyGraph("FB", raw)
	case models.PlatformInstagram:
		return classifyGraph("IG", raw)
	case models.PlatformTwitter:
		return classifyTwitter(raw)
	case models.PlatformTikTok:
		return classifyTikTok(raw)
	case models.PlatformAmazon:
		return classifyAmazon(raw)
	}
	return byStatus(strings.ToUpper(string(platform)), raw, "")
}

// ClassifyError unwraps a RawError from err and classifies it. Errors that
// carry no provider detail classify as unknown and non-retryable.
func ClassifyError(platform models.Platform, err error) Classification {
	var raw *RawError
	if errors.As(err, &raw) {
		return Classify(platform, *raw)
	}
	var c Classification
	if errors.As(err, &c) {
		return c
	}
	return Classification{Code: string(KindUnknown), Kind: KindUnknown, Message: err.Error()}
}

func classifyTransport(err error) Classification {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{
			Code:        "NETWORK_TIMEOUT",
			Kind:        KindServerError,
			Message:     err.Error(),
			IsRetryable: true,
		}
	}
	return Classification{Code: "NETWORK_ERROR", Kind: KindUnknown, Message: err.Error()}
}

// byStatus is the fallback for bodies no table recognized. prefix names the
// platform in the code; message overrides the raw body when non-empty.
func byStatus(prefix string, raw RawError, message string) Classification {
	if message == "" {
		message = strings.TrimSpace(string(raw.Body))
		if message == "" {
			message = http.StatusText(raw.StatusCode)
		}
	}

	c := Classification{Message: message}
	switch {
	case raw.StatusCode == http.StatusTooManyRequests:
		c.Code, c.Kind, c.IsRetryable = prefix+"_RATE_LIMIT", KindRateLimit, true
		c.RetryAfter = retryAfterHeader(raw.Header)
	case raw.StatusCode == http.StatusUnauthorized:
		c.Code, c.Kind = prefix+"_TOKEN_EXPIRED", KindTokenExpired
	case raw.StatusCode == http.StatusForbidden:
		c.Code, c.Kind = prefix+"_PERMISSION_DENIED", KindPermissionDenied
	case raw.StatusCode >= 500:
		c.Code, c.Kind, c.IsRetryable = prefix+"_SERVER_ERROR", KindServerError, true
	default:
		c.Code, c.Kind = string(KindUnknown), KindUnknown
	}
	return c
}

// retryAfterHeader reads Retry-After in seconds or HTTP-date form relative
// to the response Date header. It returns zero when absent.
func retryAfterHeader(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0
	}
	date, err := http.ParseTime(h.Get("Date"))
	if err != nil {
		return 0
	}
	if d := at.Sub(date); d > 0 {
		return d
	}
	return 0
}

func decode(body []byte, v any) bool {
	return len(body) > 0 && json.Unmarshal(body, v) == nil
}
