package platformerr

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// graphError is the Facebook and Instagram Graph API error envelope.
type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// graphRateLimitWait matches the one hour rolling window of the Graph
// platform rate limits.
const graphRateLimitWait = time.Hour

func classifyGraph(prefix string, raw RawError) Classification {
	var body graphError
	if !decode(raw.Body, &body) || body.Error.Code == 0 {
		return byStatus(prefix, raw, "")
	}

	msg := body.Error.Message
	c := Classification{Message: msg}
	switch code := body.Error.Code; {
	case code == 190 || code == 102:
		c.Code, c.Kind = prefix+"_TOKEN_EXPIRED", KindTokenExpired
	case code == 4 || code == 17 || code == 32 || code == 613:
		c.Code, c.Kind, c.IsRetryable = prefix+"_RATE_LIMIT", KindRateLimit, true
		c.RetryAfter = graphRateLimitWait
	case code == 10 || (code >= 200 && code <= 299):
		c.Code, c.Kind = prefix+"_PERMISSION_DENIED", KindPermissionDenied
	case code == 368:
		c.Code, c.Kind = prefix+"_POLICY_BLOCKED", KindPermissionDenied
	case code == 1 || code == 2:
		c.Code, c.Kind, c.IsRetryable = prefix+"_SERVER_ERROR", KindServerError, true
	case code == 100:
		c.Code, c.Kind = prefix+"_INVALID_PARAMETER", KindUnknown
	default:
		return byStatus(prefix, raw, msg)
	}
	return c
}

// twitterError covers both the v2 problem shape and the v1.1 errors array.
type twitterError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// twitterRateLimitWait is the length of a Twitter rate limit window.
const twitterRateLimitWait = 900 * time.Second

func classifyTwitter(raw RawError) Classification {
	var body twitterError
	decode(raw.Body, &body)

	code := 0
	msg := body.Detail
	if len(body.Errors) > 0 {
		code = body.Errors[0].Code
		msg = body.Errors[0].Message
	}
	if msg == "" {
		msg = body.Title
	}

	c := Classification{Message: msg}
	switch {
	case raw.StatusCode == http.StatusTooManyRequests || code == 88:
		c.Code, c.Kind, c.IsRetryable = "TWITTER_RATE_LIMIT", KindRateLimit, true
		c.RetryAfter = twitterRetryAfter(raw)
	case code == 187:
		c.Code, c.Kind = "TWITTER_DUPLICATE_CONTENT", KindUnknown
	case raw.StatusCode == http.StatusUnauthorized || code == 89 || code == 32:
		c.Code, c.Kind = "TWITTER_TOKEN_EXPIRED", KindTokenExpired
	case raw.StatusCode == http.StatusForbidden || code == 64 || code == 326 || code == 453:
		c.Code, c.Kind = "TWITTER_PERMISSION_DENIED", KindPermissionDenied
	case raw.StatusCode >= 500 || code == 130 || code == 131:
		c.Code, c.Kind, c.IsRetryable = "TWITTER_SERVER_ERROR", KindServerError, true
	default:
		return byStatus("TWITTER", raw, msg)
	}
	if c.Message == "" {
		c.Message = http.StatusText(raw.StatusCode)
	}
	return c
}

// twitterRetryAfter prefers Retry-After, then x-rate-limit-reset (epoch
// seconds) relative to ObservedAt, then the full window.
func twitterRetryAfter(raw RawError) time.Duration {
	if d := retryAfterHeader(raw.Header); d > 0 {
		return d
	}
	if reset := raw.Header.Get("x-rate-limit-reset"); reset != "" && !raw.ObservedAt.IsZero() {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(raw.ObservedAt); d > 0 {
				return d.Round(time.Second)
			}
		}
	}
	return twitterRateLimitWait
}

// tiktokError is the TikTok v2 API envelope. A code of "ok" means success.
type tiktokError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		LogID   string `json:"log_id"`
	} `json:"error"`
}

func classifyTikTok(raw RawError) Classification {
	var body tiktokError
	if !decode(raw.Body, &body) || body.Error.Code == "" || body.Error.Code == "ok" {
		return byStatus("TIKTOK", raw, "")
	}

	c := Classification{Message: body.Error.Message}
	switch body.Error.Code {
	case "access_token_invalid", "access_token_expired":
		c.Code, c.Kind = "TIKTOK_TOKEN_EXPIRED", KindTokenExpired
	case "rate_limit_exceeded":
		c.Code, c.Kind, c.IsRetryable = "TIKTOK_RATE_LIMIT", KindRateLimit, true
		c.RetryAfter = time.Minute
	case "spam_risk_too_many_posts", "spam_risk_user_banned_from_posting":
		c.Code, c.Kind, c.IsRetryable = "TIKTOK_POST_LIMIT", KindRateLimit, true
		c.RetryAfter = 24 * time.Hour
	case "scope_not_authorized", "scope_permission_missed":
		c.Code, c.Kind = "TIKTOK_PERMISSION_DENIED", KindPermissionDenied
	case "internal_error":
		c.Code, c.Kind, c.IsRetryable = "TIKTOK_SERVER_ERROR", KindServerError, true
	case "invalid_params":
		c.Code, c.Kind = "TIKTOK_INVALID_REQUEST", KindUnknown
	default:
		return byStatus("TIKTOK", raw, body.Error.Message)
	}
	return c
}

// amazonError covers the Ads API shape and Login with Amazon OAuth errors.
type amazonError struct {
	Code             string `json:"code"`
	Details          string `json:"details"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func classifyAmazon(raw RawError) Classification {
	var body amazonError
	decode(raw.Body, &body)

	code := strings.ToUpper(body.Code)
	oauthErr := body.Error
	msg := body.Details
	if msg == "" {
		msg = body.ErrorDescription
	}

	c := Classification{Message: msg}
	switch {
	case raw.StatusCode == http.StatusTooManyRequests || code == "THROTTLED":
		c.Code, c.Kind, c.IsRetryable = "AMAZON_RATE_LIMIT", KindRateLimit, true
		c.RetryAfter = retryAfterHeader(raw.Header)
		if c.RetryAfter == 0 {
			c.RetryAfter = time.Minute
		}
	case raw.StatusCode == http.StatusUnauthorized || code == "UNAUTHORIZED" ||
		oauthErr == "invalid_token" || oauthErr == "invalid_grant":
		c.Code, c.Kind = "AMAZON_TOKEN_EXPIRED", KindTokenExpired
	case raw.StatusCode == http.StatusForbidden:
		c.Code, c.Kind = "AMAZON_PERMISSION_DENIED", KindPermissionDenied
	case raw.StatusCode >= 500:
		c.Code, c.Kind, c.IsRetryable = "AMAZON_SERVER_ERROR", KindServerError, true
	default:
		return byStatus("AMAZON", raw, msg)
	}
	if c.Message == "" {
		c.Message = http.StatusText(raw.StatusCode)
	}
	return c
}
