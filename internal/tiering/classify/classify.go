// Package classify maps raw transport failures into a closed set of
// issue types with default severities. Classification is pure: the same
// error always yields the same result, so the full table is unit-tested.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IssueType is the category assigned to a transport failure.
type IssueType int

const (
	IssueUnknown IssueType = iota
	IssueTimeout
	IssueConnectionRefused
	IssueRateLimited
	IssueUnauthorized
	IssueMalformedResponse
	IssueResourceExhausted
)

func (t IssueType) String() string {
	switch t {
	case IssueTimeout:
		return "timeout"
	case IssueConnectionRefused:
		return "connection_refused"
	case IssueRateLimited:
		return "rate_limited"
	case IssueUnauthorized:
		return "unauthorized"
	case IssueMalformedResponse:
		return "malformed_response"
	case IssueResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// IssueSeverity ranks how urgently an issue needs attention.
type IssueSeverity int

const (
	SeverityLow IssueSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s IssueSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classification pairs an issue type with its default severity.
type Classification struct {
	Type     IssueType
	Severity IssueSeverity
}

// httpStatuser is implemented by transport errors that carry an HTTP
// status code. Declared here so this package stays dependency-free.
type httpStatuser interface {
	HTTPStatus() int
}

// defaultSeverities holds the severity assigned to each issue type when
// nothing about the error argues otherwise.
var defaultSeverities = map[IssueType]IssueSeverity{
	IssueTimeout:           SeverityMedium,
	IssueConnectionRefused: SeverityHigh,
	IssueRateLimited:       SeverityMedium,
	IssueUnauthorized:      SeverityCritical,
	IssueMalformedResponse: SeverityLow,
	IssueResourceExhausted: SeverityHigh,
	IssueUnknown:           SeverityMedium,
}

// throttlePatterns are message fragments that indicate rate limiting
// regardless of the error's concrete type.
var throttlePatterns = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
	"plan limit",
	"count exceeded",
}

// Classify maps err to an issue type and default severity. A nil error
// classifies as Unknown/Medium; callers should not classify successes.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Type: IssueUnknown, Severity: defaultSeverities[IssueUnknown]}
	}

	if t := typedClassification(err); t != IssueUnknown {
		return Classification{Type: t, Severity: defaultSeverities[t]}
	}

	if t := patternClassification(err.Error()); t != IssueUnknown {
		return Classification{Type: t, Severity: defaultSeverities[t]}
	}

	return Classification{Type: IssueUnknown, Severity: defaultSeverities[IssueUnknown]}
}

// typedClassification inspects the error chain for well-known types:
// context errors, net errors, syscall errno, gRPC status and HTTP status.
func typedClassification(err error) IssueType {
	if errors.Is(err, context.DeadlineExceeded) {
		return IssueTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return IssueTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return IssueConnectionRefused
	}

	var hs httpStatuser
	if errors.As(err, &hs) {
		return fromHTTPStatus(hs.HTTPStatus())
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return fromGRPCCode(st.Code())
	}

	return IssueUnknown
}

func fromHTTPStatus(code int) IssueType {
	switch {
	case code == 429:
		return IssueRateLimited
	case code == 401 || code == 403:
		return IssueUnauthorized
	case code == 408 || code == 504:
		return IssueTimeout
	case code == 503 || code == 507:
		return IssueResourceExhausted
	case code >= 500:
		return IssueConnectionRefused
	case code == 400 || code == 422:
		return IssueMalformedResponse
	default:
		return IssueUnknown
	}
}

func fromGRPCCode(code codes.Code) IssueType {
	switch code {
	case codes.DeadlineExceeded:
		return IssueTimeout
	case codes.Unavailable, codes.Aborted:
		return IssueConnectionRefused
	case codes.ResourceExhausted:
		return IssueRateLimited
	case codes.Unauthenticated, codes.PermissionDenied:
		return IssueUnauthorized
	case codes.InvalidArgument, codes.FailedPrecondition:
		return IssueMalformedResponse
	default:
		return IssueUnknown
	}
}

// patternClassification is the last resort: substring matching against
// the lowered error text, the way provider errors arrive from the wild.
func patternClassification(msg string) IssueType {
	lower := strings.ToLower(msg)

	for _, p := range throttlePatterns {
		if strings.Contains(lower, p) {
			return IssueRateLimited
		}
	}

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return IssueTimeout
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "broken pipe"):
		return IssueConnectionRefused
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden"):
		return IssueUnauthorized
	case strings.Contains(lower, "malformed") || strings.Contains(lower, "unexpected eof") ||
		strings.Contains(lower, "invalid response") || strings.Contains(lower, "parse error"):
		return IssueMalformedResponse
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "disk full") ||
		strings.Contains(lower, "no space left"):
		return IssueResourceExhausted
	default:
		return IssueUnknown
	}
}
