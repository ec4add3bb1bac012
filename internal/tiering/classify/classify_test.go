package classify

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type httpErr struct{ code int }

func (e *httpErr) Error() string   { return fmt.Sprintf("http status %d", e.code) }
func (e *httpErr) HTTPStatus() int { return e.code }

func TestClassifyFixtures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType IssueType
		wantSev  IssueSeverity
	}{
		{"nil", nil, IssueUnknown, SeverityMedium},
		{"deadline exceeded", context.DeadlineExceeded, IssueTimeout, SeverityMedium},
		{"wrapped deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), IssueTimeout, SeverityMedium},
		{"econnrefused", syscall.ECONNREFUSED, IssueConnectionRefused, SeverityHigh},
		{"econnreset", fmt.Errorf("write: %w", syscall.ECONNRESET), IssueConnectionRefused, SeverityHigh},
		{"http 429", &httpErr{429}, IssueRateLimited, SeverityMedium},
		{"http 401", &httpErr{401}, IssueUnauthorized, SeverityCritical},
		{"http 403", &httpErr{403}, IssueUnauthorized, SeverityCritical},
		{"http 504", &httpErr{504}, IssueTimeout, SeverityMedium},
		{"http 503", &httpErr{503}, IssueResourceExhausted, SeverityHigh},
		{"http 500", &httpErr{500}, IssueConnectionRefused, SeverityHigh},
		{"http 400", &httpErr{400}, IssueMalformedResponse, SeverityLow},
		{"http 418", &httpErr{418}, IssueUnknown, SeverityMedium},
		{"grpc unavailable", status.Error(codes.Unavailable, "conn drop"), IssueConnectionRefused, SeverityHigh},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "too slow"), IssueTimeout, SeverityMedium},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "throttled"), IssueRateLimited, SeverityMedium},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "bad token"), IssueUnauthorized, SeverityCritical},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad payload"), IssueMalformedResponse, SeverityLow},
		{"rate limit text", errors.New("daily rate limit exceeded for key"), IssueRateLimited, SeverityMedium},
		{"too many requests text", errors.New("429 Too Many Requests"), IssueRateLimited, SeverityMedium},
		{"quota text", errors.New("monthly quota exceeded"), IssueRateLimited, SeverityMedium},
		{"timeout text", errors.New("i/o timeout talking to peer"), IssueTimeout, SeverityMedium},
		{"refused text", errors.New("dial tcp 10.0.0.1:443: connection refused"), IssueConnectionRefused, SeverityHigh},
		{"no such host", errors.New("lookup hooks.invalid: no such host"), IssueConnectionRefused, SeverityHigh},
		{"malformed text", errors.New("malformed JSON body"), IssueMalformedResponse, SeverityLow},
		{"unexpected eof", errors.New("unexpected EOF"), IssueMalformedResponse, SeverityLow},
		{"disk full", errors.New("write /spool/m1.json: no space left on device"), IssueResourceExhausted, SeverityHigh},
		{"unclassifiable", errors.New("something odd happened"), IssueUnknown, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Classify(%v) type = %v, want %v", tt.err, got.Type, tt.wantType)
			}
			if got.Severity != tt.wantSev {
				t.Errorf("Classify(%v) severity = %v, want %v", tt.err, got.Severity, tt.wantSev)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	first := Classify(err)
	for i := 0; i < 100; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severity constants must be ordered low < medium < high < critical")
	}
}
