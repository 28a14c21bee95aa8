package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/synth/provider"
)

func TestClassifySignal(t *testing.T) {
	tests := []struct {
		code   int
		msg    string
		expect domain.ErrorKind
	}{
		{401, "", domain.KindAuthentication},
		{403, "", domain.KindAuthentication},
		{0, "Unauthorized: invalid API key", domain.KindAuthentication},
		{429, "", domain.KindRateLimit},
		{0, "rate limit exceeded", domain.KindRateLimit},
		{0, "request throttled", domain.KindRateLimit},
		{0, "dial tcp: connection refused", domain.KindNetwork},
		{0, "i/o timeout", domain.KindNetwork},
		{404, "", domain.KindNetwork},
		{503, "", domain.KindNetwork},
		{400, "", domain.KindValidation},
		{0, "text too long", domain.KindValidation},
		{0, "open out.mp3: permission denied", domain.KindFileSystem},
		{0, "write: no space left on device", domain.KindFileSystem},
		{500, "", domain.KindProvider},
		{0, "model overloaded", domain.KindProvider},
		{0, "something odd happened", domain.KindConfiguration},
		{0, "voice settings thereof were ignored", domain.KindConfiguration},
		{0, "EOF", domain.KindNetwork},
		{0, "unexpected EOF", domain.KindNetwork},
		{0, `Post "https://api.example.com/tts": EOF`, domain.KindNetwork},
		{418, "", domain.KindConfiguration},
		// status code wins over a conflicting message
		{401, "rate limit", domain.KindAuthentication},
	}

	for _, tt := range tests {
		if got := ClassifySignal(tt.code, tt.msg); got != tt.expect {
			t.Errorf("ClassifySignal(%d, %q) = %v, want %v", tt.code, tt.msg, got, tt.expect)
		}
	}
}

func TestClassifySignal_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := ClassifySignal(429, "slow down"); got != domain.KindRateLimit {
			t.Fatalf("run %d: got %v", i, got)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect domain.ErrorKind
	}{
		{"nil", nil, ""},
		{"provider error", &provider.Error{Provider: "a", Code: 429, Message: "slow down"}, domain.KindRateLimit},
		{"wrapped provider error", fmt.Errorf("job 1: %w", &provider.Error{Code: 401}), domain.KindAuthentication},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "bad token"), domain.KindAuthentication},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), domain.KindNetwork},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad voice"), domain.KindValidation},
		{"grpc internal", status.Error(codes.Internal, "boom"), domain.KindProvider},
		{"deadline", context.DeadlineExceeded, domain.KindNetwork},
		{"path error", &fs.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, domain.KindFileSystem},
		{"permission", fs.ErrPermission, domain.KindFileSystem},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, domain.KindNetwork},
		{"plain text", errors.New("unexpected"), domain.KindConfiguration},
		{"wrapped eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), domain.KindNetwork},
		{"bare eof", io.EOF, domain.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expect {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expect)
			}
		})
	}
}

func TestRetryHint(t *testing.T) {
	if got := RetryHint(&provider.Error{Code: 429, RetryAfter: 3 * time.Second}); got != 3*time.Second {
		t.Errorf("provider hint = %v, want 3s", got)
	}

	st, err := status.New(codes.ResourceExhausted, "quota").WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(1500 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("WithDetails: %v", err)
	}
	if got := RetryHint(st.Err()); got != 1500*time.Millisecond {
		t.Errorf("grpc hint = %v, want 1.5s", got)
	}

	if got := RetryHint(errors.New("plain")); got != 0 {
		t.Errorf("plain hint = %v, want 0", got)
	}
}
