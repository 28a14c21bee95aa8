package provider

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

type synthHandler func(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error)

func startSynthServer(t *testing.T, handle synthHandler) *GRPCProvider {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "voicebatch.synth.v1.Synthesizer",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Synthesize",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return handle(ctx, req)
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	p, err := NewGRPCProvider(GRPCConfig{
		Name:     "grpc-tts",
		Endpoint: "passthrough:///bufnet",
		APIKey:   "secret",
		Timeout:  5 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		t.Fatalf("NewGRPCProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestGRPCProvider_Synthesize(t *testing.T) {
	var gotText, gotFormat, gotAuth string
	p := startSynthServer(t, func(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
		gotText = req.GetFields()["text"].GetStringValue()
		gotFormat = req.GetFields()["format"].GetStringValue()
		if md, ok := metadata.FromIncomingContext(ctx); ok && len(md.Get("authorization")) > 0 {
			gotAuth = md.Get("authorization")[0]
		}
		return wrapperspb.Bytes([]byte("RIFF")), nil
	})

	audio, err := p.Synthesize(context.Background(), "hello", domain.VoiceOptions{Voice: "alloy"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "RIFF" {
		t.Errorf("audio = %q", audio)
	}
	if gotText != "hello" || gotFormat != "mp3" {
		t.Errorf("request text=%q format=%q", gotText, gotFormat)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestGRPCProvider_StatusPassthrough(t *testing.T) {
	p := startSynthServer(t, func(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error) {
		return nil, status.Error(codes.ResourceExhausted, "quota exceeded")
	})

	_, err := p.Synthesize(context.Background(), "hello", domain.VoiceOptions{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("code = %v, want ResourceExhausted (err=%v)", status.Code(err), err)
	}
}

func TestGRPCProvider_EmptyAudio(t *testing.T) {
	p := startSynthServer(t, func(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error) {
		return wrapperspb.Bytes(nil), nil
	})

	_, err := p.Synthesize(context.Background(), "hello", domain.VoiceOptions{})
	perr, ok := err.(*Error)
	if !ok || perr.Provider != "grpc-tts" {
		t.Fatalf("err = %v, want *Error", err)
	}
}

func TestGRPCProvider_EmptyText(t *testing.T) {
	p := startSynthServer(t, func(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error) {
		t.Error("backend must not be called")
		return nil, nil
	})

	_, err := p.Synthesize(context.Background(), "  ", domain.VoiceOptions{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}
