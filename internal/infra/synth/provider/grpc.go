package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// SynthesizeMethod is the unary method a gRPC synthesis backend must serve.
// The request is a google.protobuf.Struct and the reply a google.protobuf.BytesValue,
// so no generated stubs are required on either side.
const SynthesizeMethod = "/voicebatch.synth.v1.Synthesizer/Synthesize"

// GRPCConfig configures a GRPCProvider.
type GRPCConfig struct {
	Name        string
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration
	DialOptions []grpc.DialOption
}

// GRPCProvider implements Provider for gRPC synthesis backends.
type GRPCProvider struct {
	cfg  GRPCConfig
	conn *grpc.ClientConn
}

// NewGRPCProvider creates a new gRPC provider. The connection is established lazily.
func NewGRPCProvider(cfg GRPCConfig) (*GRPCProvider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	target := cfg.Endpoint
	var opts []grpc.DialOption
	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProvider{cfg: cfg, conn: conn}, nil
}

// Name returns the provider's name.
func (p *GRPCProvider) Name() string {
	return p.cfg.Name
}

// Synthesize invokes the backend and returns the audio bytes.
// Status errors are returned unchanged; routing.Classify understands them.
func (p *GRPCProvider) Synthesize(
	ctx context.Context,
	text string,
	voice domain.VoiceOptions,
) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, status.Error(codes.InvalidArgument, "text cannot be empty")
	}

	req, err := structpb.NewStruct(synthesizeFields(text, p.cfg.Model, voice))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if p.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+p.cfg.APIKey)
	}

	reply := &wrapperspb.BytesValue{}
	if err := p.conn.Invoke(ctx, SynthesizeMethod, req, reply); err != nil {
		return nil, err
	}
	if len(reply.GetValue()) == 0 {
		return nil, &Error{Provider: p.cfg.Name, Message: ErrEmptyAudio.Error()}
	}
	return reply.GetValue(), nil
}

// Close releases the connection.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}

func synthesizeFields(text, model string, voice domain.VoiceOptions) map[string]any {
	format := voice.Format
	if format == "" {
		format = defaultFormat
	}
	language := voice.Language
	if language == "" {
		language = defaultLanguage
	}

	fields := map[string]any{
		"text":     text,
		"voice":    voice.Voice,
		"format":   format,
		"language": language,
	}
	if voice.Speed > 0 {
		fields["speed"] = voice.Speed
	}
	if model != "" {
		fields["model"] = model
	}
	if len(voice.Extra) > 0 {
		extra := make(map[string]any, len(voice.Extra))
		for k, v := range voice.Extra {
			extra[k] = v
		}
		fields["extra"] = extra
	}
	return fields
}
