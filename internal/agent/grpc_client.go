package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/honeypot/internal/domain"
)

// Sidecar method names. Requests and responses are google.protobuf.Struct
// messages so no generated stubs are needed.
const (
	classifyMethod = "/honeypot.agent.v1.AgentService/Classify"
	respondMethod  = "/honeypot.agent.v1.AgentService/Respond"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyReply               = errors.New("agent returned empty reply")
)

// GrpcClient provides a gRPC client to the model sidecar service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient creates a new gRPC client to the sidecar. Extra dial options
// are appended after the defaults.
func NewGrpcClient(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad agent endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks if the agent service reports SERVING.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("agent status %s", resp.GetStatus())
	}
	return nil
}

// Classify asks the sidecar for a verdict.
func (c *GrpcClient) Classify(ctx context.Context, text string, history []domain.Message) (Verdict, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":    text,
		"history": historyValues(lastN(history, classifierHistoryWindow)),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("build classify request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		c.logger.Warn("Classify call failed", "error", err)
		return Verdict{}, fmt.Errorf("classify: %w", err)
	}

	f := resp.GetFields()
	return Verdict{
		IsScam:     f["isScam"].GetBoolValue(),
		Confidence: clampConfidence(int(f["confidence"].GetNumberValue())),
		Category:   f["category"].GetStringValue(),
		Rationale:  f["rationale"].GetStringValue(),
	}, nil
}

// Respond asks the sidecar for the persona's reply.
func (c *GrpcClient) Respond(ctx context.Context, text string, history []domain.Message, evidence domain.Evidence) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":     text,
		"history":  historyValues(lastN(history, responderHistoryWindow)),
		"evidence": evidenceValues(evidence),
		"missing":  stringValues(evidence.Missing()),
	})
	if err != nil {
		return "", fmt.Errorf("build respond request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, respondMethod, req, resp); err != nil {
		c.logger.Warn("Respond call failed", "error", err)
		return "", fmt.Errorf("respond: %w", err)
	}

	reply := resp.GetFields()["reply"].GetStringValue()
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}

// structpb.NewStruct only accepts []any and map[string]any containers.

func historyValues(history []domain.Message) []any {
	out := make([]any, 0, len(history))
	for _, m := range history {
		out = append(out, map[string]any{
			"sender": string(m.Role),
			"text":   m.Text,
		})
	}
	return out
}

func evidenceValues(ev domain.Evidence) map[string]any {
	return map[string]any{
		"bankAccounts":     stringValues(ev.BankAccounts),
		"upiIds":           stringValues(ev.UPIHandles),
		"phoneNumbers":     stringValues(ev.PhoneNumbers),
		"emails":           stringValues(ev.Emails),
		"phishingLinks":    stringValues(ev.PhishingURLs),
		"ifscCodes":        stringValues(ev.RoutingCodes),
		"referenceNumbers": stringValues(ev.ReferenceIDs),
	}
}

func stringValues(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
