package estimator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/formtrack/internal/pose"
)

const healthPollInterval = 200 * time.Millisecond

const (
	// ServiceName is the gRPC service implemented by the pose sidecar.
	ServiceName    = "formtrack.pose.v1.PoseEstimator"
	estimateMethod = "/" + ServiceName + "/Estimate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEstimateResponse         = errors.New("estimate response returned error")
	errNotServing               = errors.New("pose service not serving")
)

var estimateStreamDesc = grpc.StreamDesc{
	StreamName:    "Estimate",
	ServerStreams: true,
}

// GrpcClient streams frames from the pose sidecar. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	opts   Options
	paths  PathMapper
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	Options          Options
	Paths            PathMapper
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50061",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
		Options:          DefaultOptions(),
	}
}

// NewGrpcClient connects to the pose service and waits until the channel is
// ready and the health service reports SERVING, so a bad address or a sidecar
// still loading its model fails at startup instead of on the first upload.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pose client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("pose service at %s not ready: %w", cfg.Address, err)
	}

	hc := healthpb.NewHealthClient(conn)
	if err := waitForServing(connectCtx, hc); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after health failure", "error", closeErr)
		}
		return nil, fmt.Errorf("pose service at %s not serving: %w", cfg.Address, err)
	}

	logger.Info("Connected to pose service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: hc,
		addr:   cfg.Address,
		opts:   cfg.Options,
		paths:  cfg.Paths,
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

// waitForServing polls the health service until the estimator reports
// SERVING or ctx expires.
func waitForServing(ctx context.Context, hc healthpb.HealthClient) error {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	var last error
	for {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		switch {
		case err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING:
			return nil
		case err == nil:
			last = fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
		case ctx.Err() == nil:
			// Keep the last answer from the service, not the deadline itself.
			last = err
		}

		select {
		case <-ctx.Done():
			if last == nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ctx.Err(), last)
		case <-ticker.C:
		}
	}
}

// Addr returns the dialed address.
func (c *GrpcClient) Addr() string { return c.addr }

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health asks the standard gRPC health service whether the estimator is
// serving.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Estimate opens a server stream and yields frames as the sidecar decodes
// them.
func (c *GrpcClient) Estimate(ctx context.Context, src Source) iter.Seq2[*pose.Frame, error] {
	return func(yield func(*pose.Frame, error) bool) {
		req, err := c.request(src)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.conn.NewStream(ctx, &estimateStreamDesc, estimateMethod)
		if err != nil {
			yield(nil, fmt.Errorf("estimate request failed: %w", err))
			return
		}
		if err := stream.SendMsg(req); err != nil {
			yield(nil, fmt.Errorf("send estimate request: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("close estimate send: %w", err))
			return
		}

		for {
			resp := new(structpb.Struct)
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.logger.Error("Estimate stream error", "error", err, "source", src.Path)
				yield(nil, fmt.Errorf("estimate stream error: %w", err))
				return
			}

			frame, err := frameFromStruct(resp)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

func (c *GrpcClient) request(src Source) (*structpb.Struct, error) {
	fields := map[string]any{
		"live":                     src.Live,
		"camera_index":             src.CameraIndex,
		"model_complexity":         c.opts.ModelComplexity,
		"min_detection_confidence": c.opts.MinDetectionConfidence,
		"min_tracking_confidence":  c.opts.MinTrackingConfidence,
	}
	if !src.Live {
		if src.Path == "" {
			return nil, fmt.Errorf("%w: empty path", ErrUnsupportedSource)
		}
		fields["video_path"] = c.paths.Map(src.Path)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build estimate request: %w", err)
	}
	return req, nil
}

func frameFromStruct(s *structpb.Struct) (*pose.Frame, error) {
	fields := s.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", errEstimateResponse, msg)
	}

	frame := &pose.Frame{
		Index:  int(fields["index"].GetNumberValue()),
		Width:  int(fields["width"].GetNumberValue()),
		Height: int(fields["height"].GetNumberValue()),
	}
	values := fields["landmarks"].GetListValue().GetValues()
	if len(values) == 0 {
		return frame, nil
	}
	frame.Landmarks = make([]pose.Landmark, len(values))
	for i, v := range values {
		lm := v.GetStructValue().GetFields()
		frame.Landmarks[i] = pose.Landmark{
			Index:      i,
			X:          lm["x"].GetNumberValue(),
			Y:          lm["y"].GetNumberValue(),
			Z:          lm["z"].GetNumberValue(),
			Visibility: lm["visibility"].GetNumberValue(),
		}
	}
	return frame, nil
}

// PathMapper rewrites host paths into the pose sidecar's filesystem, where the
// upload directory is mounted under a different root.
type PathMapper struct {
	HostDir    string
	SidecarDir string
}

// Map returns path as the sidecar sees it. Paths outside HostDir are returned
// unchanged.
func (m PathMapper) Map(path string) string {
	if m.HostDir == "" || m.SidecarDir == "" {
		return path
	}
	host := filepath.Clean(m.HostDir)
	p := filepath.Clean(path)
	rel, err := filepath.Rel(host, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(filepath.Join(m.SidecarDir, rel))
}

// Ensure GrpcClient implements Estimator.
var _ Estimator = (*GrpcClient)(nil)
