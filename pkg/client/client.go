package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/wexec/pkg/api"
	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/security"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config controls the Routing Client's retry and shard-map refresh policy.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig matches pkg/workerruntime's own retry posture: a handful of
// attempts with exponential backoff, not an unbounded retry loop.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Client is the Routing Client (SPEC_FULL.md §6b): it resolves the shard
// owner for a worker id from a cached shard map refreshed from the
// cluster's Raft-replicated assignment state, and retries on the error
// kinds spec.md §7 marks retriable — an invalid-shard-id response (the
// cached map is stale) or a runtime error whose message looks like a
// transport failure.
type Client struct {
	cfg     Config
	certDir string

	mu       sync.RWMutex
	conns    map[string]*grpc.ClientConn // dial address -> connection
	seedAddr string
	shardMap api.GetShardMapResponse
}

// NewClient creates a Routing Client that bootstraps its shard map from
// seedAddr — any live node answers GetShardMap identically, since the
// shard map is Raft-replicated.
func NewClient(seedAddr string, cfg Config) (*Client, error) {
	certDir, err := security.GetCertDir("cli", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get cert directory: %w", err)
	}
	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("CLI certificate not found at %s - request one first", certDir)
	}

	c := &Client{
		cfg:      cfg,
		certDir:  certDir,
		conns:    make(map[string]*grpc.ClientConn),
		seedAddr: seedAddr,
	}
	if err := c.refreshShardMap(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to fetch initial shard map: %w", err)
	}
	return c, nil
}

// Close releases every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

func (c *Client) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	conn, ok := c.conns[addr]
	c.mu.RUnlock()
	if ok {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := c.dial(addr)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) dial(addr string) (*grpc.ClientConn, error) {
	cert, err := security.LoadCertFromFile(c.certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CLI certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(c.certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      certPool,
		MinVersion:   tls.VersionTLS13,
	}

	creds := credentials.NewTLS(tlsConfig)
	return grpc.Dial(addr, grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)))
}

// refreshShardMap re-fetches the shard map from the seed address. Any node
// answers identically once Raft has replicated the latest assignment, so
// there's no leader-forwarding concern here, unlike assign_shards itself.
func (c *Client) refreshShardMap(ctx context.Context) error {
	conn, err := c.connFor(c.seedAddr)
	if err != nil {
		return err
	}
	var resp api.GetShardMapResponse
	if err := conn.Invoke(ctx, "/wexec.Engine/GetShardMap", &api.GetShardMapRequest{}, &resp); err != nil {
		return err
	}
	c.mu.Lock()
	c.shardMap = resp
	c.mu.Unlock()
	return nil
}

// ownerAddr resolves workerName to its shard owner's dial address using
// the cached shard map, falling back to the seed address if the map hasn't
// been populated for that shard yet (the RPC itself will then fail with
// InvalidShardId, which triggers a refresh-and-retry).
func (c *Client) ownerAddr(workerName string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.shardMap.TotalShards == 0 {
		return c.seedAddr
	}
	shardId := shard.ShardOf(workerName, c.shardMap.TotalShards)
	if addr, ok := c.shardMap.Owners[shardId]; ok {
		return addr
	}
	return c.seedAddr
}

// call invokes method against workerName's current shard owner, retrying
// with exponential backoff (refreshing the shard map first) whenever the
// response's error is retriable per engineerr.Retriable.
func (c *Client) call(ctx context.Context, workerName, method string, req, resp interface{}, errOf func() *api.ErrorPayload) error {
	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		addr := c.ownerAddr(workerName)
		conn, err := c.connFor(addr)
		if err != nil {
			lastErr = err
		} else if err := conn.Invoke(ctx, method, req, resp); err != nil {
			lastErr = err
		} else if ee := errOf(); ee != nil {
			engineErr := fromPayload(ee)
			if !engineErr.Retriable() {
				return engineErr
			}
			lastErr = engineErr
		} else {
			return nil
		}

		if attempt == c.cfg.MaxRetries {
			break
		}
		if rerr := c.refreshShardMap(ctx); rerr != nil {
			lastErr = rerr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return lastErr
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func fromPayload(p *api.ErrorPayload) *engineerr.EngineError {
	return &engineerr.EngineError{
		Kind:          p.Kind,
		Message:       p.Message,
		ShardId:       p.ShardId,
		OwnedShards:   p.OwnedShards,
		InterruptKind: p.InterruptKind,
	}
}

// CreateWorker calls create_worker, idempotent at the engine layer.
func (c *Client) CreateWorker(ctx context.Context, workerId types.WorkerId, templateVersion int32, args []string, env map[string]string, accountId string) error {
	req := &api.CreateWorkerRequest{WorkerId: workerId, TemplateVersion: templateVersion, Args: args, Env: env, AccountId: accountId}
	resp := &api.CreateWorkerResponse{}
	return c.call(ctx, workerId.WorkerName, "/wexec.Engine/CreateWorker", req, resp, func() *api.ErrorPayload { return resp.Error })
}

// GetInvocationKey calls get_invocation_key.
func (c *Client) GetInvocationKey(ctx context.Context, workerId types.WorkerId) (types.InvocationKey, error) {
	req := &api.GetInvocationKeyRequest{WorkerId: workerId}
	resp := &api.GetInvocationKeyResponse{}
	err := c.call(ctx, workerId.WorkerName, "/wexec.Engine/GetInvocationKey", req, resp, func() *api.ErrorPayload { return resp.Error })
	return resp.InvocationKey, err
}

// InvokeWorker calls invoke_worker (fire-and-forget).
func (c *Client) InvokeWorker(ctx context.Context, workerId types.WorkerId, functionName string, args []types.Value, convention types.CallingConvention) error {
	req := &api.InvokeWorkerRequest{WorkerId: workerId, FunctionName: functionName, Args: args, Convention: convention}
	resp := &api.InvokeWorkerResponse{}
	return c.call(ctx, workerId.WorkerName, "/wexec.Engine/InvokeWorker", req, resp, func() *api.ErrorPayload { return resp.Error })
}

// InvokeAndAwaitWorker calls invoke_and_await_worker and blocks for a result.
func (c *Client) InvokeAndAwaitWorker(ctx context.Context, workerId types.WorkerId, invocationKey types.InvocationKey, functionName string, args []types.Value, convention types.CallingConvention) ([]types.Value, error) {
	req := &api.InvokeAndAwaitWorkerRequest{WorkerId: workerId, InvocationKey: invocationKey, FunctionName: functionName, Args: args, Convention: convention}
	resp := &api.InvokeAndAwaitWorkerResponse{}
	err := c.call(ctx, workerId.WorkerName, "/wexec.Engine/InvokeAndAwaitWorker", req, resp, func() *api.ErrorPayload { return resp.Error })
	return resp.Results, err
}

// DeleteWorker calls delete_worker.
func (c *Client) DeleteWorker(ctx context.Context, workerId types.WorkerId) error {
	req := &api.DeleteWorkerRequest{WorkerId: workerId}
	resp := &api.DeleteWorkerResponse{}
	return c.call(ctx, workerId.WorkerName, "/wexec.Engine/DeleteWorker", req, resp, func() *api.ErrorPayload { return resp.Error })
}

// CompletePromise calls complete_promise.
func (c *Client) CompletePromise(ctx context.Context, promiseId types.PromiseId, value []byte) (bool, error) {
	req := &api.CompletePromiseRequest{PromiseId: promiseId, Value: value}
	resp := &api.CompletePromiseResponse{}
	err := c.call(ctx, promiseId.WorkerId.WorkerName, "/wexec.Engine/CompletePromise", req, resp, func() *api.ErrorPayload { return resp.Error })
	return resp.Completed, err
}

// InterruptWorker calls interrupt_worker.
func (c *Client) InterruptWorker(ctx context.Context, workerId types.WorkerId, recoverImmediately bool) error {
	req := &api.InterruptWorkerRequest{WorkerId: workerId, RecoverImmediately: recoverImmediately}
	resp := &api.InterruptWorkerResponse{}
	return c.call(ctx, workerId.WorkerName, "/wexec.Engine/InterruptWorker", req, resp, func() *api.ErrorPayload { return resp.Error })
}

// ResumeWorker calls resume_worker.
func (c *Client) ResumeWorker(ctx context.Context, workerId types.WorkerId) error {
	req := &api.ResumeWorkerRequest{WorkerId: workerId}
	resp := &api.ResumeWorkerResponse{}
	return c.call(ctx, workerId.WorkerName, "/wexec.Engine/ResumeWorker", req, resp, func() *api.ErrorPayload { return resp.Error })
}

// GetWorkerMetadata calls get_worker_metadata.
func (c *Client) GetWorkerMetadata(ctx context.Context, workerId types.WorkerId) (types.WorkerMetadata, error) {
	req := &api.GetWorkerMetadataRequest{WorkerId: workerId}
	resp := &api.GetWorkerMetadataResponse{}
	err := c.call(ctx, workerId.WorkerName, "/wexec.Engine/GetWorkerMetadata", req, resp, func() *api.ErrorPayload { return resp.Error })
	return resp.Metadata, err
}

// ConnectWorker opens the connect_worker log stream. Unlike the other
// operations, this doesn't go through the retry combinator: a dropped
// stream is surfaced directly so the caller can decide whether to
// reconnect.
func (c *Client) ConnectWorker(ctx context.Context, workerId types.WorkerId) (<-chan types.LogEvent, error) {
	addr := c.ownerAddr(workerId.WorkerName)
	conn, err := c.connFor(addr)
	if err != nil {
		return nil, err
	}

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/wexec.Engine/ConnectWorker")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&api.ConnectWorkerRequest{WorkerId: workerId}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	events := make(chan types.LogEvent, 16)
	go func() {
		defer close(events)
		for {
			var msg api.LogEventMessage
			if err := stream.RecvMsg(&msg); err != nil {
				return
			}
			if msg.Error != nil {
				return
			}
			select {
			case events <- msg.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
