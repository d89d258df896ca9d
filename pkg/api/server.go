// Package api implements the node's gRPC-facing RPC Service: the
// translation layer between the wire envelope (spec.md §6) and
// pkg/engine's in-process operations, plus the shard-assignment RPCs that
// operate directly on the cluster's Raft-replicated membership state.
package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/cuemby/wexec/pkg/cluster"
	"github.com/cuemby/wexec/pkg/engine"
	"github.com/cuemby/wexec/pkg/security"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Server implements EngineServer, dispatching every worker-lifecycle RPC to
// eng and every shard-membership RPC directly to cluster/shards.
type Server struct {
	eng     *engine.Engine
	cluster *cluster.Manager
	shards  *shard.Service
	grpc    *grpc.Server
}

// NewServer creates a gRPC server secured with the node's mTLS certificate,
// following the teacher's NewServer wiring (GetCertDir/LoadCertFromFile/
// LoadCACertFromFile, RequestClientCert so a bootstrapping node can still
// connect before it holds a certificate).
func NewServer(nodeId string, eng *engine.Engine, clusterMgr *cluster.Manager, shards *shard.Service) (*Server, error) {
	certDir, err := security.GetCertDir("node", nodeId)
	if err != nil {
		return nil, fmt.Errorf("failed to get cert directory: %w", err)
	}
	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("node certificate not found at %s - ensure cluster is initialized", certDir)
	}

	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load node certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}

	creds := credentials.NewTLS(tlsConfig)
	grpcServer := grpc.NewServer(grpc.Creds(creds))

	s := &Server{eng: eng, cluster: clusterMgr, shards: shards, grpc: grpcServer}
	grpcServer.RegisterService(&ServiceDesc, s)
	return s, nil
}

// GRPCServer exposes the underlying *grpc.Server so cmd/wexecd can call
// Serve(net.Listener) on it and layer additional listeners (e.g. a
// read-only Unix socket with ReadOnlyInterceptor) over the same handlers.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpc
}

func (s *Server) ensureLeader() error {
	if !s.cluster.IsLeader() {
		leaderAddr := s.cluster.LeaderAddr()
		if leaderAddr == "" {
			return fmt.Errorf("no leader elected yet")
		}
		return fmt.Errorf("not the leader, current leader is at: %s", leaderAddr)
	}
	return nil
}

func (s *Server) CreateWorker(ctx context.Context, req *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	err := s.eng.CreateWorker(req.WorkerId, req.TemplateVersion, req.Args, req.Env, req.AccountId)
	return &CreateWorkerResponse{Error: toErrorPayload(err)}, nil
}

func (s *Server) GetInvocationKey(ctx context.Context, req *GetInvocationKeyRequest) (*GetInvocationKeyResponse, error) {
	key, err := s.eng.GetInvocationKey(req.WorkerId)
	return &GetInvocationKeyResponse{InvocationKey: key, Error: toErrorPayload(err)}, nil
}

func (s *Server) InvokeWorker(ctx context.Context, req *InvokeWorkerRequest) (*InvokeWorkerResponse, error) {
	err := s.eng.InvokeWorker(req.WorkerId, req.FunctionName, req.Args, req.Convention)
	return &InvokeWorkerResponse{Error: toErrorPayload(err)}, nil
}

func (s *Server) InvokeAndAwaitWorker(ctx context.Context, req *InvokeAndAwaitWorkerRequest) (*InvokeAndAwaitWorkerResponse, error) {
	results, err := s.eng.InvokeAndAwaitWorker(ctx, req.WorkerId, req.InvocationKey, req.FunctionName, req.Args, req.Convention)
	return &InvokeAndAwaitWorkerResponse{Results: results, Error: toErrorPayload(err)}, nil
}

// ConnectWorker streams log events until the client disconnects, the
// engine refuses the connection, or the subscription is dropped (worker
// deleted).
func (s *Server) ConnectWorker(req *ConnectWorkerRequest, stream grpc.ServerStream) error {
	sub, unsubscribe, err := s.eng.ConnectWorker(req.WorkerId)
	if err != nil {
		return stream.SendMsg(&LogEventMessage{Error: toErrorPayload(err)})
	}
	defer unsubscribe()

	cs := &connectWorkerStream{stream}
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return nil
			}
			if err := cs.Send(&LogEventMessage{Event: event}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *Server) DeleteWorker(ctx context.Context, req *DeleteWorkerRequest) (*DeleteWorkerResponse, error) {
	err := s.eng.DeleteWorker(req.WorkerId)
	return &DeleteWorkerResponse{Error: toErrorPayload(err)}, nil
}

func (s *Server) CompletePromise(ctx context.Context, req *CompletePromiseRequest) (*CompletePromiseResponse, error) {
	completed, err := s.eng.CompletePromise(req.PromiseId, req.Value)
	return &CompletePromiseResponse{Completed: completed, Error: toErrorPayload(err)}, nil
}

func (s *Server) InterruptWorker(ctx context.Context, req *InterruptWorkerRequest) (*InterruptWorkerResponse, error) {
	err := s.eng.InterruptWorker(req.WorkerId, req.RecoverImmediately)
	return &InterruptWorkerResponse{Error: toErrorPayload(err)}, nil
}

func (s *Server) ResumeWorker(ctx context.Context, req *ResumeWorkerRequest) (*ResumeWorkerResponse, error) {
	err := s.eng.ResumeWorker(req.WorkerId)
	return &ResumeWorkerResponse{Error: toErrorPayload(err)}, nil
}

func (s *Server) GetWorkerMetadata(ctx context.Context, req *GetWorkerMetadataRequest) (*GetWorkerMetadataResponse, error) {
	meta, err := s.eng.GetWorkerMetadata(req.WorkerId)
	return &GetWorkerMetadataResponse{Metadata: meta, Error: toErrorPayload(err)}, nil
}

// GetShardMap returns this node's view of shard ownership, resolved to
// dial addresses, consistent across the cluster once Raft has replicated
// the latest assignment. The Routing Client polls this to refresh its
// cached routing table.
func (s *Server) GetShardMap(ctx context.Context, req *GetShardMapRequest) (*GetShardMapResponse, error) {
	addrs := make(map[string]string)
	for _, node := range s.cluster.Nodes() {
		addrs[node.ID] = node.Address
	}

	owners := make(map[types.ShardId]string)
	for shardId, nodeId := range s.shards.AllAssignments() {
		if addr, ok := addrs[nodeId]; ok {
			owners[shardId] = addr
		}
	}

	return &GetShardMapResponse{
		TotalShards: s.shards.TotalShards(),
		Owners:      owners,
	}, nil
}

// AssignShards and RevokeShards are cluster-membership operations: they
// replicate through Raft via the same RegisterCommand/AssignCommand/
// RevokeCommand byte-encoders pkg/reconciler uses, not through pkg/engine.
// Only the leader can propose them.
func (s *Server) AssignShards(ctx context.Context, req *AssignShardsRequest) (*AssignShardsResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return &AssignShardsResponse{Error: err.Error()}, nil
	}
	for _, shardId := range req.ShardIds {
		cmd, err := shard.AssignCommand(req.NodeId, shardId)
		if err != nil {
			return &AssignShardsResponse{Error: err.Error()}, nil
		}
		if err := s.cluster.Apply(cmd); err != nil {
			return &AssignShardsResponse{Error: err.Error()}, nil
		}
	}
	return &AssignShardsResponse{}, nil
}

func (s *Server) RevokeShards(ctx context.Context, req *RevokeShardsRequest) (*RevokeShardsResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return &RevokeShardsResponse{Error: err.Error()}, nil
	}
	for _, shardId := range req.ShardIds {
		cmd, err := shard.RevokeCommand(req.NodeId, shardId)
		if err != nil {
			return &RevokeShardsResponse{Error: err.Error()}, nil
		}
		if err := s.cluster.Apply(cmd); err != nil {
			return &RevokeShardsResponse{Error: err.Error()}, nil
		}
	}
	return &RevokeShardsResponse{}, nil
}
