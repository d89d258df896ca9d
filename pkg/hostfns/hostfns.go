// Package hostfns implements the Host Function Surface: every capability a
// worker's code can call into the engine through, each wrapped by the
// Durability Wrapper except cli::exit, which is explicitly unwrapped per
// spec.
package hostfns

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/wexec/pkg/durability"
	"github.com/cuemby/wexec/pkg/promise"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
)

// ExitSignal is returned by CliExit to tell the Worker Runtime to unwind its
// invocation loop immediately; it is never recorded to the oplog.
type ExitSignal struct {
	Code int
}

func (e *ExitSignal) Error() string {
	return fmt.Sprintf("worker called cli::exit(%d)", e.Code)
}

// Host is the capability surface bound to one worker's HostContext. Every
// method corresponds to a row of the Host Function Surface table.
type Host struct {
	Ctx       *durability.HostContext
	AccountId string

	KV        storage.KVStore
	Promises  *promise.Service
	HTTP      *resty.Client
	FSRoot    string // local-directory backing for the filesystem capability
}

// NewHost builds a Host Function Surface bound to one worker's durability
// context and account, sharing the KV store, promise service and HTTP
// client owned by the node.
func NewHost(ctx *durability.HostContext, accountId string, kv storage.KVStore, promises *promise.Service, fsRoot string) *Host {
	return &Host{
		Ctx:       ctx,
		AccountId: accountId,
		KV:        kv,
		Promises:  promises,
		HTTP:      resty.New().SetTimeout(30 * time.Second),
		FSRoot:    fsRoot,
	}
}

// ClockNow implements monotonic_clock::now: a ReadLocal, recomputed on every
// replay rather than stored, since a worker's observed wall time is not
// supposed to be frozen at the moment it was first recorded.
func (h *Host) ClockNow() (int64, error) {
	return durability.Wrap(h.Ctx, types.ReadLocal, "monotonic_clock::now", func(ctx context.Context) (int64, error) {
		return time.Now().UnixNano(), nil
	})
}

// ClockResolution implements monotonic_clock::resolution: also ReadLocal, a
// constant rather than a call into any external system.
func (h *Host) ClockResolution() (int64, error) {
	return durability.Wrap(h.Ctx, types.ReadLocal, "monotonic_clock::resolution", func(ctx context.Context) (int64, error) {
		return int64(time.Nanosecond), nil
	})
}

// RandomGet implements random::get_bytes: a WriteLocal, since the value must
// be identical on replay but comes from a local, non-external source.
func (h *Host) RandomGet(n int) ([]byte, error) {
	return durability.Wrap(h.Ctx, types.WriteLocal, "random::get_bytes", func(ctx context.Context) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating random bytes: %w", err)
		}
		return buf, nil
	})
}

// FSReadResult is the payload persisted by the filesystem capability's read
// path.
type FSReadResult struct {
	Contents []byte
	Existed  bool
}

// FSRead implements filesystem::read-file as a ReadRemote: the file lives
// outside the worker's own deterministic state (another process could
// change it), so its contents must be captured into the oplog at the time
// of the call rather than re-read on replay.
func (h *Host) FSRead(path string) (FSReadResult, error) {
	return durability.Wrap(h.Ctx, types.ReadRemote, "filesystem::read-file", func(ctx context.Context) (FSReadResult, error) {
		full := h.resolvePath(path)
		data, err := os.ReadFile(full)
		if os.IsNotExist(err) {
			return FSReadResult{Existed: false}, nil
		}
		if err != nil {
			return FSReadResult{}, fmt.Errorf("reading %s: %w", full, err)
		}
		return FSReadResult{Contents: data, Existed: true}, nil
	})
}

// FSWrite implements filesystem::write-file as a WriteRemote: the write must
// commit to the oplog before the host call returns, matching the spec's
// synchronous-commit-before-effect-is-done rule for WriteRemote.
func (h *Host) FSWrite(path string, contents []byte) (int, error) {
	return durability.Wrap(h.Ctx, types.WriteRemote, "filesystem::write-file", func(ctx context.Context) (int, error) {
		full := h.resolvePath(path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return 0, fmt.Errorf("creating parent directory for %s: %w", full, err)
		}
		if err := os.WriteFile(full, contents, 0o644); err != nil {
			return 0, fmt.Errorf("writing %s: %w", full, err)
		}
		return len(contents), nil
	})
}

func (h *Host) resolvePath(path string) string {
	return filepath.Join(h.FSRoot, filepath.Clean(string(filepath.Separator)+path))
}

// MountSpecForVolume shapes an OCI bind mount for a worker hosted as a
// containerd task whose filesystem capability is backed by a local-
// directory volume, generalizing the container runtime's volume-to-mount
// translation to a single worker's sandbox root.
func MountSpecForVolume(hostPath, destination string, readOnly bool) specs.Mount {
	options := []string{"rbind"}
	if readOnly {
		options = append(options, "ro")
	} else {
		options = append(options, "rw")
	}
	return specs.Mount{
		Source:      hostPath,
		Destination: destination,
		Type:        "bind",
		Options:     options,
	}
}

// HTTPResponse is the payload persisted by the http capability's request
// path.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// HTTPRequest implements the http request capability as a WriteRemote: an
// outbound call is an observable external effect that must be durably
// recorded before the worker proceeds, so a crash mid-request can't be
// replayed into sending it twice.
func (h *Host) HTTPRequest(method, url string, body []byte, headers map[string]string) (HTTPResponse, error) {
	return durability.Wrap(h.Ctx, types.WriteRemote, "http::request", func(ctx context.Context) (HTTPResponse, error) {
		req := h.HTTP.R().SetContext(ctx).SetBody(body)
		for k, v := range headers {
			req.SetHeader(k, v)
		}
		resp, err := req.Execute(method, url)
		if err != nil {
			return HTTPResponse{}, fmt.Errorf("http %s %s: %w", method, url, err)
		}
		respHeaders := make(map[string]string, len(resp.Header()))
		for k := range resp.Header() {
			respHeaders[k] = resp.Header().Get(k)
		}
		return HTTPResponse{StatusCode: resp.StatusCode(), Body: resp.Body(), Headers: respHeaders}, nil
	})
}

// kvWorkerId returns the WorkerId the keyvalue capability namespaces under;
// it is whichever worker owns this Host.
func (h *Host) kvWorkerId() types.WorkerId {
	return h.Ctx.WorkerId
}

// KVGetResult is the payload persisted by the keyvalue get path.
type KVGetResult struct {
	Value []byte
	Found bool
}

// KVGet implements keyvalue::eventual's get as a ReadRemote, namespaced
// per account and worker per the Golem original's eventual.rs behavior.
func (h *Host) KVGet(key string) (KVGetResult, error) {
	return durability.Wrap(h.Ctx, types.ReadRemote, "keyvalue::eventual::get", func(ctx context.Context) (KVGetResult, error) {
		value, found, err := h.KV.Get(h.AccountId, h.kvWorkerId(), key)
		if err != nil {
			return KVGetResult{}, fmt.Errorf("keyvalue get %s: %w", key, err)
		}
		return KVGetResult{Value: value, Found: found}, nil
	})
}

// KVSet implements keyvalue::eventual's set as a WriteRemote.
func (h *Host) KVSet(key string, value []byte) error {
	_, err := durability.Wrap(h.Ctx, types.WriteRemote, "keyvalue::eventual::set", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.KV.Set(h.AccountId, h.kvWorkerId(), key, value)
	})
	return err
}

// KVDelete implements keyvalue::eventual's delete as a WriteRemote.
func (h *Host) KVDelete(key string) error {
	_, err := durability.Wrap(h.Ctx, types.WriteRemote, "keyvalue::eventual::delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.KV.Delete(h.AccountId, h.kvWorkerId(), key)
	})
	return err
}

// KVExists implements keyvalue::eventual's exists as a ReadRemote.
func (h *Host) KVExists(key string) (bool, error) {
	return durability.Wrap(h.Ctx, types.ReadRemote, "keyvalue::eventual::exists", func(ctx context.Context) (bool, error) {
		return h.KV.Exists(h.AccountId, h.kvWorkerId(), key)
	})
}

// PromiseCreate implements golem::rpc's create_promise: a WriteLocal, since
// the PromiseId itself is derived from the worker's own oplog position
// rather than any external collaborator.
func (h *Host) PromiseCreate() (types.PromiseId, error) {
	return durability.Wrap(h.Ctx, types.WriteLocal, "golem::promise::create", func(ctx context.Context) (types.PromiseId, error) {
		// The entry recording this call is the next one appended.
		id := types.PromiseId{WorkerId: h.kvWorkerId(), OplogIndex: h.Ctx.CursorPosition() + 1}
		if err := h.Promises.Create(id); err != nil {
			return types.PromiseId{}, err
		}
		return id, nil
	})
}

// PromiseAwait implements await_promise as a ReadRemote, but only the
// Completed branch is ever persisted: the answer (pending or done, and the
// value if done) comes from outside the worker's own deterministic state,
// but a Pending answer is only true at this instant, and recording it
// would make a crashed-and-restarted worker replay "still pending"
// forever even after the promise completes. Pending falls through to a
// fresh live poll on every replay attempt instead.
func (h *Host) PromiseAwait(id types.PromiseId) (promise.AwaitOutcome, error) {
	return durability.WrapMaybe(h.Ctx, types.ReadRemote, "golem::promise::await", func(ctx context.Context) (promise.AwaitOutcome, bool, error) {
		outcome, err := h.Promises.AwaitPromise(id)
		return outcome, !outcome.Suspended, err
	})
}

// CliExit implements cli::exit exactly as the Golem original does: it is
// never wrapped by the Durability Wrapper and produces no oplog entry.
// Callers (pkg/workerruntime) must treat the returned *ExitSignal as an
// unconditional unwind of the invocation loop into WorkerStatusExited.
func (h *Host) CliExit(code int) error {
	return &ExitSignal{Code: code}
}
