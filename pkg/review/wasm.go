package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openadex/salesagent/pkg/contracts"
)

// WASMScorer runs a tenant-supplied scorer plugin inside a wazero
// sandbox. Deny-by-default: no filesystem, no network, no env vars;
// memory is capped and CPU time is bounded by a context deadline. The
// module reads a Submission as JSON on stdin and writes a ReviewResult
// as JSON on stdout; anything else is a scorer error, never an
// approval.
type WASMScorer struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

// NewWASMScorer compiles the plugin once; each Score call gets a fresh
// instance so plugin state never crosses submissions.
func NewWASMScorer(ctx context.Context, wasmBytes []byte, memoryLimitBytes uint64) (*WASMScorer, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryLimitBytes > 0 {
		pages := uint32(memoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("review: compile scorer plugin: %w", err)
	}
	return &WASMScorer{runtime: r, compiled: compiled, timeout: 5 * time.Second}, nil
}

// WithTimeout bounds a single plugin run.
func (s *WASMScorer) WithTimeout(d time.Duration) *WASMScorer {
	s.timeout = d
	return s
}

func (s *WASMScorer) Score(ctx context.Context, sub Submission) (contracts.ReviewResult, error) {
	input, err := json.Marshal(sub)
	if err != nil {
		return contracts.ReviewResult{}, fmt.Errorf("review: marshal submission: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous, so concurrent workers can instantiate
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := s.runtime.InstantiateModule(runCtx, s.compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok && exitErr.ExitCode() == 0 {
			// Clean exit; fall through to the verdict on stdout.
		} else if runCtx.Err() != nil {
			return contracts.ReviewResult{}, fmt.Errorf("review: scorer plugin timed out after %v", s.timeout)
		} else {
			return contracts.ReviewResult{}, fmt.Errorf("review: scorer plugin failed: %w", err)
		}
	}

	var res contracts.ReviewResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return contracts.ReviewResult{}, fmt.Errorf("review: scorer plugin emitted invalid verdict: %w", err)
	}
	switch res.Decision {
	case contracts.ReviewApprove, contracts.ReviewReject, contracts.ReviewInconclusive:
	default:
		return contracts.ReviewResult{}, fmt.Errorf("review: scorer plugin emitted unknown decision %q", res.Decision)
	}
	return res, nil
}

// Close releases the runtime and the compiled module.
func (s *WASMScorer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.runtime.Close(ctx)
}
