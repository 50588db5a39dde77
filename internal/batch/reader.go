package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderScope/internal/metrics"
)

// Caller executes a raw eth_call.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Options tunes the reader.
type Options struct {
	ChunkSize      uint64
	MaxConcurrency int
}

// Reader issues chunked template calls and decodes their tuple[] output.
type Reader struct {
	caller         Caller
	chunkSize      uint64
	maxConcurrency int
	logger         *zap.Logger
}

// ChunkError describes one chunk whose call or decode failed.
type ChunkError struct {
	Range IndexRange
	Err   error
}

// Result is the merged output of one logical fetch.
type Result struct {
	Records []Record
	Calls   int
	Dropped int
	Failed  []ChunkError
	// Skipped is set when the template was a placeholder and no call was made.
	Skipped bool
}

// NewReader builds a Reader. Zero options fall back to DefaultChunkSize and
// unlimited concurrency.
func NewReader(caller Caller, opts Options, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}
	return &Reader{
		caller:         caller,
		chunkSize:      size,
		maxConcurrency: opts.MaxConcurrency,
		logger:         logger,
	}
}

// ChunkSize returns the configured chunk size.
func (r *Reader) ChunkSize() uint64 {
	return r.chunkSize
}

// ReadRange reads indices [total-1, 0] of target through tmpl, one call per
// chunk, all chunks concurrently. A chunk whose call or decode fails is
// logged and left out of the result; the remaining chunks are still merged.
// The returned error is non-nil only when ctx ends or input cannot be packed.
func (r *Reader) ReadRange(ctx context.Context, tmpl Template, target common.Address, total uint64, block *big.Int) (Result, error) {
	if err := tmpl.Validate(); err != nil {
		r.skip(tmpl, err)
		return Result{Skipped: true}, nil
	}
	if r.caller == nil {
		return Result{}, fmt.Errorf("chain caller is nil")
	}

	ranges, err := Chunks(total, r.chunkSize)
	if err != nil {
		return Result{}, err
	}
	if len(ranges) == 0 {
		return Result{}, nil
	}

	calldata := make([][]byte, len(ranges))
	for i, rg := range ranges {
		data, err := tmpl.Calldata(target, new(big.Int).SetUint64(rg.Start), new(big.Int).SetUint64(rg.End))
		if err != nil {
			return Result{}, err
		}
		calldata[i] = data
	}

	type chunkOutput struct {
		records []Record
		dropped int
		err     error
	}
	outputs := make([]chunkOutput, len(ranges))

	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i := range ranges {
		i := i
		g.Go(func() error {
			records, dropped, err := r.call(ctx, tmpl, calldata[i], block)
			outputs[i] = chunkOutput{records: records, dropped: dropped, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Calls: len(ranges)}
	for i, out := range outputs {
		if out.err != nil {
			result.Failed = append(result.Failed, ChunkError{Range: ranges[i], Err: out.err})
			r.logger.Warn("chunk read failed",
				zap.String("template", tmpl.Name),
				zap.String("target", target.Hex()),
				zap.Uint64("start", ranges[i].Start),
				zap.Uint64("end", ranges[i].End),
				zap.Error(out.err),
			)
			continue
		}
		result.Records = append(result.Records, out.records...)
		result.Dropped += out.dropped
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// ReadOnce issues a single unchunked template call with args.
func (r *Reader) ReadOnce(ctx context.Context, tmpl Template, block *big.Int, args ...interface{}) (Result, error) {
	if err := tmpl.Validate(); err != nil {
		r.skip(tmpl, err)
		return Result{Skipped: true}, nil
	}
	if r.caller == nil {
		return Result{}, fmt.Errorf("chain caller is nil")
	}

	data, err := tmpl.Calldata(args...)
	if err != nil {
		return Result{}, err
	}
	records, dropped, err := r.call(ctx, tmpl, data, block)
	if err != nil {
		return Result{Calls: 1}, err
	}
	return Result{Records: records, Calls: 1, Dropped: dropped}, nil
}

func (r *Reader) call(ctx context.Context, tmpl Template, data []byte, block *big.Int) ([]Record, int, error) {
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{Data: data}, block)
	if err != nil {
		metrics.ChunkCalls.WithLabelValues(tmpl.Name, "call_error").Inc()
		return nil, 0, fmt.Errorf("call %s: %w", tmpl.Name, err)
	}
	records, dropped, err := tmpl.Output.Decode(resp)
	if err != nil {
		metrics.ChunkCalls.WithLabelValues(tmpl.Name, "decode_error").Inc()
		return nil, 0, fmt.Errorf("decode %s: %w", tmpl.Name, err)
	}
	metrics.ChunkCalls.WithLabelValues(tmpl.Name, "ok").Inc()
	if dropped > 0 {
		metrics.DroppedRecords.WithLabelValues(tmpl.Name).Add(float64(dropped))
	}
	return records, dropped, nil
}

var skipLogged sync.Map

func (r *Reader) skip(tmpl Template, err error) {
	metrics.SkippedTemplates.WithLabelValues(tmpl.Name).Inc()
	// Placeholder templates are logged once per name; malformed ones every time.
	if errors.Is(err, ErrTemplateUnconfigured) {
		if _, loaded := skipLogged.LoadOrStore(tmpl.Name, struct{}{}); loaded {
			return
		}
	}
	r.logger.Warn("query template unavailable, returning empty result",
		zap.String("template", tmpl.Name),
		zap.Error(err),
	)
}
