package ingot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buke/quickjs-go"
)

const (
	defaultMaxStackSize = 4 * 1024 * 1024
	inlineSource        = "inline"
)

var evalTimeout atomic.Value

var jsPool *runtimePool

func init() {
	evalTimeout.Store(2 * time.Second)
	jsPool = newRuntimePool(defaultRuntimePoolSize())
}

// SetEvalTimeout sets the timeout used by the package-level Evaluate; zero
// disables it.
func SetEvalTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	evalTimeout.Store(d)
}

// SetRuntimePoolSize caps concurrent package-level evaluations; minimum is 1.
func SetRuntimePoolSize(size int) {
	if size < 1 {
		size = 1
	}
	jsPool.setSize(size)
}

func currentEvalTimeout() time.Duration {
	value := evalTimeout.Load()
	if value == nil {
		return 0
	}
	timeout, ok := value.(time.Duration)
	if !ok {
		return 0
	}
	return timeout
}

type jsRuntime struct {
	rt  *quickjs.Runtime
	ctx *quickjs.Context
}

type runtimePool struct {
	mu   sync.Mutex
	sem  chan struct{}
	size int
}

func newRuntimePool(size int) *runtimePool {
	if size < 1 {
		size = 1
	}
	return &runtimePool{
		sem:  make(chan struct{}, size),
		size: size,
	}
}

func defaultRuntimePoolSize() int {
	size := goruntime.GOMAXPROCS(0) * 2
	if size < 1 {
		return 1
	}
	return size
}

func (p *runtimePool) setSize(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size < 1 {
		size = 1
	}
	if size == p.size {
		return
	}

	p.sem = make(chan struct{}, size)
	p.size = size
}

func (p *runtimePool) semaphore() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sem
}

// acquire blocks for a slot and returns a fresh runtime together with the
// slot it holds.
func (p *runtimePool) acquire(ctx context.Context) (*jsRuntime, chan struct{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sem := p.semaphore()
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	vm, err := newRuntimeWithContext(defaultMaxStackSize)
	if err != nil {
		<-sem
		return nil, nil, err
	}
	return vm, sem, nil
}

func (p *runtimePool) release(vm *jsRuntime, sem chan struct{}) {
	closeRuntime(vm)
	select {
	case <-sem:
	default:
	}
}

func newRuntimeWithContext(maxStackSize uint64) (*jsRuntime, error) {
	rt := quickjs.NewRuntime()
	rt.SetMaxStackSize(maxStackSize)

	ctx := rt.NewContext()
	for _, setup := range []struct{ name, source string }{
		{"polyfills", polyfillsSource},
		{"prelude", preludeSource},
	} {
		if err := evalSetup(ctx, setup.name, setup.source); err != nil {
			ctx.Close()
			rt.Close()
			return nil, err
		}
	}

	return &jsRuntime{
		rt:  rt,
		ctx: ctx,
	}, nil
}

func closeRuntime(vm *jsRuntime) {
	if vm == nil || vm.rt == nil {
		return
	}

	if vm.ctx != nil {
		vm.ctx.Close()
	}
	vm.rt.Close()
}

const polyfillsSource = `
		var globalThis = this;
		var window = this;
		var self = this;
		var process = { env: { NODE_ENV: 'production' } };
		var console = console || { log: function(){}, warn: function(){}, error: function(){}, info: function(){}, debug: function(){} };
		var performance = performance || { now: function() { return Date.now(); } };

		function TextEncoder() {}
		TextEncoder.prototype.encode = function(str) {
			var arr = [];
			for (var i = 0; i < str.length; i++) {
				var c = str.charCodeAt(i);
				if (c < 128) arr.push(c);
				else if (c < 2048) { arr.push(192 | (c >> 6)); arr.push(128 | (c & 63)); }
				else { arr.push(224 | (c >> 12)); arr.push(128 | ((c >> 6) & 63)); arr.push(128 | (c & 63)); }
			}
			return new Uint8Array(arr);
		};

		function TextDecoder() {}
		TextDecoder.prototype.decode = function(arr) {
			var str = '';
			for (var i = 0; i < arr.length; i++) str += String.fromCharCode(arr[i]);
			return str;
		};
	`

// preludeSource installs the host capture slot and the result encoder as
// non-writable globals.
const preludeSource = `
(function (g) {
	var stringify = JSON.stringify;
	var keys = Object.keys;
	var isArray = Array.isArray;
	var finite = isFinite;
	var toString = String;
	var indirectEval = eval;
	var PromiseCtor = typeof Promise !== 'undefined' ? Promise : undefined;
	var defineProperty = Object.defineProperty;

	var html;
	var captured = false;
	var last;

	function define(name, fn) {
		defineProperty(g, name, { value: fn, writable: false, enumerable: false, configurable: false });
	}

	function Unsupported(reason) {
		this.reason = reason;
	}

	function onStack(stack, depth, value) {
		for (var i = 0; i < depth; i++) {
			if (stack[i] === value) {
				return true;
			}
		}
		return false;
	}

	function check(value, at, stack, depth) {
		var kind = typeof value;
		if (kind === 'function' || kind === 'symbol' || kind === 'bigint') {
			throw new Unsupported(kind + ' at ' + at);
		}
		if (kind === 'number' && !finite(value)) {
			throw new Unsupported(toString(value) + ' at ' + at);
		}
		if (value === null || kind !== 'object') {
			return;
		}
		if (PromiseCtor !== undefined && value instanceof PromiseCtor) {
			throw new Unsupported('promise at ' + at);
		}
		if (onStack(stack, depth, value)) {
			throw new Unsupported('cyclic value at ' + at);
		}
		stack[depth] = value;
		if (isArray(value)) {
			for (var i = 0; i < value.length; i++) {
				check(value[i], at + '[' + i + ']', stack, depth + 1);
			}
		} else {
			var names = keys(value);
			for (var k = 0; k < names.length; k++) {
				check(value[names[k]], at + '.' + names[k], stack, depth + 1);
			}
		}
	}

	function nullUndefined(key, value) {
		return value === undefined ? null : value;
	}

	define('__ingot_set_html', function (value) {
		html = toString(value);
		captured = true;
	});

	define('__ingot_take_html', function () {
		return captured ? html : undefined;
	});

	define('__ingot_run', function (code) {
		html = undefined;
		captured = false;
		last = undefined;
		last = indirectEval(code);
		return true;
	});

	// Errors thrown by user getters or toJSON propagate as exceptions.
	define('__ingot_encode', function () {
		try {
			if (last === undefined) {
				throw new Unsupported('undefined');
			}
			check(last, '$', [], 0);
			return stringify({ ok: true, value: last }, nullUndefined);
		} catch (err) {
			if (err instanceof Unsupported) {
				return stringify({ ok: false, reason: err.reason });
			}
			throw err;
		} finally {
			last = undefined;
		}
	});
})(globalThis);
`

func evalSetup(ctx *quickjs.Context, name string, source string) error {
	if ctx == nil {
		return fmt.Errorf("context required")
	}

	result := ctx.Eval(source)
	if result.IsException() {
		result.Free()
		return runtimeError(ctx.Exception(), "load %s", name)
	}
	result.Free()
	return nil
}

func makeInterruptHandler(ctx context.Context) quickjs.InterruptHandler {
	if ctx == nil {
		return nil
	}
	return func() int {
		select {
		case <-ctx.Done():
			return 1
		default:
			return 0
		}
	}
}

type evalEnvelope struct {
	OK     bool            `json:"ok"`
	Value  json.RawMessage `json:"value"`
	Reason string          `json:"reason"`
}

// evaluateJSON runs code on vm and returns the JSON form of its result. A
// captured SSR string replaces the script's own value.
func evaluateJSON(ctx context.Context, vm *jsRuntime, code string) (json.RawMessage, error) {
	quoted, err := json.Marshal(code)
	if err != nil {
		return nil, executionError(err, "encode source")
	}

	if handler := makeInterruptHandler(ctx); handler != nil {
		vm.rt.SetInterruptHandler(handler)
		defer vm.rt.ClearInterruptHandler()
	}

	result := vm.ctx.Eval("__ingot_run(" + string(quoted) + ")")
	if result.IsException() {
		result.Free()
		jsErr := vm.ctx.Exception()
		if ctx != nil && ctx.Err() != nil {
			return nil, executionError(ctx.Err(), "evaluation interrupted")
		}
		return nil, executionError(jsErr, "evaluation failed")
	}
	result.Free()

	captured := vm.ctx.Eval("__ingot_take_html()")
	if captured.IsException() {
		captured.Free()
		return nil, executionError(vm.ctx.Exception(), "read ssr output")
	}
	if captured.IsString() {
		html := captured.String()
		captured.Free()
		return encodeString(html)
	}
	captured.Free()

	encoded := vm.ctx.Eval("__ingot_encode()")
	if encoded.IsException() {
		encoded.Free()
		return nil, executionError(vm.ctx.Exception(), "encode result")
	}
	defer encoded.Free()
	if !encoded.IsString() {
		return nil, deserializeErrorf("Cannot deserialize value: unexpected encoder result %s", encoded.String())
	}

	var envelope evalEnvelope
	if err := json.Unmarshal([]byte(encoded.String()), &envelope); err != nil {
		return nil, deserializeErrorf("Cannot deserialize value: %v", err)
	}
	if !envelope.OK {
		return nil, deserializeErrorf("Cannot deserialize value: unsupported JavaScript value (%s)", envelope.Reason)
	}
	return envelope.Value, nil
}

// encodeString quotes s as JSON without escaping HTML, matching
// JSON.stringify.
func encodeString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, deserializeErrorf("Cannot deserialize value: %v", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeValue converts JSON into Go values: objects become map[string]any,
// arrays []any, integral numbers int64 and other numbers float64.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, deserializeErrorf("Cannot deserialize value: %v", err)
	}
	return normalizeNumbers(value), nil
}

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = normalizeNumbers(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalizeNumbers(v[k])
		}
		return v
	default:
		return v
	}
}

// Runtime is a long-lived JavaScript instance. Globals assigned by one call
// stay visible to later calls on the same Runtime; SSR output does not.
// A Runtime serializes its calls and must be closed.
type Runtime struct {
	mu      sync.Mutex
	vm      *jsRuntime
	timeout time.Duration
}

type runtimeConfig struct {
	timeout      time.Duration
	maxStackSize uint64
}

type RuntimeOption func(*runtimeConfig)

// WithTimeout bounds every call on the runtime; zero disables the bound.
func WithTimeout(d time.Duration) RuntimeOption {
	return func(c *runtimeConfig) {
		if d < 0 {
			d = 0
		}
		c.timeout = d
	}
}

func WithMaxStackSize(bytes uint64) RuntimeOption {
	return func(c *runtimeConfig) {
		if bytes > 0 {
			c.maxStackSize = bytes
		}
	}
}

func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	cfg := runtimeConfig{maxStackSize: defaultMaxStackSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	vm, err := newRuntimeWithContext(cfg.maxStackSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{vm: vm, timeout: cfg.timeout}, nil
}

// Evaluate runs code as a classic script and returns its completion value.
func (r *Runtime) Evaluate(ctx context.Context, code string) (any, error) {
	raw, err := r.EvaluateJSON(ctx, code)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

// EvaluateJSON is Evaluate without decoding; object key order is preserved.
func (r *Runtime) EvaluateJSON(ctx context.Context, code string) (json.RawMessage, error) {
	return r.evaluateSource(ctx, inlineSource, code)
}

func (r *Runtime) evaluateSource(ctx context.Context, source string, code string) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, runtimeError(nil, "runtime is closed")
	}

	// The bound starts once the lock is held.
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	return evalWithMetrics(source, len(code), func() (json.RawMessage, error) {
		return evaluateJSON(ctx, r.vm, code)
	})
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	closeRuntime(r.vm)
	r.vm = nil
	return nil
}

// Evaluate runs code on a fresh pooled runtime; nothing survives the call.
func Evaluate(ctx context.Context, code string) (any, error) {
	raw, err := EvaluateJSON(ctx, code)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

// EvaluateJSON is the stateless counterpart of (*Runtime).EvaluateJSON.
func EvaluateJSON(ctx context.Context, code string) (json.RawMessage, error) {
	return evaluateStateless(ctx, inlineSource, code)
}

func evaluateStateless(ctx context.Context, source string, code string) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if timeout := currentEvalTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vm, slot, err := jsPool.acquire(ctx)
	if err != nil {
		return nil, runtimeError(err, "acquire runtime")
	}
	defer jsPool.release(vm, slot)

	return evalWithMetrics(source, len(code), func() (json.RawMessage, error) {
		return evaluateJSON(ctx, vm, code)
	})
}
