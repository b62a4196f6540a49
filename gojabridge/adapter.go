// Copyright 2025 Joseph Cumines
//
// gojabridge: Goja adapter for the reactor event loop.
//
// This binds reactor.JS functionality (timers, microtasks, promises) to the
// Goja JavaScript runtime, following the same binding shape as a bare Goja
// setup (global setTimeout/setInterval/queueMicrotask/Promise) so that
// scripts observe standard event-loop semantics regardless of which Go
// reactor implementation is driving them underneath.

package gojabridge

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/nodelet/reactor"
)

// Adapter bridges a Goja runtime to a reactor.Loop's JS-facing timer,
// microtask and promise primitives.
type Adapter struct {
	js               *reactor.JS
	runtime          *goja.Runtime
	loop             *reactor.Loop
	promisePrototype *goja.Object
}

// New creates an adapter binding runtime's global scope to loop's JS
// primitives. The caller still owns loop's lifecycle (RunEventLoop, Run,
// Close); New only wires the bridge between the two.
func New(loop *reactor.Loop, runtime *goja.Runtime) (*Adapter, error) {
	if loop == nil {
		return nil, fmt.Errorf("gojabridge: loop cannot be nil")
	}
	if runtime == nil {
		return nil, fmt.Errorf("gojabridge: runtime cannot be nil")
	}

	js, err := reactor.NewJS(loop)
	if err != nil {
		return nil, fmt.Errorf("gojabridge: failed to create JS adapter: %w", err)
	}

	return &Adapter{
		js:      js,
		runtime: runtime,
		loop:    loop,
	}, nil
}

// Loop returns the bound reactor loop.
func (a *Adapter) Loop() *reactor.Loop {
	return a.loop
}

// Runtime returns the bound Goja runtime.
func (a *Adapter) Runtime() *goja.Runtime {
	return a.runtime
}

// JS returns the underlying JS adapter.
func (a *Adapter) JS() *reactor.JS {
	return a.js
}

// Bind installs setTimeout/setInterval/clearTimeout/clearInterval,
// queueMicrotask and Promise into the runtime's global scope.
func (a *Adapter) Bind() error {
	if err := a.runtime.Set("setTimeout", a.setTimeout); err != nil {
		return fmt.Errorf("gojabridge: failed to bind setTimeout: %w", err)
	}
	if err := a.runtime.Set("clearTimeout", a.clearTimeout); err != nil {
		return fmt.Errorf("gojabridge: failed to bind clearTimeout: %w", err)
	}
	if err := a.runtime.Set("setInterval", a.setInterval); err != nil {
		return fmt.Errorf("gojabridge: failed to bind setInterval: %w", err)
	}
	if err := a.runtime.Set("clearInterval", a.clearInterval); err != nil {
		return fmt.Errorf("gojabridge: failed to bind clearInterval: %w", err)
	}
	if err := a.runtime.Set("queueMicrotask", a.queueMicrotask); err != nil {
		return fmt.Errorf("gojabridge: failed to bind queueMicrotask: %w", err)
	}

	promiseConstructor := a.runtime.ToValue(a.promiseConstructor)
	if err := a.runtime.GlobalObject().Set("Promise", promiseConstructor); err != nil {
		return fmt.Errorf("gojabridge: failed to bind Promise: %w", err)
	}
	if err := a.bindPromise(); err != nil {
		return fmt.Errorf("gojabridge: failed to bind Promise statics: %w", err)
	}

	return nil
}

func (a *Adapter) setTimeout(call goja.FunctionCall) goja.Value {
	fnCallable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.runtime.NewTypeError("setTimeout requires a function as first argument"))
	}

	delayMs := int(call.Argument(1).ToInteger())
	if delayMs < 0 {
		panic(a.runtime.NewTypeError("delay cannot be negative"))
	}

	id, err := a.js.SetTimeout(func() {
		_, _ = fnCallable(goja.Undefined())
	}, delayMs)
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}

	return a.runtime.ToValue(id)
}

func (a *Adapter) clearTimeout(call goja.FunctionCall) goja.Value {
	id := uint64(call.Argument(0).ToInteger())
	_ = a.js.ClearTimeout(id)
	return goja.Undefined()
}

func (a *Adapter) setInterval(call goja.FunctionCall) goja.Value {
	fnCallable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.runtime.NewTypeError("setInterval requires a function as first argument"))
	}

	delayMs := int(call.Argument(1).ToInteger())
	if delayMs < 0 {
		panic(a.runtime.NewTypeError("delay cannot be negative"))
	}

	id, err := a.js.SetInterval(func() {
		_, _ = fnCallable(goja.Undefined())
	}, delayMs)
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}

	return a.runtime.ToValue(id)
}

func (a *Adapter) clearInterval(call goja.FunctionCall) goja.Value {
	id := uint64(call.Argument(0).ToInteger())
	_ = a.js.ClearInterval(id)
	return goja.Undefined()
}

func (a *Adapter) queueMicrotask(call goja.FunctionCall) goja.Value {
	fnCallable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.runtime.NewTypeError("queueMicrotask requires a function as first argument"))
	}

	if err := a.js.QueueMicrotask(func() {
		_, _ = fnCallable(goja.Undefined())
	}); err != nil {
		panic(a.runtime.NewGoError(err))
	}

	return goja.Undefined()
}

func (a *Adapter) promiseConstructor(call goja.ConstructorCall) *goja.Object {
	executorCallable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.runtime.NewTypeError("Promise executor must be a function"))
	}

	promise, resolve, reject := a.js.NewChainedPromise()

	_, err := executorCallable(goja.Undefined(),
		a.runtime.ToValue(func(result goja.Value) {
			resolve(result.Export())
		}),
		a.runtime.ToValue(func(reason goja.Value) {
			reject(reason.Export())
		}),
	)
	if err != nil {
		reject(err)
	}

	thisObj := call.This
	if a.promisePrototype != nil {
		thisObj.SetPrototype(a.promisePrototype)
	}
	a.setPromiseMethods(thisObj, promise)

	return thisObj
}

func (a *Adapter) gojaFuncToHandler(fn goja.Value) func(reactor.Result) reactor.Result {
	fnCallable, ok := goja.AssertFunction(fn)
	if fn.Export() == nil || !ok {
		return func(result reactor.Result) reactor.Result { return result }
	}

	return func(result reactor.Result) reactor.Result {
		ret, err := fnCallable(goja.Undefined(), a.runtime.ToValue(result))
		if err != nil {
			return err
		}
		return ret.Export()
	}
}

func (a *Adapter) gojaVoidFuncToHandler(fn goja.Value) func() {
	fnCallable, ok := goja.AssertFunction(fn)
	if fn.Export() == nil || !ok {
		return func() {}
	}

	return func() {
		_, _ = fnCallable(goja.Undefined())
	}
}

func (a *Adapter) setPromiseMethods(obj *goja.Object, promise *reactor.ChainedPromise) {
	obj.Set("_internalPromise", promise)

	thenFn := a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		p, ok := a.extractPromise(call.This, "then")
		if !ok {
			panic(a.runtime.NewTypeError("then() called on non-Promise object"))
		}
		chained := p.Then(a.gojaFuncToHandler(call.Argument(0)), a.gojaFuncToHandler(call.Argument(1)))
		return a.gojaWrapPromise(chained)
	})

	catchFn := a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		p, ok := a.extractPromise(call.This, "catch")
		if !ok {
			panic(a.runtime.NewTypeError("catch() called on non-Promise object"))
		}
		chained := p.Catch(a.gojaFuncToHandler(call.Argument(0)))
		return a.gojaWrapPromise(chained)
	})

	finallyFn := a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		p, ok := a.extractPromise(call.This, "finally")
		if !ok {
			panic(a.runtime.NewTypeError("finally() called on non-Promise object"))
		}
		chained := p.Finally(a.gojaVoidFuncToHandler(call.Argument(0)))
		return a.gojaWrapPromise(chained)
	})

	obj.Set("then", thenFn)
	obj.Set("catch", catchFn)
	obj.Set("finally", finallyFn)
}

func (a *Adapter) extractPromise(thisVal goja.Value, methodName string) (*reactor.ChainedPromise, bool) {
	thisObj, ok := thisVal.(*goja.Object)
	if !ok || thisObj == nil {
		return nil, false
	}
	p, ok := thisObj.Get("_internalPromise").Export().(*reactor.ChainedPromise)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

func (a *Adapter) gojaWrapPromise(promise *reactor.ChainedPromise) goja.Value {
	wrapper := a.runtime.NewObject()
	wrapper.Set("_internalPromise", promise)
	if a.promisePrototype != nil {
		wrapper.SetPrototype(a.promisePrototype)
	}
	a.setPromiseMethods(wrapper, promise)
	return wrapper
}

func (a *Adapter) toChainedPromiseSlice(call goja.FunctionCall, builtinName string) []*reactor.ChainedPromise {
	iterable := call.Argument(0)
	if goja.IsNull(iterable) || goja.IsUndefined(iterable) {
		return nil
	}

	arr, ok := iterable.Export().([]goja.Value)
	if !ok {
		obj := iterable.ToObject(a.runtime)
		if obj == nil {
			panic(a.runtime.NewTypeError(builtinName + " requires an iterable"))
		}
		lengthVal := obj.Get("length")
		if lengthVal == nil {
			panic(a.runtime.NewTypeError(builtinName + " requires an iterable"))
		}
		length := int(lengthVal.ToInteger())
		arr = make([]goja.Value, length)
		for i := 0; i < length; i++ {
			arr[i] = obj.Get(strconv.Itoa(i))
		}
	}

	promises := make([]*reactor.ChainedPromise, len(arr))
	for i, val := range arr {
		promises[i] = a.js.Resolve(val.Export())
	}
	return promises
}

func (a *Adapter) bindPromise() error {
	promisePrototype := a.runtime.NewObject()
	a.promisePrototype = promisePrototype

	promiseConstructorObj := a.runtime.Get("Promise").ToObject(a.runtime)
	promiseConstructorObj.Set("prototype", promisePrototype)

	promiseConstructorObj.Set("resolve", a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		return a.gojaWrapPromise(a.js.Resolve(call.Argument(0).Export()))
	}))

	promiseConstructorObj.Set("reject", a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		return a.gojaWrapPromise(a.js.Reject(call.Argument(0).Export()))
	}))

	promiseConstructorObj.Set("all", a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		promises := a.toChainedPromiseSlice(call, "Promise.all")
		return a.gojaWrapPromise(a.js.All(promises))
	}))

	promiseConstructorObj.Set("race", a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		promises := a.toChainedPromiseSlice(call, "Promise.race")
		return a.gojaWrapPromise(a.js.Race(promises))
	}))

	promiseConstructorObj.Set("allSettled", a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		promises := a.toChainedPromiseSlice(call, "Promise.allSettled")
		return a.gojaWrapPromise(a.js.AllSettled(promises))
	}))

	promiseConstructorObj.Set("any", a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		iterable := call.Argument(0)
		if goja.IsNull(iterable) || goja.IsUndefined(iterable) {
			panic(a.runtime.NewTypeError("Promise.any requires an iterable"))
		}
		promises := a.toChainedPromiseSlice(call, "Promise.any")
		if len(promises) == 0 {
			panic(a.runtime.NewTypeError("Promise.any requires at least one element"))
		}
		return a.gojaWrapPromise(a.js.Any(promises))
	}))

	return nil
}
