// Package executor dispatches operational actions to their downstream
// ports. Each action id maps to one Executor that owns its parameter schema
// and its single downstream call.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
)

// Invocation is one validated request to run an action.
type Invocation struct {
	ActionID string
	Target   string
	Ticket   string
	Reason   string
	Caller   domain.Email
	Params   json.RawMessage
}

// Output is the executor's result, stored verbatim in the audit detail.
type Output map[string]any

// Executor runs a single action.
type Executor interface {
	// Validate checks params and target without side effects.
	Validate(inv Invocation) error
	Execute(ctx context.Context, inv Invocation) (Output, error)
}

// action binds a typed parameter struct to a downstream call. check applies
// defaults and rejects bad input; run performs the call.
type action[P any] struct {
	id    string
	check func(inv Invocation, p *P) error
	run   func(ctx context.Context, inv Invocation, p P) (Output, error)
}

func (a action[P]) Validate(inv Invocation) error {
	_, err := a.decode(inv)
	return err
}

func (a action[P]) Execute(ctx context.Context, inv Invocation) (Output, error) {
	p, err := a.decode(inv)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, inv, p)
}

func (a action[P]) decode(inv Invocation) (P, error) {
	var p P
	if raw := bytes.TrimSpace(inv.Params); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return p, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid params for %s: %v", a.id, err))
		}
	}
	if a.check != nil {
		if err := a.check(inv, &p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Registry maps action ids to executors. It is built once and read-only
// afterwards.
type Registry struct {
	executors map[string]Executor
}

func (r *Registry) Get(actionID string) (Executor, bool) {
	e, ok := r.executors[actionID]
	return e, ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) register(id string, e Executor) {
	if _, dup := r.executors[id]; dup {
		panic("executor: duplicate registration for " + id)
	}
	r.executors[id] = e
}

func invalid(msg string) error {
	return dErrors.New(dErrors.CodeValidation, msg)
}
