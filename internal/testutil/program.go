package testutil

import (
	"context"
	"math/rand/v2"
	"sync/atomic"

	"github.com/ipo-callgraph/internal/program"
)

// ShuffledProgram enumerates the methods of Program in a seeded random
// order, which changes the interleaving of parallel population.
type ShuffledProgram struct {
	program.Program
	Seed uint64
}

// Methods implements program.MethodEnumerator.
func (p *ShuffledProgram) Methods() []program.Method {
	methods := p.Program.Methods()
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed+1))
	rng.Shuffle(len(methods), func(i, j int) { methods[i], methods[j] = methods[j], methods[i] })
	return methods
}

// HookedProgram runs OnScan before every scan and counts dispatch lookups.
type HookedProgram struct {
	program.Program
	OnScan func(ctx context.Context, method program.Method) error

	DispatchLookups atomic.Int64
}

// Scan implements program.CodeScanner.
func (p *HookedProgram) Scan(ctx context.Context, method program.Method, registry program.UseRegistry) error {
	if p.OnScan != nil {
		if err := p.OnScan(ctx, method); err != nil {
			return err
		}
	}
	return p.Program.Scan(ctx, method, registry)
}

// LookupDispatchTargets implements program.MethodResolver.
func (p *HookedProgram) LookupDispatchTargets(kind program.InvokeKind, target program.MethodRef, context program.Method) (program.DispatchTargets, bool) {
	p.DispatchLookups.Add(1)
	return p.Program.LookupDispatchTargets(kind, target, context)
}
