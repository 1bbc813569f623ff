package gadget

import (
	"context"
	"maps"
	"reflect"
)

// ChangeState applies delta to the gadget state. When at least one field
// actually changed, the class state callback runs once with only those
// fields. Calls are serialized; fields of a failed callback are passed
// again to the next one.
func (g *Gadget) ChangeState(ctx context.Context, delta map[string]any) error {
	select {
	case g.stateSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.stateSem }()

	g.mu.Lock()
	modified := g.pendingMods != nil
	mods := g.pendingMods
	if mods == nil {
		mods = make(map[string]any)
	}
	for key, value := range delta {
		if current, ok := g.state[key]; ok && sameValue(current, value) {
			continue
		}
		if _, ok := g.state[key]; !ok && value == nil {
			continue
		}
		g.state[key] = value
		mods[key] = value
		modified = true
	}

	callback := g.klass.onStateChange()
	if !modified || callback == nil {
		g.mu.Unlock()
		return nil
	}
	g.pendingMods = mods
	g.mu.Unlock()

	if err := callback(ctx, g, maps.Clone(mods)); err != nil {
		return err
	}

	g.mu.Lock()
	g.pendingMods = nil
	g.mu.Unlock()
	return nil
}

// sameValue compares state values; numbers compare by value whatever
// their Go type
func sameValue(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
