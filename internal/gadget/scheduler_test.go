package gadget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var markedIndex = page("", `<div data-gadget-url="child.html" data-gadget-scope="c"></div>`)

func TestServiceFailureCrashesPage(t *testing.T) {
	reports := make(chan any, 1)

	p, _ := openPage(t, map[string]string{
		"index.html": markedIndex,
		"child.html": childPage,
	}, map[string]func(*Klass){
		base + "index.html": func(k *Klass) {
			k.AllowPublicAcquisition(CapabilityReportServiceError, func(_ context.Context, _ *Gadget, args []any, scope string) (any, error) {
				reports <- args[0]
				return nil, nil
			})
		},
		base + "child.html": func(k *Klass) {
			k.DeclareService(func(context.Context, *Gadget) error {
				return errors.New("service broke")
			})
		},
	})

	reported := recv(t, reports)
	assert.EqualError(t, reported.(error), "service broke")
	require.Eventually(t, p.Crashed, 5*time.Second, 10*time.Millisecond)

	out, err := p.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "service broke")
}

func TestJobQueuedUntilStarted(t *testing.T) {
	runs := make(chan any, 1)

	p, _ := openPage(t, map[string]string{
		"index.html": page("", ""),
		"child.html": childPage,
	}, map[string]func(*Klass){
		base + "child.html": func(k *Klass) {
			k.DeclareJob("work", func(_ context.Context, _ *Gadget, args ...any) error {
				runs <- args[0]
				return nil
			})
		},
	})

	child, err := p.Root().DeclareGadget(testContext(t), "child.html", DeclareOptions{})
	require.NoError(t, err)

	require.NoError(t, child.RunJob("work", 7))
	select {
	case <-runs:
		t.Fatal("job ran before the gadget was attached")
	case <-time.After(50 * time.Millisecond):
	}

	doc := p.Document()
	doc.AppendChild(doc.Body(), child.Element())
	assert.Equal(t, 7, recv(t, runs))
}

func TestJobCancelsPreviousRun(t *testing.T) {
	started := make(chan context.Context, 2)

	p, _ := openPage(t, map[string]string{
		"index.html": markedIndex,
		"child.html": childPage,
	}, map[string]func(*Klass){
		base + "child.html": func(k *Klass) {
			k.DeclareJob("poll", func(ctx context.Context, _ *Gadget, _ ...any) error {
				started <- ctx
				<-ctx.Done()
				return ctx.Err()
			})
		},
	})
	child, err := p.Root().GetDeclaredGadget("c")
	require.NoError(t, err)

	_, err = child.Call(testContext(t), "poll")
	require.NoError(t, err)
	first := recv(t, started)

	require.NoError(t, child.RunJob("poll"))
	second := recv(t, started)

	recv(t, first.Done())
	assert.NoError(t, second.Err())
	assert.NoError(t, child.Monitor().Err())
	assert.False(t, p.Crashed())
}

func TestDetachedGadgetStops(t *testing.T) {
	starts := make(chan context.Context, 2)

	p, _ := openPage(t, map[string]string{
		"index.html": markedIndex,
		"child.html": childPage,
	}, map[string]func(*Klass){
		base + "child.html": func(k *Klass) {
			k.DeclareService(func(ctx context.Context, _ *Gadget) error {
				starts <- ctx
				<-ctx.Done()
				return ctx.Err()
			})
		},
	})
	child, err := p.Root().GetDeclaredGadget("c")
	require.NoError(t, err)

	first := recv(t, starts)

	doc := p.Document()
	doc.Remove(child.Element())
	recv(t, first.Done())

	doc.AppendChild(doc.Body(), child.Element())
	second := recv(t, starts)
	assert.NoError(t, second.Err())
	assert.False(t, p.Crashed())
}

func TestEventHandlers(t *testing.T) {
	events := make(chan any, 8)
	cancelled := make(chan any, 8)

	p, _ := openPage(t, map[string]string{
		"index.html": markedIndex,
		"child.html": childPage,
	}, map[string]func(*Klass){
		base + "child.html": func(k *Klass) {
			k.OnEvent("refresh", func(ctx context.Context, _ *Gadget, ev dom.Event) error {
				events <- ev.Detail
				<-ctx.Done()
				cancelled <- ev.Detail
				return ctx.Err()
			})
		},
	})
	child, err := p.Root().GetDeclaredGadget("c")
	require.NoError(t, err)
	doc := p.Document()

	// listeners are live as soon as the gadget is declared
	doc.Dispatch(child.Element(), dom.Event{Type: "refresh", Detail: "first"})
	assert.Equal(t, "first", recv(t, events))

	doc.Dispatch(child.Element(), dom.Event{Type: "refresh", Detail: "second"})
	assert.Equal(t, "first", recv(t, cancelled))
	assert.Equal(t, "second", recv(t, events))
	assert.False(t, p.Crashed())
}
