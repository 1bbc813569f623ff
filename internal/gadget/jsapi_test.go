package gadget

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/gadgetry/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterJS = `
rJS(window)
  .setState({count: 0})
  .declareAcquiredMethod("notify", "notify")
  .ready(function (g) {
    g.readyRan = true;
  })
  .declareMethod("greet", function (name) {
    return "hello " + name;
  })
  .declareMethod("describe", function () {
    var g = this;
    return g.getTitle().then(function (title) {
      return title + ":" + g.state.count + ":" + g.readyRan;
    });
  })
  .declareMethod("increment", function () {
    return this.changeState({count: this.state.count + 1});
  })
  .declareMethod("fail", function () {
    throw new TypeError("bad input");
  })
  .onStateChange(function (changed) {
    this.element.querySelector(".value").textContent = String(changed.count);
    return this.notify(changed.count);
  });
`

const indexJS = `
rJS(window)
  .allowPublicAcquisition("declined", function () {
    throw new rJS.AcquisitionError("not mine");
  })
  .allowPublicAcquisition("echo", function (args, scope) {
    return scope + ":" + args.join(",");
  })
  .allowPublicAcquisition("broken", function () {
    throw new Error("handler exploded");
  });
`

const hostJS = `
rJS(window).ready(function (g) {
  var el = document.createElement("section");
  g.element.appendChild(el);
  return g.declareGadget("counter.html", {element: el, scope: "inner"})
    .then(function (child) {
      return child.greet("host");
    })
    .then(function (text) {
      g.element.setAttribute("data-greeting", text);
    });
});
`

func scriptFiles() map[string]string {
	return map[string]string{
		"index.html": page(`<script src="index.js"></script>`,
			`<div data-gadget-url="counter.html" data-gadget-scope="c"></div>`+
				`<div data-gadget-url="host.html" data-gadget-scope="h"></div>`),
		"index.js":     indexJS,
		"counter.html": page(`<title>Counter</title><script src="counter.js"></script>`, `<span class="value"></span>`),
		"counter.js":   counterJS,
		"host.html":    page(`<title>Host</title><script src="host.js"></script>`, ""),
		"host.js":      hostJS,
	}
}

func TestScriptDeclaredClass(t *testing.T) {
	notified := make(chan any, 1)
	p, _ := openPage(t, scriptFiles(), map[string]func(*Klass){
		base + "index.html": func(k *Klass) {
			k.AllowPublicAcquisition("notify", func(_ context.Context, _ *Gadget, args []any, _ string) (any, error) {
				notified <- args[0]
				return "noted", nil
			})
		},
	})
	ctx := testContext(t)

	counter, err := p.Root().GetDeclaredGadget("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"greet", "describe", "increment", "fail"}, counter.Klass().MethodNames())

	got, err := counter.Call(ctx, "greet", "ann")
	require.NoError(t, err)
	assert.Equal(t, "hello ann", got)

	got, err = counter.Call(ctx, "describe")
	require.NoError(t, err)
	assert.Equal(t, "Counter:0:true", got)

	_, err = counter.Call(ctx, "increment")
	require.NoError(t, err)
	assert.EqualValues(t, 1, recv(t, notified))
	assert.EqualValues(t, 1, counter.State()["count"])

	doc := p.Document()
	values := doc.QueryAll(counter.Element(), ".value")
	require.Len(t, values, 1)
	assert.Equal(t, "1", doc.TextContent(values[0]))

	_, err = counter.Call(ctx, "fail")
	var jsErr *script.JSError
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, "TypeError", jsErr.Name)
	assert.Equal(t, "bad input", jsErr.Message)
}

func TestScriptDeclaresGadgets(t *testing.T) {
	p, _ := openPage(t, scriptFiles(), nil)

	host, err := p.Root().GetDeclaredGadget("h")
	require.NoError(t, err)
	inner, err := host.GetDeclaredGadget("inner")
	require.NoError(t, err)
	assert.Equal(t, "Counter", inner.Title())

	greeting, _ := p.Document().Attr(host.Element(), "data-greeting")
	assert.Equal(t, "hello host", greeting)
}

func TestScriptAcquisition(t *testing.T) {
	p, _ := openPage(t, scriptFiles(), nil)
	ctx := testContext(t)

	counter, err := p.Root().GetDeclaredGadget("c")
	require.NoError(t, err)

	got, err := counter.Acquire(ctx, "echo", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "c:a,b", got)

	_, err = counter.Acquire(ctx, "declined")
	assert.True(t, IsAcquisitionError(err))
	assert.EqualError(t, err, "No gadget provides declined")

	_, err = counter.Acquire(ctx, "broken")
	assert.False(t, IsAcquisitionError(err))
	assert.ErrorContains(t, err, "handler exploded")
}

func TestAcquisitionErrorConstructor(t *testing.T) {
	p, _ := openPage(t, map[string]string{"index.html": page("", "")}, nil)
	ctx := testContext(t)

	require.NoError(t, p.RunScript(ctx, "check.js", `
		var e = new rJS.AcquisitionError("x");
		if (!(e instanceof Error) || !(e instanceof rJS.AcquisitionError)) {
			throw new Error("wrong prototype chain");
		}
		if (e.name !== "AcquisitionError" || e.message !== "x") {
			throw new Error("wrong fields " + e.name + " " + e.message);
		}
		if (new rJS.AcquisitionError().message !== "Acquisition failed") {
			throw new Error("wrong default message");
		}
	`))

	err := p.RunScript(ctx, "bad.js", `new rJS.AcquisitionError(5)`)
	var jsErr *script.JSError
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, "TypeError", jsErr.Name)
}

func TestRJSSelector(t *testing.T) {
	p, _ := openPage(t, map[string]string{"index.html": page("", "")}, nil)
	ctx := testContext(t)

	assert.ErrorContains(t, p.RunScript(ctx, "selector.js", `rJS(document)`), "Unknown selector")
	assert.ErrorContains(t, p.RunScript(ctx, "outside.js", `rJS(window)`), "only available")
}

func TestScriptDependencies(t *testing.T) {
	p, stub := openPage(t, map[string]string{
		"index.html": page("", ""),
		"lib.js":     `var libLoads = (typeof libLoads === "number" ? libLoads : 0) + 1;`,
		"style.css":  "p { color: red }",
	}, nil)
	ctx := testContext(t)

	require.NoError(t, p.RunScript(ctx, "deps.js", `
		rJS.declareJS(rJS.getAbsoluteURL("lib.js", "`+base+`"))
			.then(function () { return rJS.declareJS("`+base+`lib.js"); })
			.then(function () { return rJS.declareCSS("`+base+`style.css"); });
	`))

	require.Eventually(t, func() bool {
		return len(p.Document().QueryAll(p.Document().Head(), `link[rel="stylesheet"]`)) == 1
	}, testTimeout, testTick)

	got, err := p.Engine().Eval(ctx, scriptValue("libLoads"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)
	assert.Equal(t, 1, stub.count("lib.js"))
}
