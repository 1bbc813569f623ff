/*
Package tracing provides lightweight request tracing for the hosting surface.

Spans are correlated by trace and span IDs carried in request headers and
the request context. Finished spans are handed to a buffered collector that
logs them through zap; a full buffer drops spans instead of blocking the
request.

# Usage

	tracer := tracing.New("gadgetry", logger.Logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "page.open")
	span.SetTag("url", url)
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Trace Format

  - X-Trace-ID: identifier of the whole request flow
  - X-Span-ID: identifier of the current operation
*/
package tracing
