package middleware

import (
	"strings"

	"livecount/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware starts a server span per request. Once the route has run the
// span is renamed to the route template and tagged with the broadcast or VOD it
// touched, so spans group by endpoint rather than by raw path.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		ctx, span := observability.Tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.ip", c.IP()),
				attribute.String("http.user_agent", c.Get(fiber.HeaderUserAgent)),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		c.Locals("spanID", span.SpanContext().SpanID().String())
		c.Set("X-Trace-ID", traceID)
		if requestID, ok := c.Locals("requestid").(string); ok && requestID != "" {
			span.SetAttributes(attribute.String("request.id", requestID))
		}
		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if route := c.Route(); route != nil && route.Path != "" && route.Path != "/" {
			span.SetName(c.Method() + " " + route.Path)
			span.SetAttributes(attribute.String("http.route", route.Path))
			span.SetAttributes(resourceAttributes(route.Path, c.Params("id"))...)
		}
		if userID, ok := c.Locals("userID").(int64); ok && userID > 0 {
			span.SetAttributes(attribute.Int64("user.id", userID))
		}
		if role, ok := c.Locals("role").(string); ok && role != "" {
			span.SetAttributes(attribute.String("user.role", role))
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, fiber.ErrInternalServerError.Message)
		}
		return err
	}
}

// resourceAttributes names the broadcast or VOD a route addresses.
func resourceAttributes(routePath, id string) []attribute.KeyValue {
	if id == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(routePath, "/api/broadcasts/"):
		return []attribute.KeyValue{attribute.String("broadcast.id", id)}
	case strings.HasPrefix(routePath, "/api/vods/"):
		return []attribute.KeyValue{attribute.String("vod.id", id)}
	}
	return nil
}
