package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the subscription data carried by the
// record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(subscriptionDataKey{}).(*SubscriptionData); ok {
		r.AddAttrs(slog.Group("sub",
			slog.String("id", sd.ID),
			slog.String("path", sd.Path),
		))
	}

	if ld, ok := ctx.Value(layerDataKey{}).(*LayerData); ok {
		r.AddAttrs(slog.Group("layer",
			slog.String("name", ld.Name),
			slog.String("state", ld.State),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// Wrap returns h decorated with Handler unless it already is one.
func Wrap(h slog.Handler) slog.Handler {
	if _, ok := h.(Handler); ok {
		return h
	}
	return Handler{Handler: h}
}

type subscriptionDataKey struct{}

type SubscriptionData struct {
	ID   string
	Path string
}

func WithSubscriptionData(ctx context.Context, data *SubscriptionData) context.Context {
	return context.WithValue(ctx, subscriptionDataKey{}, data)
}

// SubscriptionFrom returns the subscription data stored on ctx, if any.
func SubscriptionFrom(ctx context.Context) (*SubscriptionData, bool) {
	sd, ok := ctx.Value(subscriptionDataKey{}).(*SubscriptionData)
	return sd, ok
}

type layerDataKey struct{}

type LayerData struct {
	Name  string
	State string
}

func WithLayerData(ctx context.Context, data *LayerData) context.Context {
	return context.WithValue(ctx, layerDataKey{}, data)
}
