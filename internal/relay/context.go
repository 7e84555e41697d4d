package relay

import "context"

type contextKey int

const (
	clientCtxKey contextKey = iota
)

func (r *Relay) getClientFromCtx(ctx context.Context) *client {
	c, ok := ctx.Value(clientCtxKey).(*client)
	if !ok {
		return nil
	}

	return c
}
