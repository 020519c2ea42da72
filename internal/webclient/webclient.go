package webclient

import "context"

// WebClient performs plain HTTP requests. Rendered pages go through the
// browser package instead.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Get(ctx context.Context, url string) (*Response, error)
	Close() error
}
