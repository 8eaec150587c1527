package pipeline

import "context"

// PreMiddleware runs before routing. It may mutate req in place, or return a
// non-nil Response to short-circuit the pipeline entirely (stage 5 of
// spec §4.I). Returning a non-nil error aborts the request.
type PreMiddleware func(ctx context.Context, req *Request) (shortCircuit *Response, err error)

// PostMiddleware runs after a provider call produces a response, and may
// transform resp or record side effects. It does not run for cache hits,
// pre-middleware short-circuits, or failed requests.
type PostMiddleware func(ctx context.Context, req *Request, resp *Response) (*Response, error)

// Use registers ordered pre/post middleware. Pre-hooks run in registration
// order; post-hooks also run in registration order (teacher's
// applyMiddleware wraps outermost-first, but the pipeline's hooks are a
// flat ordered chain rather than nested handlers, since later hooks must
// see earlier hooks' mutations either way).
func (p *Pipeline) Use(pre PreMiddleware, post PostMiddleware) {
	if pre != nil {
		p.pre = append(p.pre, pre)
	}
	if post != nil {
		p.post = append(p.post, post)
	}
}

func (p *Pipeline) runPre(ctx context.Context, req *Request) (*Response, error) {
	for _, mw := range p.pre {
		resp, err := mw(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

func (p *Pipeline) runPost(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	for _, mw := range p.post {
		out, err := mw(ctx, req, resp)
		if err != nil {
			return nil, err
		}
		if out != nil {
			resp = out
		}
	}
	return resp, nil
}
