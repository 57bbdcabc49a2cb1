package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/streamrelay/ipxcore/pkg/obslog"
	"github.com/streamrelay/ipxcore/pkg/providerpool"
	"github.com/streamrelay/ipxcore/pkg/sharedstream"
)

// Dispatcher implements the decision pipeline in spec.md §4.3: permission
// gate, shared-stream lookup, provider resolution with grace-period
// overflow, upstream open with retry/backoff, throttling, shared fan-out,
// and session bookkeeping.
type Dispatcher struct {
	pool     *providerpool.ProviderPool
	shared   *sharedstream.Registry
	sessions SessionStore
	client   *http.Client
	cfg      Config
	log      *obslog.Logger
	resource *ResourceCache
	metrics  MetricsSink

	provisioner ProvisioningHook

	// shareLocks serializes concurrent dispatches against the same URL so
	// only one goroutine opens upstream on a share-miss, per spec.md §4.3
	// step 2 ("hold the lock for the rest of the dispatch").
	shareLocks sync.Map // requestedURL -> *sync.Mutex
}

// New builds a Dispatcher. sessions may be nil, in which case session
// bookkeeping is a no-op.
func New(pool *providerpool.ProviderPool, shared *sharedstream.Registry, sessions SessionStore, cfg Config, log *obslog.Logger) *Dispatcher {
	if log == nil {
		log = obslog.New("dispatcher")
	}
	if sessions == nil {
		sessions = noopSessionStore{}
	}
	transport := &http.Transport{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.UpstreamTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Dispatcher{
		pool:     pool,
		shared:   shared,
		sessions: sessions,
		client:   &http.Client{Transport: transport},
		cfg:      cfg,
		log:      log,
		resource: NewResourceCache(cfg.ResourceCache),
		metrics:  noopMetricsSink{},
	}
}

// SetMetricsSink wires sink to receive grace-admission and exhausted-stream
// events from this point on. Passing nil restores the no-op sink.
func (d *Dispatcher) SetMetricsSink(sink MetricsSink) {
	if sink == nil {
		sink = noopMetricsSink{}
	}
	d.metrics = sink
}

// SetProvisioningHook wires hook to be consulted whenever an input's
// providers are all exhausted, before falling back to the
// provider-connections-exhausted custom stream. Passing nil (the
// default) disables the step.
func (d *Dispatcher) SetProvisioningHook(hook ProvisioningHook) {
	d.provisioner = hook
}

func (d *Dispatcher) shareLockFor(url string) *sync.Mutex {
	v, _ := d.shareLocks.LoadOrStore(url, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Stream resolves req into a StreamDetails, running the full step 1-9
// decision pipeline.
func (d *Dispatcher) Stream(ctx context.Context, req StreamRequest) (*StreamDetails, error) {
	// Step 1: permission gate.
	if req.ConnectionPermission == PermissionExhausted {
		d.metrics.ExhaustedStream("user-connections-exhausted")
		return userConnectionsExhaustedStream(), nil
	}

	// Step 2: share-lookup gate, only for shareable item kinds.
	if req.Kind.shareable() {
		lock := d.shareLockFor(req.RequestedURL)
		lock.Lock()
		if sub, providerName, ok := d.shared.Subscribe(req.RequestedURL, req.ClientFingerprint, d.cfg.SharedBufferSize); ok {
			lock.Unlock()
			d.bookkeep(ctx, req, providerName, req.RequestedURL)
			return &StreamDetails{
				Body:         sub,
				Headers:      sharedHeaders(d.shared, req.RequestedURL),
				Status:       http.StatusOK,
				ProviderName: providerName,
				FinalURL:     req.RequestedURL,
			}, nil
		}
		defer lock.Unlock()
		return d.dispatchAndShare(ctx, req)
	}

	return d.dispatchDirect(ctx, req)
}

func sharedHeaders(r *sharedstream.Registry, url string) http.Header {
	h := make(http.Header)
	if fields, ok := r.GetSharedStateHeaders(url); ok {
		for k, v := range fields {
			h.Set(k, v)
		}
	}
	return h
}

// dispatchAndShare performs steps 3-9 for a share-miss: it must register
// the opened upstream with the registry before returning (step 8).
func (d *Dispatcher) dispatchAndShare(ctx context.Context, req StreamRequest) (*StreamDetails, error) {
	handle, provider, custom := d.resolveProvider(ctx, req)
	if custom != nil {
		return custom, nil
	}

	finalURL := rewriteURL(req.RequestedURL, provider)
	resp, err := d.openUpstreamWithRetry(ctx, req, finalURL)
	if err != nil || resp == nil {
		handle.Release()
		return channelUnavailableStream(), nil
	}

	sub, providerName, ok := d.shared.Register(req.RequestedURL, resp.Body, req.ClientFingerprint, flattenHeader(resp.Header), d.cfg.SharedBufferSize, handle)
	if !ok {
		// Lost the registration race: our own upstream/handle are unused.
		resp.Body.Close()
		handle.Release()
		if s, name, ok := d.shared.Subscribe(req.RequestedURL, req.ClientFingerprint, d.cfg.SharedBufferSize); ok {
			d.bookkeep(ctx, req, name, finalURL)
			return &StreamDetails{Body: s, Headers: resp.Header, Status: http.StatusOK, ProviderName: name, FinalURL: finalURL}, nil
		}
		return channelUnavailableStream(), nil
	}

	d.bookkeep(ctx, req, providerName, finalURL)
	return &StreamDetails{
		Body:         sub,
		Headers:      resp.Header,
		Status:       http.StatusOK,
		ProviderName: providerName,
		FinalURL:     finalURL,
	}, nil
}

// dispatchDirect performs steps 3-9 for a non-shareable request: no
// registry involvement, the caller owns the returned handle's release
// transitively through Body.Close (see releasingBody).
func (d *Dispatcher) dispatchDirect(ctx context.Context, req StreamRequest) (*StreamDetails, error) {
	handle, provider, custom := d.resolveProvider(ctx, req)
	if custom != nil {
		return custom, nil
	}

	finalURL := rewriteURL(req.RequestedURL, provider)
	resp, err := d.openUpstreamWithRetry(ctx, req, finalURL)
	if err != nil || resp == nil {
		handle.Release()
		return channelUnavailableStream(), nil
	}

	body := io.ReadCloser(&releasingBody{ReadCloser: resp.Body, handle: handle})
	if req.Kind != Live && d.cfg.ThrottleKbps > 0 {
		body = newThrottledBody(ctx, body, d.cfg.ThrottleKbps)
	}

	d.bookkeep(ctx, req, handle.ProviderName(), finalURL)
	return &StreamDetails{
		Body:         body,
		Headers:      resp.Header,
		Status:       resp.StatusCode,
		ProviderName: handle.ProviderName(),
		FinalURL:     finalURL,
	}, nil
}

// ForceProviderStream re-pins a continuation request (seek/range) to the
// exact provider the session started on, bypassing normal allocation.
func (d *Dispatcher) ForceProviderStream(ctx context.Context, providerName string, req StreamRequest) (*StreamDetails, error) {
	handle := d.pool.ForceAcquire(providerName, req.ClientFingerprint)
	if handle.State() == providerpool.Exhausted {
		return channelUnavailableStream(), nil
	}
	finalURL := rewriteURL(req.RequestedURL, handle.Provider())
	resp, err := d.openUpstreamWithRetry(ctx, req, finalURL)
	if err != nil || resp == nil {
		handle.Release()
		return channelUnavailableStream(), nil
	}
	body := io.ReadCloser(&releasingBody{ReadCloser: resp.Body, handle: handle})
	return &StreamDetails{
		Body:         body,
		Headers:      resp.Header,
		Status:       resp.StatusCode,
		ProviderName: providerName,
		FinalURL:     finalURL,
		Reconnect:    true,
	}, nil
}

// AuthFailureResponse resolves a rejected or expired credential check
// (spec.md §7 AuthFailure) into either a plain 403 or the account-expired
// custom stream, per cfg.AccountExpiredAsStream. The credentials store
// itself is out of this module's scope (spec.md §1); the HTTP layer calls
// this once it has determined the user's credentials don't hold up.
func (d *Dispatcher) AuthFailureResponse() *StreamDetails {
	if d.cfg.AccountExpiredAsStream {
		return accountExpiredStream()
	}
	return &StreamDetails{Status: http.StatusForbidden, Headers: make(http.Header)}
}

// Resource serves a non-streaming resource through the read-through disk
// cache (spec.md §4.3 "Resource cache").
func (d *Dispatcher) Resource(ctx context.Context, resourceURL string, headers http.Header) (*StreamDetails, error) {
	if body, contentType, ok := d.resource.Get(resourceURL); ok {
		h := make(http.Header)
		h.Set("Content-Type", contentType)
		return &StreamDetails{Body: body, Headers: h, Status: http.StatusOK, FinalURL: resourceURL}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vals := range headers {
		if d.cfg.isBlocked(k) {
			continue
		}
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	body := resp.Body
	if ShouldCache(resp.StatusCode, resp.Header) {
		body = d.resource.TeeStore(resourceURL, resp.Header.Get("Content-Type"), resp.Body)
	}

	return &StreamDetails{
		Body:     body,
		Headers:  resp.Header,
		Status:   resp.StatusCode,
		FinalURL: resourceURL,
	}, nil
}

// resolveProvider implements steps 3-4: acquisition plus grace-period
// enforcement. It returns a non-nil custom stream when no usable provider
// could be resolved, in which case handle and provider are meaningless.
func (d *Dispatcher) resolveProvider(ctx context.Context, req StreamRequest) (*providerpool.ConnectionHandle, *providerpool.ProviderConfig, *StreamDetails) {
	handle := d.pool.Acquire(req.InputName, req.ClientFingerprint)
	switch handle.State() {
	case providerpool.Exhausted:
		return d.provisionAndRetry(ctx, req)
	case providerpool.GracePeriod:
		d.metrics.GraceAdmission(handle.ProviderName())
		grace := time.Duration(d.pool.GracePeriodMillis()) * time.Millisecond
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			handle.Release()
			return nil, nil, providerConnectionsExhaustedStream()
		}
		if d.pool.IsOverLimit(handle.ProviderName()) {
			handle.Release()
			return d.provisionAndRetry(ctx, req)
		}
	}
	return handle, handle.Provider(), nil
}

// provisionAndRetry implements the fallback spec.md §4.3 steps 3 and 4
// both describe identically ("optionally invoke an external provisioning
// hook; on success, retry acquisition once without grace"): used both
// when the initial acquisition finds every provider exhausted, and when
// a grace-admitted provider is still over its hard limit after the wait.
func (d *Dispatcher) provisionAndRetry(ctx context.Context, req StreamRequest) (*providerpool.ConnectionHandle, *providerpool.ProviderConfig, *StreamDetails) {
	if d.provisioner != nil {
		if err := d.provisioner.Provision(ctx, req.InputName); err == nil {
			if retryHandle := d.pool.AcquireNoGrace(req.InputName, req.ClientFingerprint); retryHandle.State() != providerpool.Exhausted {
				return retryHandle, retryHandle.Provider(), nil
			}
		}
	}
	d.metrics.ExhaustedStream("provider-connections-exhausted")
	return nil, nil, providerConnectionsExhaustedStream()
}

// openUpstreamWithRetry issues the upstream request, retrying retryable
// failures with exponential backoff honoring Retry-After.
func (d *Dispatcher) openUpstreamWithRetry(ctx context.Context, req StreamRequest, finalURL string) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt < maxInt(d.cfg.Retry.MaxAttempts, 1); attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, method, finalURL, nil)
		if err != nil {
			return nil, err
		}
		for k, vals := range req.RequestHeaders {
			if d.cfg.isBlocked(k) {
				continue
			}
			for _, v := range vals {
				httpReq.Header.Add(k, v)
			}
		}

		// ResponseHeaderTimeout on the shared Transport (set in New) bounds
		// waiting for upstream to respond without also bounding the body
		// stream's lifetime, which legitimately runs for hours on a live
		// channel.
		resp, err := d.client.Do(httpReq)
		if err != nil {
			lastErr = err
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			d.sleepBeforeRetry(ctx, attempt, "")
			continue
		}
		if !retryableStatus(resp.StatusCode) {
			if resp.StatusCode == http.StatusNoContent {
				resp.Body.Close()
				return nil, nil
			}
			return resp, nil
		}
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()
		lastErr = errUpstreamTransient
		d.sleepBeforeRetry(ctx, attempt, retryAfter)
	}
	return nil, lastErr
}

var errUpstreamTransient = errors.New("upstream transient failure exhausted retries")

func (d *Dispatcher) sleepBeforeRetry(ctx context.Context, attempt int, retryAfter string) {
	delay := backoffDelay(d.cfg.Retry, attempt, retryAfter)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// bookkeep runs shared-stream-registration's sibling side effect (session
// refresh) independently, using errgroup so a session-store failure never
// blocks or fails the already-resolved stream.
func (d *Dispatcher) bookkeep(ctx context.Context, req StreamRequest, providerName, finalURL string) {
	if req.Kind != Live && req.Kind != Movie && req.Kind != Series && req.Kind != Catchup {
		return
	}
	sessionToken := req.SessionToken
	if sessionToken == "" {
		// Xtream-style clients that never present their own session token
		// still need one so repeated requests from the same player
		// coalesce onto one session record rather than minting a fresh one
		// per request. The token is derived from the user and client
		// fingerprint, so the same player always gets the same token.
		sessionToken = uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.User+"\x00"+req.ClientFingerprint)).String()
	}

	var g errgroup.Group
	g.Go(func() error {
		return d.sessions.Touch(Session{
			User:         req.User,
			SessionToken: sessionToken,
			VirtualID:    req.VirtualID,
			Provider:     providerName,
			SessionURL:   finalURL,
			ClientIP:     req.ClientIP,
		})
	})
	go func() {
		if err := g.Wait(); err != nil {
			d.log.Warn("session bookkeeping failed for %s: %v", req.User, err)
		}
	}()
}

// releasingBody ties a provider's ConnectionHandle release to the HTTP
// response body's lifetime, guaranteeing the handle is released on every
// exit path per spec.md §4.3 "Failure semantics".
type releasingBody struct {
	io.ReadCloser
	handle    *providerpool.ConnectionHandle
	closeOnce sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.closeOnce.Do(b.handle.Release)
	return err
}

// rewriteURL replaces the requested URL's scheme+host and user-info with
// provider's, per spec.md §4.3 step 5: base URL, username, then password,
// each limited to the first occurrence. A URL already on the provider's
// scheme and host is returned unchanged.
func rewriteURL(requestedURL string, provider *providerpool.ProviderConfig) string {
	if provider == nil {
		return requestedURL
	}
	base, err := url.Parse(provider.URL)
	if err != nil {
		return requestedURL
	}
	reqURL, err := url.Parse(requestedURL)
	if err != nil {
		return requestedURL
	}
	if reqURL.Scheme == base.Scheme && reqURL.Host == base.Host {
		return requestedURL
	}
	out := strings.Replace(requestedURL, reqURL.Scheme+"://"+reqURL.Host, base.Scheme+"://"+base.Host, 1)
	if provider.Username != "" {
		out = replaceFirstUserInfoSegment(out, provider.Username, 0)
	}
	if provider.Password != "" {
		out = replaceFirstUserInfoSegment(out, provider.Password, 1)
	}
	return out
}

// replaceFirstUserInfoSegment swaps the nth '/'-delimited path segment
// after the host (0=username, 1=password) for Xtream-style
// /<user>/<pass>/<stream> URLs. A leading live/movie/series/timeshift
// segment is skipped, so /live/<user>/<pass>/<stream> works too.
func replaceFirstUserInfoSegment(rawURL, newValue string, nth int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch parts[0] {
	case "live", "movie", "series", "timeshift":
		nth++
	}
	if len(parts) <= nth {
		return rawURL
	}
	parts[nth] = newValue
	u.Path = "/" + strings.Join(parts, "/")
	return u.String()
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
