package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

const idlePoll = 100 * time.Millisecond

type pendingResponse struct {
	response     *network.Response
	resourceType network.ResourceType
}

type tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopForward func()
	cfg         Config
	logger      *zap.Logger

	mu         sync.Mutex
	onRequest  func(string)
	onResponse func(crawler.Response)
	responses  map[network.RequestID]pendingResponse

	lastActivity atomic.Int64
	bodies       sync.WaitGroup
	events       *eventQueue
	closeOnce    sync.Once
}

func newTab(ctx context.Context, cancel context.CancelFunc, stopForward func(), cfg Config, logger *zap.Logger) *tab {
	t := &tab{
		ctx:         ctx,
		cancel:      cancel,
		stopForward: stopForward,
		cfg:         cfg,
		logger:      logger,
		responses:   make(map[network.RequestID]pendingResponse),
		events:      newEventQueue(),
	}
	t.touch()
	go t.events.run()
	return t
}

func (t *tab) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetBypassServiceWorker(true).Do(ctx); err != nil {
			t.logger.Debug("Failed to bypass service worker", zap.Error(err))
		}
		if t.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			t.logger.Debug("Failed to enable request interception", zap.Error(err))
		}
		return nil
	})
}

func (t *tab) OnRequest(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRequest = fn
}

func (t *tab) OnResponse(fn func(crawler.Response)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onResponse = fn
}

func (t *tab) touch() { t.lastActivity.Store(time.Now().UnixNano()) }

func (t *tab) emitRequest(u string) {
	if u == "" {
		return
	}
	t.mu.Lock()
	fn := t.onRequest
	t.mu.Unlock()
	if fn != nil {
		t.events.push(func() { fn(u) })
	}
}

func (t *tab) emitResponse(resp crawler.Response) {
	t.mu.Lock()
	fn := t.onResponse
	t.mu.Unlock()
	if fn != nil {
		t.events.push(func() { fn(resp) })
	}
}

// onEvent runs on the chromedp event loop and must not block.
func (t *tab) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		t.touch()
		if e.Request != nil {
			t.emitRequest(e.Request.URL)
		}
		go t.continueRequest(e.RequestID)
	case *network.EventRequestWillBeSent:
		t.touch()
		if e.Request != nil {
			t.emitRequest(e.Request.URL)
		}
		if r := e.RedirectResponse; r != nil {
			t.emitResponse(crawler.Response{
				URL:          r.URL,
				Status:       int(r.Status),
				Location:     headerValue(r.Headers, "location"),
				ResourceType: e.Type.String(),
			})
		}
	case *network.EventResponseReceived:
		t.touch()
		if e.Response == nil {
			return
		}
		t.emitRequest(e.Response.URL)
		t.mu.Lock()
		t.responses[e.RequestID] = pendingResponse{response: e.Response, resourceType: e.Type}
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.touch()
		t.mu.Lock()
		pending, ok := t.responses[e.RequestID]
		delete(t.responses, e.RequestID)
		t.mu.Unlock()
		if !ok {
			return
		}
		t.bodies.Add(1)
		go t.captureBody(e.RequestID, pending)
	case *network.EventLoadingFailed:
		t.touch()
		t.mu.Lock()
		delete(t.responses, e.RequestID)
		t.mu.Unlock()
	}
}

func (t *tab) continueRequest(id fetch.RequestID) {
	c := chromedp.FromContext(t.ctx)
	if c == nil || c.Target == nil {
		return
	}
	if err := fetch.ContinueRequest(id).Do(cdp.WithExecutor(t.ctx, c.Target)); err != nil {
		t.logger.Debug("Failed to continue request", zap.Error(err))
	}
}

func (t *tab) captureBody(id network.RequestID, pending pendingResponse) {
	defer t.bodies.Done()
	var body []byte
	err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		t.logger.Debug("Failed to get response body", zap.String("url", pending.response.URL), zap.Error(err))
		body = nil
	} else if body == nil {
		body = []byte{}
	}
	t.emitResponse(crawler.Response{
		URL:          pending.response.URL,
		Status:       int(pending.response.Status),
		Location:     headerValue(pending.response.Headers, "location"),
		ResourceType: pending.resourceType.String(),
		Body:         body,
	})
}

// bind returns a context carrying the tab's chromedp session that is also
// cancelled when ctx is done.
func (t *tab) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(t.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (t *tab) Navigate(ctx context.Context, rawURL string) error {
	runCtx, cancel := t.bind(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return t.waitNetworkIdle(runCtx)
}

// waitNetworkIdle blocks until no network event has been seen for the
// configured idle period.
func (t *tab) waitNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		last := time.Unix(0, t.lastActivity.Load())
		if time.Since(last) >= t.cfg.NetworkIdle {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *tab) BringToFront(ctx context.Context) error {
	runCtx, cancel := t.bind(ctx)
	defer cancel()
	return chromedp.Run(runCtx, page.BringToFront())
}

func (t *tab) FocusBody(ctx context.Context) error {
	runCtx, cancel := t.bind(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(`window.focus(); if (document.body) { document.body.focus(); }`, nil))
}

type hoverTarget struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

const hoverScript = `(function (href) {
	for (const a of document.querySelectorAll('a')) {
		if (String(a.href).replace(/#.*/, '') !== href) continue;
		a.scrollIntoView({block: 'center', inline: 'center'});
		a.focus();
		const r = a.getBoundingClientRect();
		return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};
	}
	return {found: false, x: 0, y: 0};
})(%s)`

func (t *tab) Hover(ctx context.Context, href string) error {
	runCtx, cancel := t.bind(ctx)
	defer cancel()

	arg, err := json.Marshal(href)
	if err != nil {
		return fmt.Errorf("encode href: %w", err)
	}
	var target hoverTarget
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(hoverScript, arg), &target)); err != nil {
		return fmt.Errorf("locate anchor: %w", err)
	}
	if !target.Found {
		return nil
	}
	return chromedp.Run(runCtx, input.DispatchMouseEvent(input.MouseMoved, target.X, target.Y))
}

const linksScript = `(function () {
	const attr = (el, name) => {
		const v = el[name];
		if (typeof v === 'string') return v;
		if (v && typeof v.baseVal === 'string') return new URL(v.baseVal, document.baseURI).href;
		return '';
	};
	const anchors = Array.from(document.querySelectorAll('a'), a => attr(a, 'href'));
	const resources = [].concat(
		Array.from(document.querySelectorAll('[href]'), el => attr(el, 'href')),
		Array.from(document.querySelectorAll('[src]'), el => attr(el, 'src')),
		performance.getEntries().map(e => e.name),
	);
	return {anchors: anchors.filter(Boolean), resources: resources.filter(Boolean)};
})()`

type domLinks struct {
	Anchors   []string `json:"anchors"`
	Resources []string `json:"resources"`
}

func (t *tab) Links(ctx context.Context) (crawler.PageLinks, error) {
	runCtx, cancel := t.bind(ctx)
	defer cancel()

	var links domLinks
	var tree *page.FrameTree
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(linksScript, &links),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			tree, err = page.GetFrameTree().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return crawler.PageLinks{}, fmt.Errorf("extract links: %w", err)
	}
	return crawler.PageLinks{
		Anchors:   links.Anchors,
		Resources: links.Resources,
		Frames:    frameURLs(tree, nil),
	}, nil
}

func frameURLs(tree *page.FrameTree, out []string) []string {
	if tree == nil {
		return out
	}
	if tree.Frame != nil && tree.Frame.URL != "" {
		out = append(out, tree.Frame.URL)
	}
	for _, child := range tree.ChildFrames {
		out = frameURLs(child, out)
	}
	return out
}

func (t *tab) Targets(ctx context.Context) ([]string, error) {
	runCtx, cancel := t.bind(ctx)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	urls := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.URL != "" {
			urls = append(urls, info.URL)
		}
	}
	return urls, nil
}

func (t *tab) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := t.bind(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

func (t *tab) URL(ctx context.Context) (string, error) {
	runCtx, cancel := t.bind(ctx)
	defer cancel()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Close waits a bounded time for in-flight response bodies, closes the tab,
// and returns once every callback has run. No callback fires afterwards.
func (t *tab) Close() error {
	t.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			t.bodies.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(t.cfg.BodyWait):
			t.logger.Debug("Timed out waiting for response bodies")
		}
		t.cancel()
		t.stopForward()
		<-done
		t.events.close()
	})
	return nil
}

func headerValue(headers network.Headers, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}
