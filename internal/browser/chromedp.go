package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// ChromeDriver drives a local headless Chrome through the devtools protocol.
// Each session gets its own browser context, so portal logins never share
// cookies.
type ChromeDriver struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	workDir  string
}

// NewChromeDriver starts a shared exec allocator. workDir receives statement
// downloads; it is created if missing.
func NewChromeDriver(ctx context.Context, workDir string) (*ChromeDriver, error) {
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("browser: create download dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)

	return &ChromeDriver{allocCtx: allocCtx, cancel: cancel, workDir: workDir}, nil
}

// NewSession opens a fresh browser context with downloads routed to the
// driver's working directory.
func (d *ChromeDriver) NewSession(ctx context.Context) (Session, error) {
	cctx, cancel := chromedp.NewContext(d.allocCtx)

	downloads := make(chan string, 1)
	chromedp.ListenTarget(cctx, func(ev any) {
		if e, ok := ev.(*cdpbrowser.EventDownloadProgress); ok && e.State == cdpbrowser.DownloadProgressStateCompleted {
			select {
			case downloads <- e.GUID:
			default:
			}
		}
	})

	err := chromedp.Run(cctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(d.workDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser: start session: %w", err)
	}

	return &chromeSession{cctx: cctx, cancel: cancel, workDir: d.workDir, downloads: downloads}, nil
}

// Close stops the allocator and every session spawned from it.
func (d *ChromeDriver) Close() {
	d.cancel()
}

type chromeSession struct {
	cctx      context.Context
	cancel    context.CancelFunc
	workDir   string
	downloads chan string
}

// run executes devtools actions on the session context, honouring the
// caller's deadline and cancellation.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := linkContext(s.cctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// linkContext derives a context from session that also ends with caller:
// the caller's deadline carries over, and cancelling the caller cancels the
// derived context. Devtools actions must not outlive the job that asked for
// them.
func linkContext(session, caller context.Context) (context.Context, context.CancelFunc) {
	var linked context.Context
	var cancel context.CancelFunc
	if deadline, ok := caller.Deadline(); ok {
		linked, cancel = context.WithDeadline(session, deadline)
	} else {
		linked, cancel = context.WithCancel(session)
	}

	stop := context.AfterFunc(caller, cancel)
	return linked, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNavTimeout
		}
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) WaitFor(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNavTimeout
		}
		return fmt.Errorf("browser: wait for %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) error {
	if err := s.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrElementNotFound
		}
		return fmt.Errorf("browser: fill %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrElementNotFound
		}
		return fmt.Errorf("browser: click %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrElementNotFound
		}
		return "", fmt.Errorf("browser: text %q: %w", selector, err)
	}
	return out, nil
}

func (s *chromeSession) TextAll(ctx context.Context, selector string) ([]string, error) {
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(e => e.textContent)`, selector)

	var out []string
	if err := s.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrElementNotFound
		}
		return nil, fmt.Errorf("browser: text all %q: %w", selector, err)
	}
	return out, nil
}

// Download clicks the trigger and waits for the devtools download event, then
// reads the file from the working directory. The file is removed after read
// so exports never accumulate on disk.
func (s *chromeSession) Download(ctx context.Context, selector string) ([]byte, error) {
	if err := s.Click(ctx, selector); err != nil {
		return nil, err
	}

	select {
	case guid := <-s.downloads:
		path := filepath.Join(s.workDir, guid)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("browser: read download: %w", err)
		}
		os.Remove(path)
		return data, nil
	case <-ctx.Done():
		return nil, ErrNavTimeout
	case <-time.After(2 * time.Minute):
		return nil, ErrNavTimeout
	}
}

func (s *chromeSession) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNavTimeout
		}
		return fmt.Errorf("browser: reload: %w", err)
	}
	return nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
