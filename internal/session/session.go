// Package session drives the SEFAZ public-consultation portal with a
// headless browser.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/artifacts"
	"github.com/fiscalops/docharvest/internal/harvest"
)

const (
	defaultPortalURL     = "https://nfeweb.sefaz.go.gov.br/nfeweb/sites/nfe/consulta-publica"
	defaultSearchTimeout = 10 * time.Minute

	// The portal widget accepts this sentinel while its verification
	// endpoint is disabled.
	defaultCaptchaToken = "success"
)

const (
	selCNPJ         = "#cmpCnpj"
	selInitialDate  = `input[name="cmpDataInicial"]`
	selFinalDate    = `input[name="cmpDataFinal"]`
	selSituation    = "#cmpSituacao"
	selModel        = "#cmpModelo"
	selCaptchaSlot  = `[data-callback="pegarTokenSuccess"]`
	selCaptchaInput = "cf-turnstile-response"
	selResultRows   = "table.tablesorter tbody tr"
)

// Config controls the portal session.
type Config struct {
	PortalURL     string
	SearchTimeout time.Duration
	CaptchaToken  string
	UserAgent     string
	Headless      bool
}

// Session implements harvest.AutomationSession against the live portal.
// Callers serialize access through the certificate gate; Session itself is
// not safe for concurrent use.
type Session struct {
	cfg         Config
	layout      artifacts.Layout
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Session with its own browser allocator.
func New(cfg Config, layout artifacts.Layout, logger *zap.Logger) *Session {
	if cfg.PortalURL == "" {
		cfg.PortalURL = defaultPortalURL
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.CaptchaToken == "" {
		cfg.CaptchaToken = defaultCaptchaToken
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Session{
		cfg:         cfg,
		layout:      layout,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close tears down the browser allocator.
func (s *Session) Close() {
	s.allocCancel()
}

// DiscoverLink runs the search flow for one combination and reports its
// outcome as a tagged result. A non-nil error means the browser itself
// failed, not the portal.
func (s *Session) DiscoverLink(ctx context.Context, company harvest.Company, req harvest.RetrievalRequest) (harvest.DiscoveryResult, error) {
	taskCtx, cancel := chromedp.NewContext(s.allocator)
	defer cancel()
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, s.cfg.SearchTimeout)
	defer timeoutCancel()
	stopOnCallerCancel(ctx, taskCtx, cancel)

	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(s.cfg.PortalURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return harvest.DiscoveryResult{}, fmt.Errorf("open portal: %w", err)
	}

	if found, err := s.alertVisible(taskCtx, "Não foram encontrados"); err != nil {
		return harvest.DiscoveryResult{}, err
	} else if found {
		shot := s.captureScreenshot(taskCtx, req.Key)
		return harvest.DiscoveryResult{
			Kind:           harvest.DiscoveryNoDataForRegistration,
			Message:        "no data found for the certificate registration",
			ScreenshotPath: shot,
		}, nil
	}

	if err := s.fillForm(taskCtx, company, req); err != nil {
		return harvest.DiscoveryResult{}, fmt.Errorf("fill search form: %w", err)
	}

	if result, ok, err := s.solveCaptcha(taskCtx, req); err != nil {
		return harvest.DiscoveryResult{}, err
	} else if !ok {
		return result, nil
	}

	done, err := s.runSearch(taskCtx, req)
	if err != nil || done.Kind != "" {
		return done, err
	}

	return s.queueDownload(taskCtx, req)
}

// fillForm selects the certificate registration, the period, the document
// situation, and the model on the search page.
func (s *Session) fillForm(ctx context.Context, company harvest.Company, req harvest.RetrievalRequest) error {
	key := req.Key
	return chromedp.Run(ctx,
		chromedp.WaitVisible(selCNPJ, chromedp.ByQuery),
		chromedp.SetValue(selCNPJ, company.RegistrationID, chromedp.ByQuery),
		setDateField(selInitialDate, key.Period.Initial),
		setDateField(selFinalDate, key.Period.Final),
		chromedp.SetValue(selSituation, situationOption(key.Situation), chromedp.ByQuery),
		chromedp.SetValue(selModel, modelOption(key.Model), chromedp.ByQuery),
	)
}

// solveCaptcha injects the token into the widget's hidden input. The second
// return value reports whether the flow may continue.
func (s *Session) solveCaptcha(ctx context.Context, req harvest.RetrievalRequest) (harvest.DiscoveryResult, bool, error) {
	var siteKey string
	var ok bool
	if err := chromedp.Run(ctx,
		chromedp.AttributeValue(selCaptchaSlot, "data-sitekey", &siteKey, &ok, chromedp.ByQuery),
	); err != nil {
		return harvest.DiscoveryResult{}, false, fmt.Errorf("read captcha sitekey: %w", err)
	}
	if !ok || siteKey == "" {
		return harvest.DiscoveryResult{
			Kind:    harvest.DiscoveryCaptchaFailure,
			Message: "captcha sitekey not present on the page",
		}, false, nil
	}
	s.logger.Debug("Captcha sitekey found", zap.String("sitekey", siteKey))

	inject := fmt.Sprintf(
		`(() => { const i = document.getElementById(%q); if (i) i.value = %q; return !!i; })()`,
		selCaptchaInput, s.cfg.CaptchaToken,
	)
	var injected bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(inject, &injected)); err != nil {
		return harvest.DiscoveryResult{}, false, fmt.Errorf("inject captcha token: %w", err)
	}
	if !injected {
		return harvest.DiscoveryResult{
			Kind:    harvest.DiscoveryCaptchaFailure,
			Message: "captcha response input not present on the page",
		}, false, nil
	}
	return harvest.DiscoveryResult{}, true, nil
}

// runSearch submits the form and waits for either the result table or the
// empty-result alert. An empty result with Kind == "" means rows arrived and
// the flow should queue the download.
func (s *Session) runSearch(ctx context.Context, req harvest.RetrievalRequest) (harvest.DiscoveryResult, error) {
	searchJS := fmt.Sprintf(`(() => {
		const hasRows = document.querySelector(%q) !== null;
		const noResults = [...document.querySelectorAll('.alert')].some(a => a.textContent.includes('Sem Resultados'));
		return hasRows || noResults;
	})()`, selResultRows)

	var settled bool
	err := chromedp.Run(ctx,
		chromedp.Click(`//button[contains(., "Pesquisar")]`, chromedp.BySearch),
		chromedp.Poll(searchJS, &settled, chromedp.WithPollingInterval(time.Second)),
	)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		return harvest.DiscoveryResult{
			Kind:    harvest.DiscoverySearchTimeout,
			Message: fmt.Sprintf("search did not finish within %s", s.cfg.SearchTimeout),
		}, nil
	default:
		return harvest.DiscoveryResult{}, fmt.Errorf("submit search: %w", err)
	}

	if found, err := s.alertVisible(ctx, "Sem Resultados"); err != nil {
		return harvest.DiscoveryResult{}, err
	} else if found {
		shot := s.captureScreenshot(ctx, req.Key)
		return harvest.DiscoveryResult{
			Kind:           harvest.DiscoveryNoResults,
			Message:        "search returned no results",
			ScreenshotPath: shot,
		}, nil
	}
	return harvest.DiscoveryResult{}, nil
}

// queueDownload asks the portal to pack all files and captures the download
// queue URL plus the generated archive name.
func (s *Session) queueDownload(ctx context.Context, req harvest.RetrievalRequest) (harvest.DiscoveryResult, error) {
	var queueURL, fileName string
	var armed bool
	err := chromedp.Run(ctx,
		chromedp.Click(`//button[contains(., "Baixar todos os arquivos")]`, chromedp.BySearch),
		chromedp.Evaluate(`(() => {
			const b = [...document.querySelectorAll('button')].find(x => x.textContent.trim() === 'Baixar');
			if (b) b.removeAttribute('disabled');
			return !!b;
		})()`, &armed),
		chromedp.Click(`//button[normalize-space(.) = "Baixar"]`, chromedp.BySearch),
		chromedp.WaitVisible(selResultRows, chromedp.ByQuery),
		chromedp.Location(&queueURL),
		chromedp.Text(selResultRows+" .col-arquivo", &fileName, chromedp.ByQuery),
	)
	if err != nil {
		return harvest.DiscoveryResult{}, fmt.Errorf("queue portal download: %w", err)
	}

	fileName = strings.TrimSpace(fileName)
	if queueURL == "" || fileName == "" {
		shot := s.captureScreenshot(ctx, req.Key)
		return harvest.DiscoveryResult{
			Kind:           harvest.DiscoveryUnknownError,
			Message:        "download queue did not expose a URL and file name",
			ScreenshotPath: shot,
		}, nil
	}

	s.logger.Info("Download queued on portal",
		zap.String("url", queueURL), zap.String("file", fileName))
	return harvest.DiscoveryResult{
		Kind:     harvest.DiscoveryLinkFound,
		LinkURL:  queueURL,
		FileName: fileName,
	}, nil
}

// FetchFile opens a previously discovered queue URL and saves the archive
// into the document directory for the combination.
func (s *Session) FetchFile(ctx context.Context, company harvest.Company, req harvest.RetrievalRequest) (harvest.DownloadResult, error) {
	if req.LinkDownload == "" {
		return harvest.DownloadResult{
			Kind:    harvest.DownloadLinkUnavailable,
			Message: "entry has no download link",
		}, nil
	}

	destDir, err := s.layout.DocumentDir(req.Key)
	if err != nil {
		return harvest.DownloadResult{}, err
	}

	taskCtx, cancel := chromedp.NewContext(s.allocator)
	defer cancel()
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, s.cfg.SearchTimeout)
	defer timeoutCancel()
	stopOnCallerCancel(ctx, taskCtx, cancel)

	saved := make(chan string, 1)
	guids := make(map[string]string)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			guids[e.GUID] = e.SuggestedFilename
		case *browser.EventDownloadProgress:
			if e.State == browser.DownloadProgressStateCompleted {
				select {
				case saved <- guids[e.GUID]:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(taskCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(destDir).
			WithEventsEnabled(true),
		chromedp.Navigate(req.LinkDownload),
		chromedp.WaitVisible(selResultRows, chromedp.ByQuery),
	); err != nil {
		return harvest.DownloadResult{}, fmt.Errorf("open download queue: %w", err)
	}

	rowSel := s.rowSelector(req.FileName)
	var rows int
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(
		fmt.Sprintf(`document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`, rowSel),
		&rows,
	)); err != nil {
		return harvest.DownloadResult{}, fmt.Errorf("locate queue row: %w", err)
	}
	if rows == 0 {
		shot := s.captureScreenshot(taskCtx, req.Key)
		return harvest.DownloadResult{
			Kind:           harvest.DownloadFileNotFound,
			Message:        fmt.Sprintf("file %q not listed on the download queue", req.FileName),
			ScreenshotPath: shot,
		}, nil
	}

	linkSel := rowSel + `//td[contains(@class, "col-acoes")]//a[contains(@class, "btn-info")]`
	if err := chromedp.Run(taskCtx, chromedp.Click(linkSel, chromedp.BySearch)); err != nil {
		return harvest.DownloadResult{}, fmt.Errorf("click download action: %w", err)
	}

	var suggested string
	select {
	case suggested = <-saved:
	case <-taskCtx.Done():
		return harvest.DownloadResult{
			Kind:    harvest.DownloadLinkUnavailable,
			Message: "download did not complete before the timeout",
		}, nil
	}

	filePath, err := s.finalizeDownload(destDir, suggested, req.FileName)
	if err != nil {
		return harvest.DownloadResult{}, err
	}

	shot := s.conferenceScreenshot(taskCtx, req.Key)
	s.logger.Info("File downloaded", zap.String("path", filePath))
	return harvest.DownloadResult{
		Kind:           harvest.DownloadFetched,
		FilePath:       filePath,
		ScreenshotPath: shot,
	}, nil
}

// rowSelector matches the queue row carrying the file, or the first row when
// no name was recorded.
func (s *Session) rowSelector(fileName string) string {
	if fileName == "" {
		return `//table[contains(@class, "tablesorter")]/tbody/tr[1]`
	}
	return fmt.Sprintf(
		`//table[contains(@class, "tablesorter")]/tbody/tr[td[contains(@class, "col-arquivo") and contains(., %q)]]`,
		fileName,
	)
}

// finalizeDownload renames the browser-named artifact to its portal name.
// The AllowAndName behavior saves files under their download GUID.
func (s *Session) finalizeDownload(destDir, savedName, portalName string) (string, error) {
	if savedName == "" {
		return "", errors.New("download completed without a file name")
	}
	savedPath := filepath.Join(destDir, savedName)
	if portalName == "" {
		return savedPath, nil
	}
	finalPath := filepath.Join(destDir, portalName)
	if err := os.Rename(savedPath, finalPath); err != nil {
		return "", fmt.Errorf("rename downloaded file: %w", err)
	}
	return finalPath, nil
}

// alertVisible reports whether a dismissible portal alert containing the
// given text is on screen.
func (s *Session) alertVisible(ctx context.Context, text string) (bool, error) {
	js := fmt.Sprintf(
		`[...document.querySelectorAll('.alert, .modal, [role="alert"]')].some(a => a.textContent.includes(%q))`,
		text,
	)
	var visible bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &visible)); err != nil {
		return false, fmt.Errorf("check portal alert: %w", err)
	}
	return visible, nil
}

// captureScreenshot saves diagnostic evidence under the prints directory.
// Failures are logged, not propagated: evidence never blocks the flow.
func (s *Session) captureScreenshot(ctx context.Context, key harvest.RequestKey) string {
	target, err := s.layout.ScreenshotPath(key)
	if err != nil {
		s.logger.Warn("Screenshot path unavailable", zap.Error(err))
		return ""
	}
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		s.logger.Warn("Screenshot capture failed", zap.Error(err))
		return ""
	}
	if err := os.WriteFile(target, buf, 0o644); err != nil {
		s.logger.Warn("Screenshot write failed", zap.Error(err))
		return ""
	}
	return target
}

// conferenceScreenshot scrolls to the bottom of the page first so the saved
// evidence shows the completed queue row.
func (s *Session) conferenceScreenshot(ctx context.Context, key harvest.RequestKey) string {
	var scrolled bool
	scroll := `(() => { window.scrollTo(0, document.body.scrollHeight); return true; })()`
	if err := chromedp.Run(ctx, chromedp.Evaluate(scroll, &scrolled)); err != nil {
		s.logger.Debug("Scroll before screenshot failed", zap.Error(err))
	}
	return s.captureScreenshot(ctx, key)
}

// setDateField clears the input before typing so stale values never mix
// with the new period.
func setDateField(sel string, value time.Time) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, value.Format("02/01/2006"), chromedp.ByQuery),
	}
}

func situationOption(sit harvest.Situation) string {
	if sit == harvest.SituationCancelled {
		return "3"
	}
	return "2"
}

func modelOption(model harvest.DocumentModel) string {
	switch model {
	case harvest.ModelNFe:
		return "55"
	case harvest.ModelCTe:
		return "57"
	default:
		return "65"
	}
}

// stopOnCallerCancel propagates the caller's cancellation into the browser
// task, which only tracks its own context tree.
func stopOnCallerCancel(caller, task context.Context, cancel context.CancelFunc) {
	go func() {
		select {
		case <-caller.Done():
			cancel()
		case <-task.Done():
		}
	}()
}
