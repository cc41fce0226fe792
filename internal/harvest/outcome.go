package harvest

// DiscoveryKind tags the closed set of discovery outcomes. Callers switch over
// every kind; anything unrecognized is treated as DiscoveryUnknownError.
type DiscoveryKind string

// Discovery outcomes reported by an automation session.
const (
	DiscoveryLinkFound             DiscoveryKind = "link_found"
	DiscoveryNoDataForRegistration DiscoveryKind = "no_data_for_registration"
	DiscoveryNoResults             DiscoveryKind = "no_results"
	DiscoveryCaptchaFailure        DiscoveryKind = "captcha_failure"
	DiscoverySearchTimeout         DiscoveryKind = "search_timeout"
	DiscoveryUnknownError          DiscoveryKind = "unknown_error"
)

// DiscoveryResult is the tagged outcome of one link-discovery attempt.
// LinkURL and FileName are set only for DiscoveryLinkFound. ScreenshotPath is
// set whenever the session captured diagnostic evidence.
type DiscoveryResult struct {
	Kind           DiscoveryKind
	LinkURL        string
	FileName       string
	ScreenshotPath string
	Message        string
}

// DownloadKind tags the closed set of download outcomes.
type DownloadKind string

// Download outcomes reported by an automation session.
const (
	DownloadFetched         DownloadKind = "fetched"
	DownloadLinkUnavailable DownloadKind = "link_unavailable"
	DownloadFileNotFound    DownloadKind = "file_not_found"
)

// DownloadResult is the tagged outcome of one file-fetch attempt. FilePath is
// set only for DownloadFetched.
type DownloadResult struct {
	Kind           DownloadKind
	FilePath       string
	ScreenshotPath string
	Message        string
}
