// Package secprobe implements the security prober worker.
//
// One HTTP GET against the target drives four checks: expected security
// headers, information-disclosure markers in headers and body, the TLS
// handshake (certificate window, protocol version), and default-install or
// directory-listing pages. Findings aggregate into a 0-100 score.
package secprobe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/fetch"
	"github.com/probelab/scrutiny/idgen"
)

// headerCheck is one expected security header.
type headerCheck struct {
	header   string
	severity Severity // severity of the missing-header finding
	detail   string
}

var headerChecks = []headerCheck{
	{"Strict-Transport-Security", SeverityHigh, "HSTS not enforced; downgrade attacks possible"},
	{"Content-Security-Policy", SeverityHigh, "no CSP; injected scripts run unrestricted"},
	{"X-Frame-Options", SeverityMedium, "clickjacking protection missing"},
	{"X-Content-Type-Options", SeverityLow, "MIME sniffing not disabled"},
	{"Referrer-Policy", SeverityLow, "referrer policy not set"},
	{"Permissions-Policy", SeverityInfo, "permissions policy not set"},
}

// complianceMarkers are positive signals scanned in the page body.
var complianceMarkers = map[string][]string{
	"soc2":     {"soc 2", "soc2"},
	"iso27001": {"iso 27001", "iso27001"},
	"gdpr":     {"gdpr"},
	"hipaa":    {"hipaa"},
	"pci":      {"pci dss", "pci-dss"},
}

var serverVersionRe = regexp.MustCompile(`[a-zA-Z-]+/[0-9][0-9.]*`)

var defaultPageMarkers = []string{
	"Welcome to nginx",
	"Apache2 Ubuntu Default Page",
	"IIS Windows Server",
	"It works!",
}

// Finding is one security observation.
type Finding struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail,omitempty"`
}

// Assessment is the structured result of one probe.
type Assessment struct {
	Target         string    `json:"target"`
	Score          int       `json:"score"`
	Findings       []Finding `json:"findings"`
	HeadersPresent []string  `json:"headers_present,omitempty"`
	TLS            *TLSInfo  `json:"tls,omitempty"`
	Compliance     []string  `json:"compliance,omitempty"`
}

// TLSInfo summarizes the negotiated TLS session.
type TLSInfo struct {
	Version     string    `json:"version"`
	CipherSuite string    `json:"cipher_suite"`
	CertExpiry  time.Time `json:"cert_expiry"`
	CertIssuer  string    `json:"cert_issuer,omitempty"`
}

// Prober is the security prober worker.
type Prober struct {
	fetcher *fetch.Fetcher
	ids     idgen.Generator
	log     *slog.Logger
}

// New creates a Prober.
func New(fetcher *fetch.Fetcher, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{fetcher: fetcher, ids: idgen.Default, log: logger}
}

// Handle probes the target and emits one security_assessment item.
func (p *Prober) Handle(ctx context.Context, task *collector.Task) (*collector.Outcome, error) {
	var cfg collector.ProbeConfig
	if err := collector.DecodeConfig(task.Config, &cfg); err != nil {
		return nil, err
	}

	log := p.log.With("job_id", task.JobID, "target", task.Target)
	task.Progress(10)

	// A non-2xx status still carries headers worth assessing; only a
	// transport-level failure aborts the probe.
	res, fetchErr := p.fetcher.Get(ctx, task.Target)
	if res == nil {
		return nil, fmt.Errorf("probe fetch: %w", fetchErr)
	}
	task.Progress(50)

	a := &Assessment{Target: task.Target}
	body := strings.ToLower(string(res.Body))

	// Security headers.
	for _, hc := range headerChecks {
		if res.Header.Get(hc.header) == "" {
			a.Findings = append(a.Findings, Finding{
				Severity: hc.severity,
				Title:    "missing " + hc.header,
				Detail:   hc.detail,
			})
		} else {
			a.HeadersPresent = append(a.HeadersPresent, hc.header)
		}
	}

	// Information disclosure.
	if server := res.Header.Get("Server"); serverVersionRe.MatchString(server) {
		a.Findings = append(a.Findings, Finding{
			Severity: SeverityLow,
			Title:    "server version disclosed",
			Detail:   "Server: " + server,
		})
	}
	if powered := res.Header.Get("X-Powered-By"); powered != "" {
		a.Findings = append(a.Findings, Finding{
			Severity: SeverityLow,
			Title:    "technology banner disclosed",
			Detail:   "X-Powered-By: " + powered,
		})
	}
	if strings.Contains(string(res.Body), "Index of /") {
		a.Findings = append(a.Findings, Finding{
			Severity: SeverityMedium,
			Title:    "directory listing enabled",
		})
	}
	for _, marker := range defaultPageMarkers {
		if strings.Contains(string(res.Body), marker) {
			a.Findings = append(a.Findings, Finding{
				Severity: SeverityLow,
				Title:    "default install page exposed",
				Detail:   marker,
			})
			break
		}
	}

	// TLS session.
	if res.TLS != nil {
		a.TLS, a.Findings = inspectTLS(res.TLS, a.Findings)
	} else if strings.HasPrefix(task.Target, "https://") {
		a.Findings = append(a.Findings, Finding{
			Severity: SeverityInfo,
			Title:    "TLS state unavailable",
		})
	} else {
		a.Findings = append(a.Findings, Finding{
			Severity: SeverityCritical,
			Title:    "served over plain HTTP",
		})
	}

	// Compliance mentions are positive context, not findings.
	for name, markers := range complianceMarkers {
		for _, m := range markers {
			if strings.Contains(body, m) {
				a.Compliance = append(a.Compliance, name)
				break
			}
		}
	}

	a.Score = Score(a.Findings)
	task.Progress(90)

	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal assessment: %w", err)
	}

	item := evidence.Item{
		ID:       p.ids(),
		Company:  task.Company,
		Category: evidence.CategorySecurity,
		Type:     "security_assessment",
		Source: evidence.Source{
			URL:         task.Target,
			Tool:        "security_prober",
			CollectedAt: time.Now(),
		},
		Payload: evidence.Payload{
			Raw: string(raw),
			Summary: fmt.Sprintf("security score %d/100, %d findings, %d headers present",
				a.Score, len(a.Findings), len(a.HeadersPresent)),
		},
		Confidence: 0.85,
		Relevance:  0.7,
	}

	out := &collector.Outcome{
		Evidence: []evidence.Item{item},
		Summary:  item.Payload.Summary,
	}
	if fetchErr != nil {
		out.Errors = append(out.Errors, fetchErr.Error())
	}
	log.Info("secprobe: done", "score", a.Score, "findings", len(a.Findings))
	return out, nil
}

func inspectTLS(state *tls.ConnectionState, findings []Finding) (*TLSInfo, []Finding) {
	info := &TLSInfo{
		Version:     tls.VersionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
	}

	if state.Version < tls.VersionTLS12 {
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			Title:    "legacy TLS version negotiated",
			Detail:   info.Version,
		})
	}

	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		info.CertExpiry = cert.NotAfter
		info.CertIssuer = cert.Issuer.CommonName

		now := time.Now()
		switch {
		case now.After(cert.NotAfter):
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Title:    "certificate expired",
				Detail:   cert.NotAfter.Format(time.RFC3339),
			})
		case cert.NotAfter.Sub(now) < 30*24*time.Hour:
			findings = append(findings, Finding{
				Severity: SeverityMedium,
				Title:    "certificate expires within 30 days",
				Detail:   cert.NotAfter.Format(time.RFC3339),
			})
		}
	}
	return info, findings
}
