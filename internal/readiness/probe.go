// Package readiness implements the ReadinessProbe (C13): aggregation of
// every component's health into one readiness verdict, each check bounded
// by its own timeout within an overall 2-second budget.
package readiness

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/clipvault/extractor-api/internal/cookie"
	"github.com/clipvault/extractor-api/internal/domain"
)

// Budget is the total time allotted to Check.
const Budget = 2 * time.Second

const perComponentTimeout = 500 * time.Millisecond

// BinaryCheck reports whether a binary is present and names its version.
type BinaryCheck struct {
	Name    string
	Command []string // argv to print a version string, e.g. {"yt-dlp", "--version"}
}

// Config lists the components Probe aggregates.
type Config struct {
	ExtractorBinary      BinaryCheck
	MediaProcessingBinary BinaryCheck
	ScriptingRuntime     BinaryCheck
	MinScriptingMajor    int
	OutputDir            string
	MinFreeBytes         int64
	ConnectivityHost     string // host:port probed with a TCP dial
}

// DiskUsage reports free space under a path, so readiness can check the
// output directory; it is separate from the reaper's own disk accessor.
type DiskUsage interface {
	FreeBytes(path string) (int64, error)
}

// Probe implements domain.ReadinessProbe.
type Probe struct {
	cfg        Config
	cookies    domain.CookieStore
	dispatcher domain.ProviderDispatcher
	disk       DiskUsage
	dialer     net.Dialer
}

// New builds a Probe.
func New(cfg Config, cookies domain.CookieStore, dispatcher domain.ProviderDispatcher, disk DiskUsage) *Probe {
	return &Probe{cfg: cfg, cookies: cookies, dispatcher: dispatcher, disk: disk}
}

var _ domain.ReadinessProbe = (*Probe)(nil)

// Check aggregates every component's health within Budget.
func (p *Probe) Check(ctx context.Context) (bool, []domain.ComponentStatus) {
	ctx, cancel := context.WithTimeout(ctx, Budget)
	defer cancel()

	statuses := []domain.ComponentStatus{
		p.checkBinary(ctx, "extractor_binary", p.cfg.ExtractorBinary),
		p.checkBinary(ctx, "media_processing_binary", p.cfg.MediaProcessingBinary),
		p.checkScriptingRuntime(ctx),
		p.checkDiskSpace(),
		p.checkConnectivity(ctx),
	}
	statuses = append(statuses, p.checkCookies()...)

	healthy := true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
			break
		}
	}
	return healthy, statuses
}

func (p *Probe) checkBinary(ctx context.Context, name string, check BinaryCheck) domain.ComponentStatus {
	if len(check.Command) == 0 {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, perComponentTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, check.Command[0], check.Command[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: fmt.Sprintf("binary %q not usable: %v", check.Command[0], err)}
	}
	return domain.ComponentStatus{Name: name, Healthy: true, Detail: string(out)}
}

var majorVersionPattern = regexp.MustCompile(`v?(\d+)\.`)

func (p *Probe) checkScriptingRuntime(ctx context.Context) domain.ComponentStatus {
	const name = "scripting_runtime"
	check := p.cfg.ScriptingRuntime
	if len(check.Command) == 0 {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, perComponentTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, check.Command[0], check.Command[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: fmt.Sprintf("runtime not usable: %v", err)}
	}
	m := majorVersionPattern.FindStringSubmatch(string(out))
	if m == nil {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: "could not parse version"}
	}
	major, err := strconv.Atoi(m[1])
	if err != nil || major < p.cfg.MinScriptingMajor {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: fmt.Sprintf("major version %d below required %d", major, p.cfg.MinScriptingMajor)}
	}
	return domain.ComponentStatus{Name: name, Healthy: true, Detail: string(out)}
}

func (p *Probe) checkDiskSpace() domain.ComponentStatus {
	const name = "output_directory_free_space"
	if p.disk == nil {
		return domain.ComponentStatus{Name: name, Healthy: true, Detail: "no disk accessor configured"}
	}
	free, err := p.disk.FreeBytes(p.cfg.OutputDir)
	if err != nil {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: err.Error()}
	}
	if free < p.cfg.MinFreeBytes {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: fmt.Sprintf("%d bytes free, below minimum %d", free, p.cfg.MinFreeBytes)}
	}
	return domain.ComponentStatus{Name: name, Healthy: true, Detail: fmt.Sprintf("%d bytes free", free)}
}

func (p *Probe) checkConnectivity(ctx context.Context) domain.ComponentStatus {
	const name = "external_connectivity"
	if p.cfg.ConnectivityHost == "" {
		return domain.ComponentStatus{Name: name, Healthy: true, Detail: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, perComponentTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.ConnectivityHost)
	if err != nil {
		return domain.ComponentStatus{Name: name, Healthy: false, Detail: err.Error()}
	}
	conn.Close()
	return domain.ComponentStatus{Name: name, Healthy: true}
}

func (p *Probe) checkCookies() []domain.ComponentStatus {
	if p.cookies == nil {
		return nil
	}
	var out []domain.ComponentStatus
	for _, rec := range p.cookies.Snapshot() {
		healthy := rec.ValidationResult == domain.CookieValid
		detail := string(rec.ValidationResult)
		if cookie.IsStale(rec, time.Now()) {
			detail += " (warning: cookie file older than 7 days)"
		}
		out = append(out, domain.ComponentStatus{
			Name:    "cookie:" + rec.Provider,
			Healthy: healthy,
			Detail:  detail,
		})
	}
	if p.dispatcher != nil {
		for _, disabled := range p.dispatcher.Disabled() {
			out = append(out, domain.ComponentStatus{Name: "provider:" + disabled, Healthy: false, Detail: "disabled"})
		}
	}
	return out
}
