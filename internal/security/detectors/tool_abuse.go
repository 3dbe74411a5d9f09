package detectors

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

type taggedPattern struct {
	re       *regexp.Regexp
	label    string
	severity security.Severity
}

func compileDangerousCommands() []taggedPattern {
	raw := []struct {
		pattern  string
		label    string
		severity security.Severity
	}{
		{`\brm\s+(-[rf]+\s+)*(/|\*|~|\.\.)`, "destructive_rm", security.SeverityCritical},
		{`\bmkfs\b`, "format_disk", security.SeverityCritical},
		{`\bdd\s+.*of=/dev/`, "dd_to_device", security.SeverityCritical},
		{`\bshred\b`, "shred_command", security.SeverityHigh},

		{`curl\s+.*\|\s*(bash|sh|zsh)`, "curl_pipe_shell", security.SeverityCritical},
		{`wget\s+.*\|\s*(bash|sh|zsh)`, "wget_pipe_shell", security.SeverityCritical},
		{`curl\s+.*>\s*.*/(bash|sh|zsh)`, "download_script", security.SeverityHigh},
		{`eval\s+['"]`, "eval_usage", security.SeverityMedium},

		{`\bsudo\s+`, "sudo_usage", security.SeverityMedium},
		{`\bdoas\s+`, "doas_usage", security.SeverityMedium},
		{`chmod\s+[0-7]*777`, "chmod_777", security.SeverityHigh},
		{`chown\s+.*root`, "chown_root", security.SeverityHigh},

		{`\bnmap\s+`, "nmap_scan", security.SeverityHigh},
		{`\bnetcat\s+|\bnc\s+`, "netcat_usage", security.SeverityHigh},
		{`\bnikto\s+`, "nikto_scan", security.SeverityHigh},
		{`\bsqlmap\s+`, "sqlmap_usage", security.SeverityCritical},

		{`cat\s+.*/(passwd|shadow|sudoers)`, "credential_file_access", security.SeverityCritical},
		{`/\.(ssh|gnupg)/`, "ssh_key_access", security.SeverityCritical},
		{`\.pem\b`, "pem_file_access", security.SeverityHigh},
		{`\.key\b`, "key_file_access", security.SeverityHigh},
		{`(AWS|GCP|AZURE)_(ACCESS|SECRET|KEY)`, "cloud_credential_access", security.SeverityCritical},

		{`\biptables\b`, "iptables_modification", security.SeverityHigh},
		{`\bsystemctl\s+(start|stop|restart|enable|disable)`, "systemctl_usage", security.SeverityMedium},
		{`\bcrontab\b`, "crontab_modification", security.SeverityHigh},
		{`/etc/(hosts|resolv\.conf|hostname)`, "system_config_access", security.SeverityHigh},

		{`\bscp\s+.*@`, "scp_upload", security.SeverityMedium},
		{`\brsync\s+.*@`, "rsync_upload", security.SeverityMedium},
		{`\bftp\s+`, "ftp_usage", security.SeverityMedium},
		{`\btftp\s+`, "tftp_usage", security.SeverityHigh},

		{`\bkill\s+(-9\s+)*1\b`, "kill_init", security.SeverityCritical},
		{`\bkillall\s+`, "killall_usage", security.SeverityMedium},
		{`\bpkill\s+`, "pkill_usage", security.SeverityMedium},
	}
	out := make([]taggedPattern, 0, len(raw))
	for _, p := range raw {
		out = append(out, taggedPattern{re: regexp.MustCompile("(?i)" + p.pattern), label: p.label, severity: p.severity})
	}
	return out
}

func compileSensitivePaths() []taggedPattern {
	raw := []struct {
		pattern  string
		label    string
		severity security.Severity
	}{
		{`/etc/shadow`, "password_file", security.SeverityCritical},
		{`/etc/passwd`, "user_file", security.SeverityHigh},
		{`/etc/sudoers`, "sudo_config", security.SeverityCritical},
		{`/root/`, "root_home", security.SeverityHigh},
		{`~/\.ssh/`, "ssh_directory", security.SeverityCritical},
		{`~/\.gnupg/`, "gpg_directory", security.SeverityCritical},
		{`~/\.bashrc`, "shell_config", security.SeverityMedium},
		{`~/\.bash_history`, "shell_history", security.SeverityHigh},
		{`~/\.aws/`, "aws_credentials", security.SeverityCritical},
		{`~/\.config/gcloud/`, "gcp_credentials", security.SeverityCritical},
		{`~/\.azure/`, "azure_credentials", security.SeverityCritical},
		{`\.env\b`, "env_file", security.SeverityHigh},
		{`credentials\.json`, "credentials_file", security.SeverityCritical},
		{`service-account\.json`, "service_account", security.SeverityCritical},
	}
	out := make([]taggedPattern, 0, len(raw))
	for _, p := range raw {
		out = append(out, taggedPattern{re: regexp.MustCompile("(?i)" + p.pattern), label: p.label, severity: p.severity})
	}
	return out
}

var (
	dangerousCommandPatterns = compileDangerousCommands()
	sensitivePathPatterns    = compileSensitivePaths()
	dangerousToolNames       = []string{"bash", "exec", "shell", "terminal", "cmd", "powershell"}
)

// ToolAbuse is a sync detector for dangerous shell commands,
// sensitive file path access, and dangerous tool definitions, per
// spec §4.7 #4.
type ToolAbuse struct{ enabled bool }

// NewToolAbuse builds an enabled ToolAbuse detector.
func NewToolAbuse() *ToolAbuse { return &ToolAbuse{enabled: true} }

func (d *ToolAbuse) Name() string  { return "tool_abuse_detector" }
func (d *ToolAbuse) Enabled() bool { return d.enabled }

func (d *ToolAbuse) DetectRequest(data security.RequestData) []security.DetectionResult {
	var texts []string
	if data.System != "" {
		texts = append(texts, data.System)
	}
	for _, m := range data.Messages {
		texts = append(texts, m.Content)
	}
	combined := strings.Join(texts, "\n")

	var results []security.DetectionResult
	if r := checkDangerousCommands(combined); r != nil {
		results = append(results, *r)
	}
	if r := checkSensitivePaths(combined); r != nil {
		results = append(results, *r)
	}
	for _, toolName := range data.ToolDefs {
		lower := strings.ToLower(toolName)
		for _, dt := range dangerousToolNames {
			if strings.Contains(lower, dt) {
				results = append(results, security.DetectionResult{
					Detected:    true,
					ThreatType:  security.ThreatToolAbuse,
					Severity:    security.SeverityHigh,
					Confidence:  decimal.NewFromFloat(0.7),
					Source:      security.SourceHeuristic,
					Description: "dangerous tool requested: " + toolName,
					Evidence:    map[string]any{"tool_name": toolName},
					RuleID:      "tool_invocation_v1",
				})
				break
			}
		}
	}
	return results
}

func (d *ToolAbuse) DetectResponse(data security.ResponseData) []security.DetectionResult {
	var results []security.DetectionResult
	if r := checkDangerousCommands(data.Content); r != nil {
		results = append(results, *r)
	}
	return results
}

func checkDangerousCommands(text string) *security.DetectionResult {
	type found struct {
		label    string
		severity security.Severity
		count    int
	}
	var hits []found
	for _, p := range dangerousCommandPatterns {
		matches := p.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		hits = append(hits, found{label: p.label, severity: p.severity, count: len(matches)})
	}
	if len(hits) == 0 {
		return nil
	}

	overall := security.SeverityMedium
	totalCount := 0
	labels := make([]string, 0, len(hits))
	for _, h := range hits {
		labels = append(labels, h.label)
		totalCount += h.count
		if severityRank(h.severity) < severityRank(overall) {
			overall = h.severity
		}
	}

	confidence := decimal.NewFromFloat(0.6).Add(decimal.NewFromFloat(0.05).Mul(decimal.NewFromInt(int64(len(hits)))))
	if confidence.GreaterThan(decimal.NewFromFloat(0.9)) {
		confidence = decimal.NewFromFloat(0.9)
	}

	return &security.DetectionResult{
		Detected:    true,
		ThreatType:  security.ThreatToolAbuse,
		Severity:    overall,
		Confidence:  confidence,
		Source:      security.SourceSignature,
		Description: "dangerous commands detected in request",
		Evidence:    map[string]any{"commands": labels, "total_count": totalCount},
		RuleID:      "tool_command_v1",
	}
}

func checkSensitivePaths(text string) *security.DetectionResult {
	type found struct {
		label    string
		severity security.Severity
	}
	var hits []found
	for _, p := range sensitivePathPatterns {
		if p.re.MatchString(text) {
			hits = append(hits, found{label: p.label, severity: p.severity})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	overall := security.SeverityHigh
	labels := make([]string, 0, len(hits))
	for _, h := range hits {
		labels = append(labels, h.label)
		if h.severity == security.SeverityCritical {
			overall = security.SeverityCritical
		}
	}

	return &security.DetectionResult{
		Detected:    true,
		ThreatType:  security.ThreatToolAbuse,
		Severity:    overall,
		Confidence:  decimal.NewFromFloat(0.85),
		Source:      security.SourceSignature,
		Description: "sensitive file path access detected",
		Evidence:    map[string]any{"paths": labels},
		RuleID:      "tool_path_v1",
	}
}
