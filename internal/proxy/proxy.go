// Package proxy renders the Nginx reverse proxy site and installs it on the
// target host.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/joescharf/hoist/internal/remote"
)

const (
	DefaultSitePath   = "/etc/nginx/sites-available/default"
	ConfDSitePath     = "/etc/nginx/conf.d/default.conf"
	DefaultServerName = "_"
	backupSuffix      = ".hoist.bak"
	heredocMarker     = "HOIST_NGINX_EOF"
)

const siteTemplate = `server {
    listen 80;
    server_name {{ .ServerName }};

    location / {
        proxy_pass http://localhost:{{ .Port }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    }
}
`

var siteTmpl = template.Must(template.New("site").Parse(siteTemplate))

// Render returns the server block forwarding port 80 to the app port.
func Render(port int, serverName string) (string, error) {
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid app port %d", port)
	}
	if serverName == "" {
		serverName = DefaultServerName
	}
	if strings.ContainsAny(serverName, ";{}\n") {
		return "", fmt.Errorf("invalid server name %q", serverName)
	}

	var buf bytes.Buffer
	err := siteTmpl.Execute(&buf, struct {
		Port       int
		ServerName string
	}{port, serverName})
	if err != nil {
		return "", fmt.Errorf("render nginx site: %w", err)
	}
	return buf.String(), nil
}

// SitePathFor returns the site location the nginx package of a host with the
// given package manager reads. RHEL-family packages have no sites-available.
func SitePathFor(packageManager string) string {
	switch packageManager {
	case "dnf", "yum":
		return ConfDSitePath
	default:
		return DefaultSitePath
	}
}

// Configurator installs the rendered site and reloads Nginx.
type Configurator struct {
	SitePath   string
	ServerName string
}

// Result describes what Apply did.
type Result struct {
	Changed    bool
	BackupPath string
}

func (c *Configurator) sitePath() string {
	if c.SitePath == "" {
		return DefaultSitePath
	}
	return c.SitePath
}

// Plan returns the commands Apply runs when the site changes.
func (c *Configurator) Plan(port int) ([]string, error) {
	site, err := Render(port, c.ServerName)
	if err != nil {
		return nil, err
	}
	p := remote.Quote(c.sitePath())
	bak := remote.Quote(c.sitePath() + backupSuffix)
	return []string{
		fmt.Sprintf("sudo cp -p %s %s 2>/dev/null || true", p, bak),
		writeCmd(p, site),
		"sudo nginx -t",
		"sudo systemctl reload nginx",
	}, nil
}

// Apply writes the site when it differs from the file on the host, checks
// the configuration and reloads Nginx. A configuration that fails
// "nginx -t" is rolled back before the error is returned.
func (c *Configurator) Apply(ctx context.Context, r remote.Runner, port int) (*Result, error) {
	site, err := Render(port, c.ServerName)
	if err != nil {
		return nil, err
	}
	path := c.sitePath()
	p := remote.Quote(path)

	current, err := r.Run(ctx, fmt.Sprintf("sudo cat %s 2>/dev/null || true", p))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(current) == strings.TrimSpace(site) {
		return &Result{}, nil
	}

	res := &Result{Changed: true}
	hadSite := strings.TrimSpace(current) != ""
	if hadSite {
		res.BackupPath = path + backupSuffix
		if _, err := r.Run(ctx, fmt.Sprintf("sudo cp -p %s %s", p, remote.Quote(res.BackupPath))); err != nil {
			return nil, fmt.Errorf("back up %s: %w", path, err)
		}
	}

	if _, err := r.Run(ctx, writeCmd(p, site)); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	if _, err := r.Run(ctx, "sudo nginx -t"); err != nil {
		restore := fmt.Sprintf("sudo rm -f %s", p)
		if hadSite {
			restore = fmt.Sprintf("sudo mv %s %s", remote.Quote(res.BackupPath), p)
		}
		if _, rerr := r.Run(ctx, restore); rerr != nil {
			return nil, fmt.Errorf("nginx config test failed: %w (restore also failed: %v)", err, rerr)
		}
		return nil, fmt.Errorf("nginx config test failed: %w", err)
	}

	if _, err := r.Run(ctx, "sudo systemctl reload nginx"); err != nil {
		return nil, fmt.Errorf("reload nginx: %w", err)
	}
	return res, nil
}

// writeCmd pipes content through sudo tee using a quoted heredoc so "$host"
// and friends reach the file unexpanded.
func writeCmd(quotedPath, content string) string {
	return fmt.Sprintf("sudo tee %s >/dev/null <<'%s'\n%s%s", quotedPath, heredocMarker, content, heredocMarker)
}
