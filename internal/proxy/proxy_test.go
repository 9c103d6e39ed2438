package proxy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/hoist/internal/remote"
)

// fakeNginx keeps the site file in memory and interprets the commands
// Apply sends.
type fakeNginx struct {
	files    map[string]string
	testFail bool
	ran      []string
	reloads  int
}

func newFakeNginx() *fakeNginx {
	return &fakeNginx{files: map[string]string{}}
}

func (f *fakeNginx) Run(_ context.Context, cmd string) (string, error) {
	f.ran = append(f.ran, cmd)
	fields := strings.Fields(cmd)
	switch {
	case strings.HasPrefix(cmd, "sudo cat "):
		return f.files[fields[2]], nil
	case strings.HasPrefix(cmd, "sudo cp -p "):
		f.files[fields[4]] = f.files[fields[3]]
	case strings.HasPrefix(cmd, "sudo tee "):
		_, body, _ := strings.Cut(cmd, "\n")
		f.files[fields[2]] = strings.TrimSuffix(body, heredocMarker)
	case cmd == "sudo nginx -t":
		if f.testFail {
			return "nginx: [emerg] unexpected end of file", &remote.CommandError{Cmd: cmd, ExitStatus: 1}
		}
	case strings.HasPrefix(cmd, "sudo mv "):
		f.files[fields[3]] = f.files[fields[2]]
		delete(f.files, fields[2])
	case strings.HasPrefix(cmd, "sudo rm -f "):
		delete(f.files, fields[3])
	case cmd == "sudo systemctl reload nginx":
		f.reloads++
	}
	return "", nil
}

func TestRender(t *testing.T) {
	site, err := Render(3000, "")
	require.NoError(t, err)
	assert.Contains(t, site, "listen 80;")
	assert.Contains(t, site, "server_name _;")
	assert.Contains(t, site, "proxy_pass http://localhost:3000;")
	assert.Contains(t, site, "proxy_set_header Host $host;")
	assert.Contains(t, site, "proxy_set_header X-Real-IP $remote_addr;")
	assert.Contains(t, site, "proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;")

	site, err = Render(8080, "app.example.com")
	require.NoError(t, err)
	assert.Contains(t, site, "server_name app.example.com;")
	assert.Contains(t, site, "http://localhost:8080;")
}

func TestRender_Invalid(t *testing.T) {
	_, err := Render(0, "")
	assert.Error(t, err)
	_, err = Render(3000, "evil; }")
	assert.Error(t, err)
}

func TestApply_WritesAndReloads(t *testing.T) {
	f := newFakeNginx()
	f.files[DefaultSitePath] = "server { listen 80; root /var/www/html; }\n"
	c := &Configurator{}

	res, err := c.Apply(context.Background(), f, 3000)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, DefaultSitePath+".hoist.bak", res.BackupPath)
	assert.Contains(t, f.files[DefaultSitePath], "proxy_pass http://localhost:3000;")
	assert.Contains(t, f.files[res.BackupPath], "root /var/www/html")
	assert.Equal(t, 1, f.reloads)
}

func TestApply_SkipsWhenUnchanged(t *testing.T) {
	f := newFakeNginx()
	site, err := Render(3000, "")
	require.NoError(t, err)
	f.files[DefaultSitePath] = site
	c := &Configurator{}

	res, err := c.Apply(context.Background(), f, 3000)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, f.reloads)
	assert.Len(t, f.ran, 1)
}

func TestApply_RestoresOnFailedTest(t *testing.T) {
	f := newFakeNginx()
	f.testFail = true
	original := "server { listen 80; }\n"
	f.files[DefaultSitePath] = original
	c := &Configurator{}

	_, err := c.Apply(context.Background(), f, 3000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nginx config test failed")
	assert.Equal(t, original, f.files[DefaultSitePath])
	assert.Equal(t, 0, f.reloads)
}

func TestApply_RemovesNewFileOnFailedTest(t *testing.T) {
	f := newFakeNginx()
	f.testFail = true
	c := &Configurator{SitePath: "/etc/nginx/conf.d/hoist.conf"}

	_, err := c.Apply(context.Background(), f, 3000)
	require.Error(t, err)
	_, exists := f.files["/etc/nginx/conf.d/hoist.conf"]
	assert.False(t, exists)
}

func TestPlan(t *testing.T) {
	c := &Configurator{ServerName: "app.example.com"}
	cmds, err := c.Plan(3000)
	require.NoError(t, err)
	require.Len(t, cmds, 4)
	assert.True(t, strings.HasPrefix(cmds[1], "sudo tee /etc/nginx/sites-available/default >/dev/null <<'HOIST_NGINX_EOF'\n"))
	assert.True(t, strings.HasSuffix(cmds[1], "}\nHOIST_NGINX_EOF"))
	assert.Equal(t, "sudo nginx -t", cmds[2])
}

func TestSitePathFor(t *testing.T) {
	assert.Equal(t, DefaultSitePath, SitePathFor("apt"))
	assert.Equal(t, DefaultSitePath, SitePathFor(""))
	assert.Equal(t, ConfDSitePath, SitePathFor("dnf"))
	assert.Equal(t, ConfDSitePath, SitePathFor("yum"))
}
