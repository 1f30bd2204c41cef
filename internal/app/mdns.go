package app

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/grandcat/zeroconf"

	"github.com/andresaa/api-examen-conduccion/internal/submission"
)

const (
	mdnsServiceType = "_consultant._tcp"
	mdnsDomain      = "local."
	mdnsLabelMax    = 63
)

// startMDNS advertises the HTTP API so lab devices on the LAN can find it.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	instance := mdnsInstance(a.variant, hostname)
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, a.mdnsTXT(hostname), nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) mdnsTXT(hostname string) []string {
	return []string{
		fmt.Sprintf("http_port=%d", a.cfg.HTTPPort),
		"base_path=" + basePath,
		"api_variant=" + string(a.variant),
		"data_model=" + string(a.model),
		"host=" + mdnsHost(hostname),
	}
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

// mdnsInstance names the advertisement after the contract it serves, so an A
// and a B mock on the same network can be told apart. Dots would split the
// label and become spaces.
func mdnsInstance(v submission.Variant, hostname string) string {
	name := "Consultant Service " + strings.ToUpper(string(v))
	host := strings.Join(strings.Fields(strings.NewReplacer(".", " ", "_", " ").Replace(hostname)), " ")
	if host != "" {
		name += " (" + host + ")"
	}
	return truncateRunes(strings.TrimSpace(name), mdnsLabelMax)
}

// mdnsHost turns a machine hostname into a lowercase DNS name, adding .local
// when it is unqualified.
func mdnsHost(hostname string) string {
	host := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case unicode.IsSpace(r), r == '_':
			return '-'
		default:
			return -1
		}
	}, strings.ToLower(strings.TrimSpace(hostname)))
	host = strings.Trim(host, "-.")
	if host == "" {
		host = "consultant"
	}
	host = truncateRunes(host, mdnsLabelMax)
	if !strings.Contains(host, ".") {
		host += ".local"
	}
	return host
}

func truncateRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
