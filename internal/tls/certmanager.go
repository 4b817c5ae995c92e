package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caddyserver/certmagic"
)

// Options configures certificate management.
type Options struct {
	Domains    []string
	Email      string
	CertDir    string
	Production bool
}

// CertManager obtains and renews certificates for the configured domains via
// certmagic. Handshakes for any other name are refused.
type CertManager struct {
	domains map[string]struct{}
	list    []string
	logger  *slog.Logger
	cfg     *certmagic.Config
}

// NewCertManager creates a CertManager for opts.Domains.
func NewCertManager(opts Options, logger *slog.Logger) *CertManager {
	certmagic.DefaultACME.Email = opts.Email
	certmagic.DefaultACME.Agreed = true
	if !opts.Production {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if opts.CertDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: opts.CertDir}
	}

	cm := &CertManager{domains: make(map[string]struct{}), logger: logger}
	for _, d := range opts.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, dup := cm.domains[d]; !dup {
			cm.domains[d] = struct{}{}
			cm.list = append(cm.list, d)
		}
	}

	cfg := certmagic.NewDefault()
	cfg.OnDemand = &certmagic.OnDemandConfig{
		DecisionFunc: cm.allowCert,
	}
	cm.cfg = cfg
	return cm
}

// allowCert is the on-demand decision function: only configured domains get
// certificates.
func (cm *CertManager) allowCert(ctx context.Context, name string) error {
	if _, ok := cm.domains[strings.ToLower(name)]; !ok {
		return fmt.Errorf("unknown domain: %s", name)
	}
	return nil
}

// Domains returns the managed domain names.
func (cm *CertManager) Domains() []string {
	return append([]string(nil), cm.list...)
}

// Serve manages the configured domains, then serves handler over TLS on :443
// until ctx is cancelled.
func (cm *CertManager) Serve(ctx context.Context, handler http.Handler) error {
	cm.logger.Info("starting TLS server", "domains", cm.list)

	// Pre-manage known domains so their certs are ready immediately
	if len(cm.list) > 0 {
		if err := cm.cfg.ManageSync(ctx, cm.list); err != nil {
			return fmt.Errorf("manage domains: %w", err)
		}
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), cm.cfg.TLSConfig())
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	srv := &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
